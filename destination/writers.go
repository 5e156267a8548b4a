package destination

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/jmoiron/sqlx"
)

const DestError = "destination error"

// WriterPool owns the target connection pool of one executor and hands out
// one importer per writer loop.
type WriterPool struct {
	config        types.WriterConfig
	client        *sqlx.DB
	init          NewFunc
	recordCount   atomic.Int64
	batchCount    atomic.Int64
	ThreadCounter atomic.Int64 // numbers importer threads
}

// NewWriter connects to the target and prepares a pool for the given writer config
func NewWriter(ctx context.Context, config types.WriterConfig, init NewFunc) (*WriterPool, error) {
	if init == nil {
		return nil, fmt.Errorf("invalid destination type has been passed [%s]", config.DataSource.Type)
	}

	client, err := jdbc.Connect(ctx, config.DataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to test destination: %s", err)
	}
	return NewWriterWithClient(client, config, init), nil
}

// NewWriterWithClient builds a pool on an already opened connection
func NewWriterWithClient(client *sqlx.DB, config types.WriterConfig, init NewFunc) *WriterPool {
	return &WriterPool{
		config: config,
		client: client,
		init:   init,
	}
}

// ThreadEvent is the writing side of one writer loop
type ThreadEvent struct {
	*WriterPool
	number   int64
	importer Importer
}

// NewThread initializes a dedicated importer for a writer loop
func (w *WriterPool) NewThread() *ThreadEvent {
	return &ThreadEvent{
		WriterPool: w,
		number:     w.ThreadCounter.Add(1),
		importer:   w.init(w.client, w.config),
	}
}

func (t *ThreadEvent) Write(ctx context.Context, batch *types.GroupedRecordBatch) error {
	if err := t.importer.Apply(ctx, batch); err != nil {
		return fmt.Errorf("%s: thread[%d] failed to apply batch: %w", DestError, t.number, err)
	}
	t.recordCount.Add(int64(batch.Len()))
	t.batchCount.Add(1)
	return nil
}

func (t *ThreadEvent) Close() error {
	return t.importer.Close()
}

// SyncedRecords returns the number of net records applied so far
func (w *WriterPool) SyncedRecords() int64 {
	return w.recordCount.Load()
}

// SyncedBatches returns the number of committed batches
func (w *WriterPool) SyncedBatches() int64 {
	return w.batchCount.Load()
}

func (w *WriterPool) Close() error {
	return w.client.Close()
}
