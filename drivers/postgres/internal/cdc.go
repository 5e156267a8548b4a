package driver

import (
	"context"
	"fmt"

	"github.com/datazip-inc/olake-scaling/drivers/base"
	"github.com/datazip-inc/olake-scaling/pkg/waljs"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

// cdcReader streams the pgoutput changes of the configured tables through a
// logical replication slot
type cdcReader struct {
	driver *Postgres
	config types.ReaderConfig
	guard  base.ReplayGuard
	conn   *waljs.Connection
}

func (r *cdcReader) Open(ctx context.Context) error {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}

	tables, err := r.tables(ctx)
	if err != nil {
		return err
	}

	start := r.guard.Start(r.config.Checkpoint)
	if start == nil {
		if start, err = r.MarkPosition(ctx); err != nil {
			return err
		}
	}

	connString, err := replicationConnString(r.driver.Config)
	if err != nil {
		return err
	}
	config := waljs.Config{
		ConnString:      connString,
		ReplicationSlot: slotName(r.driver.Config),
		Publication:     publicationName(r.driver.Config),
	}
	conn, err := waljs.NewConnection(ctx, config, waljs.FromCheckpoint(*start), waljs.NewChangeFilter(tables...))
	if err != nil {
		return err
	}
	logger.Infof("wal reader of %d tables starting at %s", len(tables), start)
	r.conn = conn
	return nil
}

func (r *cdcReader) tables(ctx context.Context) ([]waljs.TableInfo, error) {
	tables := make([]waljs.TableInfo, 0, len(r.config.Tables))
	for _, rule := range r.config.Tables {
		schema, name := types.SplitTableName(rule.Source)
		if schema == "" {
			schema = defaultSchema
		}
		keys, err := r.driver.ResolveKeys(ctx, rule)
		if err != nil {
			return nil, err
		}
		tables = append(tables, waljs.TableInfo{Rule: rule, Schema: schema, Table: name, Keys: keys})
	}
	return tables, nil
}

func (r *cdcReader) Next(ctx context.Context) (types.ChangeRecord, error) {
	if r.conn == nil {
		return types.ChangeRecord{}, fmt.Errorf("wal reader is not open")
	}
	for {
		record, err := r.conn.Next(ctx)
		if err != nil {
			return types.ChangeRecord{}, err
		}
		if r.guard.Admit(record) {
			return record, nil
		}
	}
}

// MarkPosition makes sure the publication and the slot exist before reading
// the current LSN, so nothing written after the returned position is recycled.
func (r *cdcReader) MarkPosition(ctx context.Context) (*types.Checkpoint, error) {
	client := r.driver.Client
	sources := make([]string, len(r.config.Tables))
	for i, rule := range r.config.Tables {
		sources[i] = rule.Source
	}
	if err := waljs.EnsurePublication(ctx, client, publicationName(r.driver.Config), sources); err != nil {
		return nil, err
	}
	if _, err := waljs.EnsureSlot(ctx, client, slotName(r.driver.Config)); err != nil {
		return nil, err
	}
	return r.SourcePosition(ctx)
}

func (r *cdcReader) SourcePosition(ctx context.Context) (*types.Checkpoint, error) {
	lsn, err := waljs.CurrentLSN(ctx, r.driver.Client)
	if err != nil {
		return nil, err
	}
	checkpoint := waljs.ToCheckpoint(lsn)
	return &checkpoint, nil
}

// Acknowledge lets the slot release WAL before the applied position
func (r *cdcReader) Acknowledge(_ context.Context, checkpoint types.Checkpoint) error {
	if r.conn == nil {
		return nil
	}
	r.conn.Acknowledge(waljs.FromCheckpoint(checkpoint))
	return nil
}

func (r *cdcReader) Close() error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
