package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/destination"
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/drivers/sqlite"
	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/testutils"
)

func sqliteSource(t *testing.T, name string) types.DataSourceConfig {
	t.Helper()
	return types.DataSourceConfig{Type: constants.SQLite, Database: filepath.Join(t.TempDir(), name)}
}

func openTarget(t *testing.T) (*sqlx.DB, *destination.WriterPool, types.WriterConfig) {
	t.Helper()
	config := types.WriterConfig{
		DataSource:   sqliteSource(t, "target.db"),
		Tables:       []types.TableRule{{Source: "users"}},
		BatchSize:    50,
		FetchTimeout: 50 * time.Millisecond,
		RetryCount:   2,
	}
	client, err := jdbc.Connect(context.Background(), config.DataSource)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	_, err = client.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, status TEXT)`)
	require.NoError(t, err)
	return client, destination.NewWriterWithClient(client, config, destination.NewJDBCImporter), config
}

func targetRows(t *testing.T, client *sqlx.DB) map[int64]string {
	t.Helper()
	rows := []struct {
		ID     int64  `db:"id"`
		Status string `db:"status"`
	}{}
	require.NoError(t, client.Select(&rows, `SELECT id, status FROM users ORDER BY id`))
	out := make(map[int64]string, len(rows))
	for _, r := range rows {
		out[r.ID] = r.Status
	}
	return out
}

func change(changeType types.ChangeType, id int64, status string, offset uint64) types.ChangeRecord {
	record := types.ChangeRecord{
		Type:  changeType,
		Table: "users",
		Columns: []types.Column{
			{Name: "id", Value: id, IsKey: true},
			{Name: "status", Value: status, Changed: changeType == types.Update},
		},
	}
	if offset > 0 {
		record.Position = &types.Checkpoint{File: "binlog.000001", Offset: offset}
	}
	return record
}

func waitEvent(t *testing.T, events <-chan types.Event, kind types.EventKind) types.Event {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Kind == kind {
				return event
			}
		case <-timeout:
			t.Fatalf("no %s event received", kind)
		}
	}
}

func TestExecutor_HistorySlicesImportEveryRow(t *testing.T) {
	ctx := context.Background()
	sourceConfig := sqliteSource(t, "source.db")
	source := sqlite.New()
	require.NoError(t, source.Setup(ctx, sourceConfig))
	defer source.Close()

	client, pool, writerConfig := openTarget(t)

	seed, err := jdbc.Connect(ctx, sourceConfig)
	require.NoError(t, err)
	_, err = seed.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, status TEXT)`)
	require.NoError(t, err)
	for id := 0; id < 200; id++ {
		_, err := seed.Exec(`INSERT INTO users (id, status) VALUES (?, ?)`, id, fmt.Sprintf("s%d", id))
		require.NoError(t, err)
	}
	require.NoError(t, seed.Close())

	events := make(chan types.Event, 10)
	var executors []*Executor
	for i, chunk := range []types.Chunk{{Max: int64(100)}, {Min: int64(100)}} {
		config := types.SyncConfiguration{
			TaskID:          fmt.Sprintf("slice-%d", i),
			Kind:            types.HistorySlice,
			Concurrency:     2,
			ChannelCapacity: 16,
			Reader: types.ReaderConfig{
				DataSource: sourceConfig,
				Tables:     []types.TableRule{{Source: "users"}},
				Range:      &chunk,
				FetchSize:  7,
			},
			Writer: writerConfig,
		}
		executor := New(config, source, pool, events)
		require.NoError(t, executor.Start(ctx))
		executors = append(executors, executor)
	}

	finished := map[string]bool{}
	for range executors {
		event := waitEvent(t, events, types.EventFinished)
		finished[event.TaskID] = true
	}
	assert.Equal(t, map[string]bool{"slice-0": true, "slice-1": true}, finished)

	var applied int64
	for _, executor := range executors {
		require.NoError(t, executor.Wait())
		assert.Equal(t, Finished, executor.State())
		applied += executor.Records()
	}
	assert.Equal(t, int64(200), applied)
	assert.Equal(t, int64(200), pool.SyncedRecords())

	rows := targetRows(t, client)
	require.Len(t, rows, 200)
	assert.Equal(t, "s0", rows[0])
	assert.Equal(t, "s199", rows[199])
}

func TestExecutor_InsertThenDeleteLeavesNoRow(t *testing.T) {
	client, pool, writerConfig := openTarget(t)
	reader := &testutils.MockReader{Records: []types.ChangeRecord{
		change(types.Insert, 5, "new", 0),
		change(types.Delete, 5, "new", 0),
	}}
	source := &testutils.MockDriver{NewSnapshotReaderFunc: func(types.ReaderConfig) (abstract.SnapshotReader, error) {
		return reader, nil
	}}

	events := make(chan types.Event, 4)
	executor := New(types.SyncConfiguration{TaskID: "c", Kind: types.HistorySlice, ChannelCapacity: 8, Writer: writerConfig}, source, pool, events)
	require.NoError(t, executor.Start(context.Background()))
	require.NoError(t, executor.Wait())

	assert.Equal(t, Finished, executor.State())
	assert.Empty(t, targetRows(t, client))
	assert.True(t, reader.Closed())
}

func TestExecutor_RealtimeAppliesAndAcknowledges(t *testing.T) {
	client, pool, writerConfig := openTarget(t)
	reader := &testutils.MockReader{
		Endless: true,
		Records: []types.ChangeRecord{
			change(types.Insert, 2, "b", 10),
			change(types.Update, 2, "c", 20),
			change(types.Insert, 3, "x", 30),
		},
	}
	source := &testutils.MockDriver{NewCDCReaderFunc: func(types.ReaderConfig) (abstract.CDCReader, error) {
		return reader, nil
	}}

	start := &types.Checkpoint{File: "binlog.000001", Offset: 4}
	config := types.SyncConfiguration{
		TaskID:          "realtime",
		Kind:            types.Realtime,
		Concurrency:     2,
		ChannelCapacity: 8,
		Writer:          writerConfig,
		Checkpoint:      start,
	}
	events := make(chan types.Event, 16)
	executor := New(config, source, pool, events)
	require.NoError(t, executor.Start(context.Background()))
	assert.Equal(t, Running, executor.State())

	assert.Eventually(t, func() bool {
		cp := executor.Checkpoint()
		return cp != nil && cp.Offset == 30
	}, 10*time.Second, 10*time.Millisecond)
	waitEvent(t, events, types.EventCheckpointAdvanced)

	executor.Stop()
	assert.Equal(t, Stopped, executor.State())
	assert.NoError(t, executor.Err())
	assert.Equal(t, map[int64]string{2: "c", 3: "x"}, targetRows(t, client))
	assert.NotEmpty(t, reader.Acknowledged())
	assert.Equal(t, uint64(30), reader.Acknowledged()[len(reader.Acknowledged())-1].Offset)

	select {
	case event := <-events:
		assert.NotEqual(t, types.EventFinished, event.Kind, "a stopped executor reports no terminal event")
	default:
	}
}

func TestExecutor_OrderingViolationFails(t *testing.T) {
	_, pool, writerConfig := openTarget(t)
	source := &testutils.MockDriver{NewSnapshotReaderFunc: func(types.ReaderConfig) (abstract.SnapshotReader, error) {
		return &testutils.MockReader{Records: []types.ChangeRecord{
			change(types.Insert, 1, "a", 0),
			change(types.Insert, 1, "b", 0),
		}}, nil
	}}

	events := make(chan types.Event, 4)
	executor := New(types.SyncConfiguration{TaskID: "bad", Kind: types.HistorySlice, ChannelCapacity: 8, Writer: writerConfig}, source, pool, events)
	require.NoError(t, executor.Start(context.Background()))

	event := waitEvent(t, events, types.EventExceptionExit)
	assert.Equal(t, "bad", event.TaskID)
	assert.ErrorIs(t, event.Cause, types.ErrOrderingViolation)
	require.Error(t, executor.Wait())
	assert.Equal(t, Failed, executor.State())
}

func TestExecutor_ReaderRetryResumes(t *testing.T) {
	client, pool, writerConfig := openTarget(t)
	records := []types.ChangeRecord{
		change(types.Insert, 1, "a", 0),
		change(types.Insert, 2, "b", 0),
		change(types.Insert, 3, "c", 0),
	}
	var offset, calls atomic.Int32
	reader := &testutils.MockReader{}
	reader.NextFunc = func(context.Context) (types.ChangeRecord, error) {
		if calls.Add(1) == 3 {
			return types.ChangeRecord{}, errors.New("connection reset by peer")
		}
		idx := offset.Load()
		if int(idx) >= len(records) {
			return types.ChangeRecord{}, abstract.ErrEndOfStream
		}
		offset.Add(1)
		return records[idx], nil
	}
	source := &testutils.MockDriver{NewSnapshotReaderFunc: func(types.ReaderConfig) (abstract.SnapshotReader, error) {
		return reader, nil
	}}

	executor := New(types.SyncConfiguration{TaskID: "retry", Kind: types.HistorySlice, ChannelCapacity: 8, Writer: writerConfig}, source, pool, nil)
	executor.retryWait = time.Millisecond
	require.NoError(t, executor.Start(context.Background()))
	require.NoError(t, executor.Wait())

	assert.Equal(t, 2, reader.Opened())
	assert.Equal(t, map[int64]string{1: "a", 2: "b", 3: "c"}, targetRows(t, client))
}

func TestExecutor_FatalReaderErrorIsNotRetried(t *testing.T) {
	_, pool, writerConfig := openTarget(t)
	reader := &testutils.MockReader{NextFunc: func(context.Context) (types.ChangeRecord, error) {
		return types.ChangeRecord{}, fmt.Errorf("%w: column count mismatch", types.ErrSchemaMismatch)
	}}
	source := &testutils.MockDriver{NewSnapshotReaderFunc: func(types.ReaderConfig) (abstract.SnapshotReader, error) {
		return reader, nil
	}}

	executor := New(types.SyncConfiguration{TaskID: "schema", Kind: types.HistorySlice, Writer: writerConfig}, source, pool, nil)
	executor.retryWait = time.Millisecond
	require.NoError(t, executor.Start(context.Background()))

	err := executor.Wait()
	require.ErrorIs(t, err, types.ErrSchemaMismatch)
	assert.True(t, types.IsFatal(err))
	assert.Equal(t, 1, reader.Opened())
}

func TestExecutor_StartsOnce(t *testing.T) {
	_, pool, writerConfig := openTarget(t)
	executor := New(types.SyncConfiguration{TaskID: "once", Kind: types.HistorySlice, Writer: writerConfig}, &testutils.MockDriver{}, pool, nil)
	require.NoError(t, executor.Start(context.Background()))
	require.ErrorIs(t, executor.Start(context.Background()), constants.ErrExecutorClosed)
	require.NoError(t, executor.Wait())
}

func TestExecutor_ReaderCreationFailure(t *testing.T) {
	_, pool, writerConfig := openTarget(t)
	source := &testutils.MockDriver{NewCDCReaderFunc: func(types.ReaderConfig) (abstract.CDCReader, error) {
		return nil, constants.ErrUnsupported
	}}
	events := make(chan types.Event, 1)
	executor := New(types.SyncConfiguration{TaskID: "cdc", Kind: types.Realtime, Writer: writerConfig}, source, pool, events)
	require.NoError(t, executor.Start(context.Background()))

	event := waitEvent(t, events, types.EventExceptionExit)
	assert.ErrorIs(t, event.Cause, constants.ErrUnsupported)
	assert.Equal(t, Failed, executor.State())
	executor.Stop()
}
