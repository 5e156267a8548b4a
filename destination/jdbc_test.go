package destination

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/types"
)

func newTarget(t *testing.T, ddl ...string) (*sqlx.DB, types.WriterConfig) {
	t.Helper()
	config := types.WriterConfig{
		DataSource:       types.DataSourceConfig{Type: constants.SQLite, Database: filepath.Join(t.TempDir(), "target.db")},
		Tables:           []types.TableRule{{Source: "src_users", Target: "users"}},
		BatchSize:        100,
		StatementTimeout: 5 * time.Second,
		RetryCount:       2,
	}
	client, err := jdbc.Connect(context.Background(), config.DataSource)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	for _, stmt := range ddl {
		_, err := client.Exec(stmt)
		require.NoError(t, err)
	}
	return client, config
}

func row(changeType types.ChangeType, id int64, name string) types.ChangeRecord {
	return types.ChangeRecord{
		Type:  changeType,
		Table: "src_users",
		Columns: []types.Column{
			{Name: "id", Value: id, IsKey: true},
			{Name: "name", Value: name},
		},
	}
}

func moved(oldID, id int64, name string) types.ChangeRecord {
	return types.ChangeRecord{
		Type:  types.Update,
		Table: "src_users",
		Columns: []types.Column{
			{Name: "id", Value: id, OldValue: oldID, IsKey: true, Changed: true},
			{Name: "name", Value: name},
		},
	}
}

func batchOf(records ...types.ChangeRecord) *types.GroupedRecordBatch {
	batch := types.NewGroupedRecordBatch()
	for _, record := range records {
		batch.Add(record)
	}
	return batch
}

func contents(t *testing.T, client *sqlx.DB) map[int64]string {
	t.Helper()
	rows := []struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}{}
	require.NoError(t, client.Select(&rows, `SELECT id, name FROM users ORDER BY id`))
	out := map[int64]string{}
	for _, r := range rows {
		out[r.ID] = r.Name
	}
	return out
}

func TestJDBCImporter_Apply(t *testing.T) {
	client, config := newTarget(t, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	importer := NewJDBCImporter(client, config)
	defer importer.Close()
	ctx := context.Background()

	require.NoError(t, importer.Apply(ctx, batchOf(row(types.Insert, 1, "a"), row(types.Insert, 2, "b"), row(types.Insert, 3, "c"))))
	assert.Equal(t, map[int64]string{1: "a", 2: "b", 3: "c"}, contents(t, client))

	update := row(types.Update, 2, "bb")
	update.Columns[1].OldValue = "b"
	update.Columns[1].Changed = true
	changes := batchOf(update, moved(3, 30, "c"), row(types.Delete, 1, "a"))

	require.NoError(t, importer.Apply(ctx, changes))
	assert.Equal(t, map[int64]string{2: "bb", 30: "c"}, contents(t, client))

	// replaying an applied batch converges to the same rows
	require.NoError(t, importer.Apply(ctx, changes))
	assert.Equal(t, map[int64]string{2: "bb", 30: "c"}, contents(t, client))
}

func TestJDBCImporter_ReplayedInsertOverwrites(t *testing.T) {
	client, config := newTarget(t, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	importer := NewJDBCImporter(client, config)
	ctx := context.Background()

	require.NoError(t, importer.Apply(ctx, batchOf(row(types.Insert, 2, "b"))))
	require.NoError(t, importer.Apply(ctx, batchOf(row(types.Insert, 2, "c"))))
	assert.Equal(t, map[int64]string{2: "c"}, contents(t, client))
}

func TestJDBCImporter_KeyChangeOntoExistingRow(t *testing.T) {
	tests := []struct {
		name   string
		seed   []types.ChangeRecord
		replay []*types.GroupedRecordBatch
		want   map[int64]string
	}{
		{
			// source: update id 1 -> 2, then insert a new id 1, both copied by the snapshot
			name:   "old key reused",
			seed:   []types.ChangeRecord{row(types.Insert, 1, "n"), row(types.Insert, 2, "a")},
			replay: []*types.GroupedRecordBatch{batchOf(moved(1, 2, "a")), batchOf(row(types.Insert, 1, "n"))},
			want:   map[int64]string{1: "n", 2: "a"},
		},
		{
			// the slice holding id 1 was copied before the change, the one holding id 2 after it
			name:   "stale row at old key",
			seed:   []types.ChangeRecord{row(types.Insert, 1, "a"), row(types.Insert, 2, "a")},
			replay: []*types.GroupedRecordBatch{batchOf(moved(1, 2, "a"))},
			want:   map[int64]string{2: "a"},
		},
		{
			name:   "newer values at new key",
			seed:   []types.ChangeRecord{row(types.Insert, 2, "old")},
			replay: []*types.GroupedRecordBatch{batchOf(moved(1, 2, "a")), batchOf(moved(1, 2, "a"))},
			want:   map[int64]string{2: "a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, config := newTarget(t, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
			importer := NewJDBCImporter(client, config)
			ctx := context.Background()

			require.NoError(t, importer.Apply(ctx, batchOf(tt.seed...)))
			for _, batch := range tt.replay {
				require.NoError(t, importer.Apply(ctx, batch))
			}
			assert.Equal(t, tt.want, contents(t, client))
		})
	}
}

func TestJDBCImporter_DuplicateKeySwallowed(t *testing.T) {
	client, config := newTarget(t, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT UNIQUE)`)
	importer := NewJDBCImporter(client, config)
	ctx := context.Background()

	require.NoError(t, importer.Apply(ctx, batchOf(row(types.Insert, 1, "same"), row(types.Insert, 2, "same"))))
	assert.Equal(t, map[int64]string{1: "same"}, contents(t, client))
}

func TestJDBCImporter_FailedBatchRollsBack(t *testing.T) {
	client, config := newTarget(t, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	config.Tables = append(config.Tables, types.TableRule{Source: "missing"})
	importer := NewJDBCImporter(client, config)

	orphan := row(types.Insert, 9, "x")
	orphan.Table = "missing"
	err := importer.Apply(context.Background(), batchOf(row(types.Insert, 1, "a"), orphan))
	require.Error(t, err)
	assert.Empty(t, contents(t, client))
}

func TestJDBCImporter_MissingKey(t *testing.T) {
	client, config := newTarget(t, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	config.Tables = []types.TableRule{{Source: "src_users", Target: "users", KeyColumns: []string{"uid"}}}
	importer := NewJDBCImporter(client, config)

	err := importer.Apply(context.Background(), batchOf(row(types.Insert, 1, "a")))
	assert.ErrorIs(t, err, types.ErrSchemaMismatch)
	assert.True(t, types.IsFatal(err))
}

func TestJDBCImporter_StatementCache(t *testing.T) {
	client, config := newTarget(t, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	importer := NewJDBCImporter(client, config).(*JDBCImporter)

	require.NoError(t, importer.Apply(context.Background(), batchOf(row(types.Insert, 1, "a"), row(types.Insert, 2, "b"), row(types.Delete, 1, "a"))))
	assert.Len(t, importer.statements, 2)
}

func TestWriterPool_CountsRecords(t *testing.T) {
	client, config := newTarget(t, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	pool := NewWriterWithClient(client, config, NewJDBCImporter)

	first, second := pool.NewThread(), pool.NewThread()
	require.NoError(t, first.Write(context.Background(), batchOf(row(types.Insert, 1, "a"))))
	require.NoError(t, second.Write(context.Background(), batchOf(row(types.Insert, 2, "b"), row(types.Insert, 3, "c"))))

	assert.Equal(t, int64(3), pool.SyncedRecords())
	assert.Equal(t, int64(2), pool.SyncedBatches())
	assert.Equal(t, int64(2), pool.ThreadCounter.Load())
}
