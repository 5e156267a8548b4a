package base

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/types"
)

func sqliteDriver(t *testing.T, statements ...string) *Driver {
	t.Helper()
	driver := NewBase(constants.SQLite)
	config := types.DataSourceConfig{Type: constants.SQLite, Database: filepath.Join(t.TempDir(), "source.db")}
	require.NoError(t, driver.Setup(context.Background(), config))
	t.Cleanup(func() { driver.Close() })
	for _, statement := range statements {
		_, err := driver.Client.Exec(statement)
		require.NoError(t, err)
	}
	return driver
}

func seed(count int) []string {
	statements := []string{`CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL, note TEXT)`}
	for id := 1; id <= count; id++ {
		statements = append(statements, fmt.Sprintf(`INSERT INTO orders (id, amount, note) VALUES (%d, %d.5, 'n%d')`, id, id, id))
	}
	return statements
}

func drain(t *testing.T, reader abstract.Reader) []types.ChangeRecord {
	t.Helper()
	var records []types.ChangeRecord
	for {
		record, err := reader.Next(context.Background())
		if errors.Is(err, abstract.ErrEndOfStream) {
			return records
		}
		require.NoError(t, err)
		records = append(records, record)
	}
}

func ids(t *testing.T, records []types.ChangeRecord) []int64 {
	t.Helper()
	out := make([]int64, len(records))
	for i, record := range records {
		column, found := record.Column("id")
		require.True(t, found)
		out[i] = column.Value.(int64)
	}
	return out
}

func TestSnapshotReader_SplitCoversEveryRow(t *testing.T) {
	ctx := context.Background()
	driver := sqliteDriver(t, seed(25)...)
	table := types.ReaderConfig{Tables: []types.TableRule{{Source: "orders"}}, FetchSize: 4}

	reader, err := driver.NewSnapshotReader(table)
	require.NoError(t, err)
	slices, err := reader.Split(ctx, 3)
	require.NoError(t, err)
	require.Len(t, slices, 3)
	assert.Nil(t, slices[0].Range.Min, "outer bounds stay open")
	assert.Nil(t, slices[2].Range.Max, "outer bounds stay open")
	assert.Equal(t, []string{"id"}, slices[0].Tables[0].KeyColumns)

	seen := map[int64]int{}
	for _, slice := range slices {
		sliceReader, err := driver.NewSnapshotReader(slice)
		require.NoError(t, err)
		require.NoError(t, sliceReader.Open(ctx))
		records := drain(t, sliceReader)
		for _, record := range records {
			assert.Equal(t, types.Insert, record.Type)
			assert.Equal(t, "orders", record.Table)
			assert.Len(t, record.KeyColumns(), 1)
		}
		for _, id := range ids(t, records) {
			seen[id]++
		}
		require.NoError(t, sliceReader.Close())
	}

	require.Len(t, seen, 25)
	for id, count := range seen {
		assert.Equal(t, 1, count, "row %d read once", id)
	}
}

func TestSnapshotReader_ReopenResumesAfterLastRow(t *testing.T) {
	ctx := context.Background()
	driver := sqliteDriver(t, seed(10)...)
	reader, err := driver.NewSnapshotReader(types.ReaderConfig{Tables: []types.TableRule{{Source: "orders"}}, FetchSize: 3})
	require.NoError(t, err)
	require.NoError(t, reader.Open(ctx))

	var first []types.ChangeRecord
	for i := 0; i < 4; i++ {
		record, err := reader.Next(ctx)
		require.NoError(t, err)
		first = append(first, record)
	}

	// a failure drops the buffered page, the next Open continues past row 4
	require.NoError(t, reader.Open(ctx))
	rest := drain(t, reader)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(t, first))
	assert.Equal(t, []int64{5, 6, 7, 8, 9, 10}, ids(t, rest))

	column, _ := rest[0].Column("amount")
	assert.Equal(t, 5.5, column.Value)
}

func TestSnapshotReader_EdgeCases(t *testing.T) {
	ctx := context.Background()
	driver := sqliteDriver(t,
		`CREATE TABLE empty_orders (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE codes (code TEXT PRIMARY KEY, label TEXT)`,
		`INSERT INTO codes (code, label) VALUES ('b', 'B'), ('a', 'A')`,
		`CREATE TABLE keyless (label TEXT)`,
	)

	t.Run("empty table", func(t *testing.T) {
		reader, err := driver.NewSnapshotReader(types.ReaderConfig{Tables: []types.TableRule{{Source: "empty_orders"}}})
		require.NoError(t, err)
		slices, err := reader.Split(ctx, 4)
		require.NoError(t, err)
		assert.Len(t, slices, 1)

		require.NoError(t, reader.Open(ctx))
		assert.Empty(t, drain(t, reader))
	})

	t.Run("text key is not split", func(t *testing.T) {
		reader, err := driver.NewSnapshotReader(types.ReaderConfig{Tables: []types.TableRule{{Source: "codes"}}, FetchSize: 1})
		require.NoError(t, err)
		slices, err := reader.Split(ctx, 4)
		require.NoError(t, err)
		require.Len(t, slices, 1)
		assert.Equal(t, types.Chunk{}, *slices[0].Range)

		require.NoError(t, reader.Open(ctx))
		records := drain(t, reader)
		require.Len(t, records, 2)
		column, _ := records[0].Column("code")
		assert.Equal(t, "a", column.Value)
	})

	t.Run("table without key", func(t *testing.T) {
		reader, err := driver.NewSnapshotReader(types.ReaderConfig{Tables: []types.TableRule{{Source: "keyless"}}})
		require.NoError(t, err)
		err = reader.Open(ctx)
		require.ErrorIs(t, err, types.ErrSchemaMismatch)
		assert.True(t, types.IsFatal(err))
	})

	t.Run("not open", func(t *testing.T) {
		reader, err := driver.NewSnapshotReader(types.ReaderConfig{Tables: []types.TableRule{{Source: "codes"}}})
		require.NoError(t, err)
		_, err = reader.Next(ctx)
		assert.Error(t, err)
	})

	t.Run("one table per reader", func(t *testing.T) {
		_, err := driver.NewSnapshotReader(types.ReaderConfig{Tables: []types.TableRule{{Source: "codes"}, {Source: "keyless"}}})
		assert.Error(t, err)
	})
}
