package splitter

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// covered asserts chunks are n consecutive ranges from lower to upper+1
func covered(t *testing.T, chunks []types.Chunk, lower, upper int64, n int) {
	t.Helper()
	require.Len(t, chunks, n)
	assert.Equal(t, lower, chunks[0].Min)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].Max, chunks[i].Min, "chunk %d must start where %d ends", i, i-1)
		assert.LessOrEqual(t, chunks[i-1].Min.(int64), chunks[i-1].Max.(int64))
	}
	if upper == math.MaxInt64 {
		assert.Nil(t, chunks[n-1].Max)
	} else {
		assert.Equal(t, upper+1, chunks[n-1].Max)
	}
}

func TestPartition_CoversRangeExactly(t *testing.T) {
	tests := []struct {
		name         string
		lower, upper int64
		n            int
	}{
		{"even", 1, 100, 4},
		{"uneven", 0, 9, 3},
		{"more slices than keys", 5, 7, 10},
		{"single key", 42, 42, 3},
		{"negative", -1000, -1, 7},
		{"full int64 space", math.MinInt64, math.MaxInt64, 5},
		{"upper bound at max", math.MaxInt64 - 10, math.MaxInt64, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			covered(t, Partition(tt.lower, tt.upper, tt.n), tt.lower, tt.upper, tt.n)
		})
	}

	random := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		a, b := random.Int63n(1<<40)-1<<39, random.Int63n(1<<40)-1<<39
		lower, upper := min(a, b), max(a, b)
		n := 1 + random.Intn(64)
		covered(t, Partition(lower, upper, n), lower, upper, n)
	}
}

func TestPartition_EveryKeyInExactlyOneChunk(t *testing.T) {
	chunks := Partition(1, 199, 2)
	for key := int64(1); key <= 199; key++ {
		hits := 0
		for _, chunk := range chunks {
			if key >= chunk.Min.(int64) && key < chunk.Max.(int64) {
				hits++
			}
		}
		require.Equal(t, 1, hits, "key %d", key)
	}
	assert.Equal(t, int64(100), chunks[1].Min)
}

func TestSplitRange(t *testing.T) {
	chunks := SplitRange(int64(1), int64(200), 2)
	require.Len(t, chunks, 2)
	assert.Nil(t, chunks[0].Min)
	assert.Equal(t, int64(101), chunks[0].Max)
	assert.Equal(t, int64(101), chunks[1].Min)
	assert.Nil(t, chunks[1].Max)

	for name, bounds := range map[string][2]any{
		"text keys":   {"a", "z"},
		"empty table": {nil, nil},
		"binary keys": {[]byte{1}, []byte{9}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, []types.Chunk{{}}, SplitRange(bounds[0], bounds[1], 4))
		})
	}
	assert.Equal(t, []types.Chunk{{}}, SplitRange(int64(1), int64(9), 1))
}

func TestSplit(t *testing.T) {
	job := &types.JobConfig{
		JobID:  "job1",
		Source: types.DataSourceConfig{Type: constants.MySQL, Database: "shop"},
		Target: types.DataSourceConfig{Type: constants.SQLite, Database: "target.db"},
		Tables: []types.TableRule{
			{Source: "orders", KeyColumns: []string{"id"}},
			{Source: "customers"},
		},
		Concurrency: 2,
	}
	job.SetDefaults()

	var requested []int
	source := &testutils.MockDriver{
		NewSnapshotReaderFunc: func(config types.ReaderConfig) (abstract.SnapshotReader, error) {
			return &testutils.MockReader{
				SplitFunc: func(_ context.Context, n int) ([]types.ReaderConfig, error) {
					requested = append(requested, n)
					if config.Table().Source == "customers" {
						return []types.ReaderConfig{config}, nil
					}
					configs := make([]types.ReaderConfig, n)
					for i, chunk := range Partition(1, 200, n) {
						configs[i] = config
						configs[i].Range = &chunk
					}
					return configs, nil
				},
			}, nil
		},
	}

	slices, err := Split(context.Background(), job, source)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, requested)
	require.Len(t, slices, 3)

	ids := map[string]bool{}
	for _, slice := range slices {
		assert.Equal(t, types.HistorySlice, slice.Kind)
		assert.Equal(t, job.WriterConcurrency, slice.Concurrency)
		assert.Equal(t, job.Target, slice.Writer.DataSource)
		assert.Nil(t, slice.Checkpoint)
		ids[slice.TaskID] = true
	}
	assert.Len(t, ids, 3, "task ids are unique")
	assert.Equal(t, "job1/history/orders/1", slices[1].TaskID)
	assert.Equal(t, int64(101), slices[1].Reader.Range.Min)
}

func TestRealtime(t *testing.T) {
	job := &types.JobConfig{JobID: "job1", Tables: []types.TableRule{{Source: "orders"}}}
	job.SetDefaults()
	checkpoint := &types.Checkpoint{File: "binlog.000002", Offset: 4}

	config := Realtime(job, checkpoint)
	checkpoint.Offset = 99

	assert.Equal(t, types.Realtime, config.Kind)
	assert.Equal(t, "job1/realtime", config.TaskID)
	assert.Equal(t, uint64(4), config.Reader.Checkpoint.Offset, "the configuration owns its checkpoint")
	assert.Equal(t, job.Tables, config.Reader.Tables)
}

func TestSliceStatesRestore(t *testing.T) {
	job := &types.JobConfig{
		JobID:  "job",
		Source: types.DataSourceConfig{Type: constants.SQLite, Database: "src.db"},
		Target: types.DataSourceConfig{Type: constants.SQLite, Database: "dst.db"},
		Tables: []types.TableRule{{Source: "orders", Target: "orders_v2"}},
	}
	job.SetDefaults()

	slices := []types.SyncConfiguration{
		{TaskID: HistoryTaskID("job", "orders", 0), Reader: types.ReaderConfig{Tables: job.Tables, Range: &types.Chunk{Max: int64(50)}}},
		{TaskID: HistoryTaskID("job", "orders", 1), Reader: types.ReaderConfig{Tables: job.Tables, Range: &types.Chunk{Min: int64(50)}}},
	}
	states := SliceStates(slices)
	require.Len(t, states, 2)
	assert.Equal(t, types.SlicePending, states[0].Status)
	assert.Equal(t, "orders", states[1].Table)

	restored, err := Restore(job, []types.SliceState{*states[1]})
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, "job/history/orders/1", restored[0].TaskID)
	assert.Equal(t, types.HistorySlice, restored[0].Kind)
	assert.Equal(t, &types.Chunk{Min: int64(50)}, restored[0].Reader.Range)
	assert.Equal(t, "orders_v2", restored[0].Reader.Table().TargetTable())
	assert.Equal(t, job.BatchSize, restored[0].Reader.FetchSize)

	_, err = Restore(job, []types.SliceState{{TaskID: "x", Table: "missing"}})
	assert.Error(t, err)
}
