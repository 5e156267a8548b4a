package merger

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-scaling/types"
)

const table = "orders"

func insert(id int64, status string) types.ChangeRecord {
	return types.ChangeRecord{
		Type:  types.Insert,
		Table: table,
		Columns: []types.Column{
			{Name: "id", Value: id, IsKey: true},
			{Name: "status", Value: status},
		},
	}
}

func update(oldID, id int64, oldStatus, status string) types.ChangeRecord {
	return types.ChangeRecord{
		Type:  types.Update,
		Table: table,
		Columns: []types.Column{
			{Name: "id", Value: id, OldValue: oldID, IsKey: true, Changed: oldID != id},
			{Name: "status", Value: status, OldValue: oldStatus, Changed: oldStatus != status},
		},
	}
}

func remove(id int64, status string) types.ChangeRecord {
	record := insert(id, status)
	record.Type = types.Delete
	return record
}

func describe(batches []*types.GroupedRecordBatch) [][]string {
	out := make([][]string, 0, len(batches))
	for _, batch := range batches {
		lines := []string{}
		for _, record := range batch.Records() {
			id, _ := record.Column("id")
			status, _ := record.Column("status")
			line := fmt.Sprintf("%s id=%v status=%v", record.Type, id.Value, status.Value)
			if id.Changed {
				line += fmt.Sprintf(" from=%v", id.OldValue)
			}
			lines = append(lines, line)
		}
		out = append(out, lines)
	}
	return out
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		records  []types.ChangeRecord
		expected [][]string
		fatal    bool
	}{
		{
			name:     "insert then update stays insert",
			records:  []types.ChangeRecord{insert(2, "b"), update(2, 2, "b", "c")},
			expected: [][]string{{"INSERT id=2 status=c"}},
		},
		{
			name:     "insert then delete nets to delete",
			records:  []types.ChangeRecord{insert(2, "b"), remove(2, "b")},
			expected: [][]string{{"DELETE id=2 status=b"}},
		},
		{
			name:     "update chain keeps newest value",
			records:  []types.ChangeRecord{update(1, 1, "a", "b"), update(1, 1, "b", "c")},
			expected: [][]string{{"UPDATE id=1 status=c"}},
		},
		{
			name:     "update then delete",
			records:  []types.ChangeRecord{update(1, 1, "a", "b"), remove(1, "b")},
			expected: [][]string{{"DELETE id=1 status=b"}},
		},
		{
			name:     "delete then insert becomes insert",
			records:  []types.ChangeRecord{remove(1, "a"), insert(1, "z")},
			expected: [][]string{{"INSERT id=1 status=z"}},
		},
		{
			name:     "key change then update keeps original key",
			records:  []types.ChangeRecord{update(1, 10, "a", "a"), update(10, 10, "a", "b")},
			expected: [][]string{{"UPDATE id=10 status=b from=1"}},
		},
		{
			name:     "key change then delete targets original key",
			records:  []types.ChangeRecord{update(1, 10, "a", "a"), remove(10, "a")},
			expected: [][]string{{"DELETE id=1 status=a"}},
		},
		{
			name:     "apply order is insert update delete",
			records:  []types.ChangeRecord{remove(3, "x"), update(1, 1, "a", "b"), insert(4, "d")},
			expected: [][]string{{"INSERT id=4 status=d", "UPDATE id=1 status=b", "DELETE id=3 status=x"}},
		},
		{
			name:     "insert onto key being moved splits window",
			records:  []types.ChangeRecord{update(1, 10, "a", "a"), insert(1, "n")},
			expected: [][]string{{"UPDATE id=10 status=a from=1"}, {"INSERT id=1 status=n"}},
		},
		{
			name:     "key change onto pending delete splits window",
			records:  []types.ChangeRecord{remove(5, "x"), update(1, 5, "a", "a")},
			expected: [][]string{{"DELETE id=5 status=x"}, {"UPDATE id=5 status=a from=1"}},
		},
		{
			name:     "moved row touched after its old key is reused",
			records:  []types.ChangeRecord{update(1, 10, "a", "a"), update(2, 1, "b", "b"), update(10, 10, "a", "z")},
			expected: [][]string{{"UPDATE id=10 status=a from=1", "UPDATE id=1 status=b from=2"}, {"UPDATE id=10 status=z"}},
		},
		{
			name:     "finished records are ignored",
			records:  []types.ChangeRecord{insert(1, "a"), types.NewFinishedRecord()},
			expected: [][]string{{"INSERT id=1 status=a"}},
		},
		{
			name:     "empty window",
			records:  nil,
			expected: [][]string{{}},
		},
		{name: "insert after insert", records: []types.ChangeRecord{insert(1, "a"), insert(1, "b")}, fatal: true},
		{name: "insert after update", records: []types.ChangeRecord{update(1, 1, "a", "b"), insert(1, "c")}, fatal: true},
		{name: "update after delete", records: []types.ChangeRecord{remove(1, "a"), update(1, 1, "a", "b")}, fatal: true},
		{name: "delete after delete", records: []types.ChangeRecord{remove(1, "a"), remove(1, "a")}, fatal: true},
		{name: "two key changes", records: []types.ChangeRecord{update(1, 2, "a", "a"), update(2, 3, "a", "a")}, fatal: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			batches, err := Merge(tc.records)
			if tc.fatal {
				require.Error(t, err)
				assert.ErrorIs(t, err, types.ErrOrderingViolation)
				assert.True(t, types.IsFatal(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, describe(batches))
		})
	}
}

func TestMerge_KeepsOldestPreviousValue(t *testing.T) {
	batches, err := Merge([]types.ChangeRecord{
		update(1, 1, "a", "b"),
		update(1, 1, "b", "c"),
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)

	records := batches[0].Records()
	require.Len(t, records, 1)
	status, _ := records[0].Column("status")
	assert.Equal(t, "c", status.Value)
	assert.Equal(t, "a", status.OldValue)
	assert.True(t, status.Changed)
}

func TestMerge_RecordWithoutKey(t *testing.T) {
	record := types.ChangeRecord{Type: types.Insert, Table: table, Columns: []types.Column{{Name: "status", Value: "a"}}}
	_, err := Merge([]types.ChangeRecord{record})
	assert.ErrorIs(t, err, types.ErrSchemaMismatch)
}

func TestMerge_TablesKeptApart(t *testing.T) {
	other := insert(1, "a")
	other.Table = "customers"

	batches, err := Merge([]types.ChangeRecord{insert(1, "a"), other})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Tables, 2)
	assert.Equal(t, table, batches[0].Tables[0].Table)
	assert.Equal(t, "customers", batches[0].Tables[1].Table)
}

// target is an in-memory table applying records the way the importer does
type target map[int64]string

func (tg target) apply(records []types.ChangeRecord) {
	for _, record := range records {
		status, _ := record.Column("status")
		switch record.Type {
		case types.Insert:
			tg[record.KeyValues()["id"].(int64)] = status.Value.(string)
		case types.Update:
			delete(tg, record.OldKeyValues()["id"].(int64))
			tg[record.KeyValues()["id"].(int64)] = status.Value.(string)
		case types.Delete:
			delete(tg, record.KeyValues()["id"].(int64))
		}
	}
}

func (tg target) copy() target {
	out := target{}
	for k, v := range tg {
		out[k] = v
	}
	return out
}

// generate produces a legal change stream where every row changes its key at
// most once
func generate(seed int64, initial target, count int) ([]types.ChangeRecord, target) {
	rnd := rand.New(rand.NewSource(seed))
	source := initial.copy()
	moved := map[int64]bool{}

	existing := func() []int64 {
		keys := make([]int64, 0, len(source))
		for k := range source {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		return keys
	}
	free := func() int64 {
		for {
			id := int64(rnd.Intn(40) + 1)
			if _, ok := source[id]; !ok {
				return id
			}
		}
	}

	records := make([]types.ChangeRecord, 0, count)
	for i := 0; i < count; i++ {
		keys := existing()
		status := fmt.Sprintf("v%d", i)
		op := rnd.Intn(4)
		if len(keys) == 0 {
			op = 0
		}

		switch op {
		case 0:
			id := free()
			source[id] = status
			delete(moved, id)
			records = append(records, insert(id, status))
		case 1:
			id := keys[rnd.Intn(len(keys))]
			records = append(records, update(id, id, source[id], status))
			source[id] = status
		case 2:
			id := keys[rnd.Intn(len(keys))]
			if moved[id] {
				records = append(records, update(id, id, source[id], status))
				source[id] = status
				continue
			}
			next := free()
			records = append(records, update(id, next, source[id], status))
			delete(source, id)
			delete(moved, id)
			source[next] = status
			moved[next] = true
		case 3:
			id := keys[rnd.Intn(len(keys))]
			records = append(records, remove(id, source[id]))
			delete(source, id)
			delete(moved, id)
		}
	}
	return records, source
}

func TestMerge_ConvergesRegardlessOfWindowSize(t *testing.T) {
	initial := target{}
	for id := int64(1); id <= 10; id++ {
		initial[id] = "init"
	}

	for seed := int64(1); seed <= 20; seed++ {
		records, expected := generate(seed, initial, 400)

		for _, window := range []int{1, 2, 5, 17, 64, 400} {
			t.Run(fmt.Sprintf("seed_%d_window_%d", seed, window), func(t *testing.T) {
				actual := initial.copy()
				for start := 0; start < len(records); start += window {
					end := min(start+window, len(records))
					batches, err := Merge(records[start:end])
					require.NoError(t, err)
					for _, batch := range batches {
						actual.apply(batch.Records())
					}
				}
				assert.Equal(t, expected, actual)
			})
		}
	}
}

func TestMerge_Idempotent(t *testing.T) {
	initial := target{1: "a", 2: "b", 3: "c"}
	records, _ := generate(42, initial, 300)

	for start := 0; start < len(records); start += 25 {
		end := min(start+25, len(records))
		batches, err := Merge(records[start:end])
		require.NoError(t, err)

		for _, batch := range batches {
			again, err := Merge(batch.Records())
			require.NoError(t, err)
			require.Len(t, again, 1)
			assert.Equal(t, batch.Records(), again[0].Records())
		}
	}
}

func TestMerge_InsertThenDeleteLeavesNoRow(t *testing.T) {
	tg := target{1: "a"}
	batches, err := Merge([]types.ChangeRecord{insert(2, "b"), remove(2, "b")})
	require.NoError(t, err)
	for _, batch := range batches {
		tg.apply(batch.Records())
	}
	assert.Equal(t, target{1: "a"}, tg)
}
