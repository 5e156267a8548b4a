package waljs

import (
	"testing"
	"time"

	"github.com/datazip-inc/olake-scaling/types"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersFilter(t *testing.T) ChangeFilter {
	t.Helper()
	filter := NewChangeFilter(TableInfo{
		Rule:   types.TableRule{Source: "public.users"},
		Schema: "public",
		Table:  "users",
		Keys:   []string{"id"},
	})
	_, err := filter.FilterMessage(&pglogrepl.RelationMessage{
		RelationID:   7,
		Namespace:    "public",
		RelationName: "users",
		Columns: []*pglogrepl.RelationMessageColumn{
			{Name: "id", DataType: pgtype.Int4OID, Flags: 1},
			{Name: "name", DataType: pgtype.TextOID},
			{Name: "bio", DataType: pgtype.TextOID},
		},
	})
	require.NoError(t, err)
	return filter
}

func tuple(values ...any) *pglogrepl.TupleData {
	data := &pglogrepl.TupleData{}
	for _, value := range values {
		switch v := value.(type) {
		case nil:
			data.Columns = append(data.Columns, &pglogrepl.TupleDataColumn{DataType: tupleNull})
		case rune:
			data.Columns = append(data.Columns, &pglogrepl.TupleDataColumn{DataType: uint8(v)})
		case string:
			data.Columns = append(data.Columns, &pglogrepl.TupleDataColumn{DataType: 't', Data: []byte(v)})
		}
	}
	data.ColumnNum = uint16(len(data.Columns))
	return data
}

func TestFilterMessage(t *testing.T) {
	t.Run("insert", func(t *testing.T) {
		record, err := usersFilter(t).FilterMessage(&pglogrepl.InsertMessage{RelationID: 7, Tuple: tuple("1", "ann", nil)})
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, types.Insert, record.Type)
		assert.Equal(t, "public.users", record.Table)
		assert.Equal(t, map[string]any{"id": int64(1)}, record.KeyValues())
		bio, _ := record.Column("bio")
		assert.Nil(t, bio.Value)
	})

	t.Run("update without old image", func(t *testing.T) {
		record, err := usersFilter(t).FilterMessage(&pglogrepl.UpdateMessage{RelationID: 7, NewTuple: tuple("1", "bob", 'u')})
		require.NoError(t, err)
		assert.False(t, record.KeyChanged())
		name, _ := record.Column("name")
		assert.True(t, name.Changed)
		_, ok := record.Column("bio")
		assert.False(t, ok, "unchanged toast values are left out")
	})

	t.Run("update moving the key", func(t *testing.T) {
		record, err := usersFilter(t).FilterMessage(&pglogrepl.UpdateMessage{
			RelationID:   7,
			OldTupleType: oldTupleKey,
			OldTuple:     tuple("1", nil, nil),
			NewTuple:     tuple("9", "ann", "x"),
		})
		require.NoError(t, err)
		assert.True(t, record.KeyChanged())
		assert.Equal(t, map[string]any{"id": int64(1)}, record.OldKeyValues())
		assert.Equal(t, map[string]any{"id": int64(9)}, record.KeyValues())
	})

	t.Run("update with full old image", func(t *testing.T) {
		record, err := usersFilter(t).FilterMessage(&pglogrepl.UpdateMessage{
			RelationID:   7,
			OldTupleType: 'O',
			OldTuple:     tuple("1", "ann", "x"),
			NewTuple:     tuple("1", "ann", "y"),
		})
		require.NoError(t, err)
		name, _ := record.Column("name")
		assert.False(t, name.Changed)
		bio, _ := record.Column("bio")
		assert.True(t, bio.Changed)
		assert.Equal(t, "x", bio.OldValue)
	})

	t.Run("delete with key identity", func(t *testing.T) {
		record, err := usersFilter(t).FilterMessage(&pglogrepl.DeleteMessage{RelationID: 7, OldTupleType: oldTupleKey, OldTuple: tuple("3", nil, nil)})
		require.NoError(t, err)
		assert.Equal(t, types.Delete, record.Type)
		assert.Len(t, record.Columns, 1)
	})

	t.Run("uncaptured relation", func(t *testing.T) {
		filter := usersFilter(t)
		_, err := filter.FilterMessage(&pglogrepl.RelationMessage{RelationID: 8, Namespace: "public", RelationName: "audit"})
		require.NoError(t, err)
		record, err := filter.FilterMessage(&pglogrepl.InsertMessage{RelationID: 8, Tuple: tuple()})
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("unknown relation", func(t *testing.T) {
		_, err := usersFilter(t).FilterMessage(&pglogrepl.InsertMessage{RelationID: 99, Tuple: tuple("1")})
		assert.Error(t, err)
	})

	t.Run("column count mismatch", func(t *testing.T) {
		_, err := usersFilter(t).FilterMessage(&pglogrepl.InsertMessage{RelationID: 7, Tuple: tuple("1", "ann")})
		require.ErrorIs(t, err, types.ErrSchemaMismatch)
	})
}

func TestDecoder(t *testing.T) {
	decoder := NewDecoder()
	tests := []struct {
		name     string
		data     string
		oid      uint32
		expected any
	}{
		{"int4", "42", pgtype.Int4OID, int64(42)},
		{"int8", "-7", pgtype.Int8OID, int64(-7)},
		{"bool", "t", pgtype.BoolOID, true},
		{"float8", "1.5", pgtype.Float8OID, 1.5},
		{"numeric kept as text", "10.25", pgtype.NumericOID, "10.25"},
		{"uuid kept as text", "1b4e28ba-2fa1-11d2-883f-0016d3cca427", pgtype.UUIDOID, "1b4e28ba-2fa1-11d2-883f-0016d3cca427"},
		{"timestamptz", "2024-03-01 10:00:00+02", pgtype.TimestamptzOID, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := decoder.Decode([]byte(tt.data), tt.oid)
			require.NoError(t, err)
			if expected, ok := tt.expected.(time.Time); ok {
				require.IsType(t, time.Time{}, value)
				assert.True(t, expected.Equal(value.(time.Time)))
				return
			}
			assert.Equal(t, tt.expected, value)
		})
	}
}

func TestConnectionTracksTransactionStart(t *testing.T) {
	conn := &Connection{filter: usersFilter(t), txStart: 100}

	require.NoError(t, conn.apply(&pglogrepl.BeginMessage{FinalLSN: 180}))
	require.NoError(t, conn.apply(&pglogrepl.InsertMessage{RelationID: 7, Tuple: tuple("1", "ann", nil)}))
	require.NoError(t, conn.apply(&pglogrepl.CommitMessage{CommitLSN: 180, TransactionEndLSN: 200}))
	require.NoError(t, conn.apply(&pglogrepl.InsertMessage{RelationID: 7, Tuple: tuple("2", "bob", nil)}))

	require.Len(t, conn.pending, 2)
	assert.Equal(t, types.Checkpoint{Offset: 100}, *conn.pending[0].Position)
	assert.Equal(t, types.Checkpoint{Offset: 200}, *conn.pending[1].Position)
	assert.Equal(t, pglogrepl.LSN(200), conn.Position())

	conn.Acknowledge(150)
	conn.Acknowledge(120)
	assert.Equal(t, uint64(150), conn.flushed.Load())
}
