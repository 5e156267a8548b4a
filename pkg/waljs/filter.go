package waljs

import (
	"fmt"

	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils"
	"github.com/datazip-inc/olake-scaling/utils/typeutils"
	"github.com/jackc/pglogrepl"
)

const (
	tupleNull      = 'n'
	tupleUnchanged = 'u' // toasted value not sent because it did not change
	oldTupleKey    = 'K'
)

// ChangeFilter turns pgoutput row messages of the captured relations into
// change records.
type ChangeFilter struct {
	tables    map[string]TableInfo // Keyed by "schema.table"
	relations map[uint32]*pglogrepl.RelationMessage
	decoder   *Decoder
}

func NewChangeFilter(tables ...TableInfo) ChangeFilter {
	filter := ChangeFilter{
		tables:    make(map[string]TableInfo),
		relations: make(map[uint32]*pglogrepl.RelationMessage),
		decoder:   NewDecoder(),
	}
	for _, table := range tables {
		filter.tables[table.Schema+"."+table.Table] = table
	}
	return filter
}

// FilterMessage converts a logical replication message. Relation messages
// are remembered, anything that is not a row change of a captured relation
// yields nothing.
func (f ChangeFilter) FilterMessage(msg pglogrepl.Message) (*types.ChangeRecord, error) {
	var (
		relationID uint32
		changeType types.ChangeType
		newTuple   *pglogrepl.TupleData
		oldTuple   *pglogrepl.TupleData
		oldType    uint8
	)
	switch m := msg.(type) {
	case *pglogrepl.RelationMessage:
		f.relations[m.RelationID] = m
		return nil, nil
	case *pglogrepl.InsertMessage:
		relationID, changeType, newTuple = m.RelationID, types.Insert, m.Tuple
	case *pglogrepl.UpdateMessage:
		relationID, changeType, newTuple, oldTuple, oldType = m.RelationID, types.Update, m.NewTuple, m.OldTuple, m.OldTupleType
	case *pglogrepl.DeleteMessage:
		relationID, changeType, oldTuple, oldType = m.RelationID, types.Delete, m.OldTuple, m.OldTupleType
	default:
		return nil, nil
	}

	rel, ok := f.relations[relationID]
	if !ok {
		return nil, fmt.Errorf("unknown relation id: %d", relationID)
	}
	table, ok := f.tables[rel.Namespace+"."+rel.RelationName]
	if !ok {
		return nil, nil
	}

	current := newTuple
	if changeType == types.Delete {
		current = oldTuple
	}
	after, err := f.decodeTuple(rel, current)
	if err != nil {
		return nil, err
	}
	var before []*tupleValue
	if changeType == types.Update && oldTuple != nil {
		if before, err = f.decodeTuple(rel, oldTuple); err != nil {
			return nil, err
		}
	}

	record := &types.ChangeRecord{Type: changeType, Table: table.Rule.Source}
	for i, col := range rel.Columns {
		isKey := utils.ExistInArray(table.Keys, col.Name)
		value := after[i]
		if changeType == types.Delete && oldType == oldTupleKey && !isKey {
			// replica identity default only carries the key
			continue
		}
		column := types.Column{Name: col.Name, IsKey: isKey, Value: value.value}

		if changeType == types.Update {
			switch {
			case before != nil && (oldType != oldTupleKey || isKey):
				old := before[i]
				if value.unchanged {
					column.Value = old.value
				}
				column.OldValue = old.value
				column.Changed = !typeutils.Equal(old.value, column.Value)
			case value.unchanged:
				continue
			case !isKey:
				// no old image of this column, assume it was written
				column.Changed = true
			}
			if !column.Changed {
				column.OldValue = nil
			}
		}
		record.Columns = append(record.Columns, column)
	}

	for _, key := range table.Keys {
		if _, ok := record.Column(key); !ok {
			return nil, fmt.Errorf("%w: relation[%s.%s] has no column %s", types.ErrSchemaMismatch, rel.Namespace, rel.RelationName, key)
		}
	}
	return record, nil
}

type tupleValue struct {
	value     any
	unchanged bool
}

func (f ChangeFilter) decodeTuple(rel *pglogrepl.RelationMessage, tuple *pglogrepl.TupleData) ([]*tupleValue, error) {
	if tuple == nil {
		return nil, fmt.Errorf("%w: missing tuple for relation[%s.%s]", types.ErrSchemaMismatch, rel.Namespace, rel.RelationName)
	}
	if len(tuple.Columns) != len(rel.Columns) {
		return nil, fmt.Errorf("%w: relation[%s.%s] column count mismatch: expected %d, got %d",
			types.ErrSchemaMismatch, rel.Namespace, rel.RelationName, len(rel.Columns), len(tuple.Columns))
	}

	values := make([]*tupleValue, len(tuple.Columns))
	for i, col := range tuple.Columns {
		switch col.DataType {
		case tupleNull:
			values[i] = &tupleValue{}
		case tupleUnchanged:
			values[i] = &tupleValue{unchanged: true}
		default:
			value, err := f.decoder.Decode(col.Data, rel.Columns[i].DataType)
			if err != nil {
				return nil, fmt.Errorf("column %s: %s", rel.Columns[i].Name, err)
			}
			values[i] = &tupleValue{value: value}
		}
	}
	return values, nil
}
