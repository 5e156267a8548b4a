package binlog

import (
	"fmt"

	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils"
	"github.com/datazip-inc/olake-scaling/utils/typeutils"
	"github.com/go-mysql-org/go-mysql/replication"
)

// ChangeFilter turns rows events of the captured tables into change records.
type ChangeFilter struct {
	tables map[string]TableInfo // Keyed by "schema.table"
}

// NewChangeFilter creates a filter for the given tables.
func NewChangeFilter(tables ...TableInfo) ChangeFilter {
	filter := ChangeFilter{
		tables: make(map[string]TableInfo),
	}
	for _, table := range tables {
		filter.tables[fmt.Sprintf("%s.%s", table.Schema, tableName(table.Rule.Source))] = table
	}
	return filter
}

func tableName(source string) string {
	_, name := types.SplitTableName(source)
	return name
}

// FilterRowsEvent converts the rows of a RowsEvent of a captured table. Every
// record is stamped with position, the point a replay has to restart from.
func (f ChangeFilter) FilterRowsEvent(e *replication.RowsEvent, ev *replication.BinlogEvent, position types.Checkpoint) ([]types.ChangeRecord, error) {
	schemaName := string(e.Table.Schema)
	tableName := string(e.Table.Table)
	table, exists := f.tables[schemaName+"."+tableName]
	if !exists {
		return nil, nil
	}

	var changeType types.ChangeType
	switch ev.Header.EventType {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		changeType = types.Insert
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		changeType = types.Update
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		changeType = types.Delete
	default:
		return nil, nil
	}

	// binlog_row_metadata=FULL carries column names, otherwise use the
	// columns queried when the reader opened
	columns := e.Table.ColumnNameString()
	if len(columns) == 0 {
		columns = table.Columns
	}

	var records []types.ChangeRecord
	step := utils.Ternary(changeType == types.Update, 2, 1).(int)
	for i := 0; i+step-1 < len(e.Rows); i += step {
		var before []any
		after := e.Rows[i]
		if changeType == types.Update {
			// update rows contain pairs of (before, after) images
			before, after = e.Rows[i], e.Rows[i+1]
		}
		record, err := convertRow(table, columns, changeType, before, after)
		if err != nil {
			return nil, err
		}
		position := position
		record.Position = &position
		records = append(records, record)
	}
	return records, nil
}

// convertRow builds a change record from the row images of one row.
func convertRow(table TableInfo, columns []string, changeType types.ChangeType, before, after []any) (types.ChangeRecord, error) {
	if len(columns) != len(after) || (before != nil && len(before) != len(after)) {
		return types.ChangeRecord{}, fmt.Errorf("%w: table[%s] column count mismatch: expected %d, got %d",
			types.ErrSchemaMismatch, table.Rule.Source, len(columns), len(after))
	}

	record := types.ChangeRecord{
		Type:    changeType,
		Table:   table.Rule.Source,
		Columns: make([]types.Column, len(columns)),
	}
	for i, name := range columns {
		value, err := jdbc.NormalizeValue(after[i], "")
		if err != nil {
			return types.ChangeRecord{}, err
		}
		col := types.Column{Name: name, Value: value, IsKey: utils.ExistInArray(table.Keys, name)}
		if before != nil {
			old, err := jdbc.NormalizeValue(before[i], "")
			if err != nil {
				return types.ChangeRecord{}, err
			}
			col.OldValue = old
			col.Changed = !typeutils.Equal(old, value)
		}
		record.Columns[i] = col
	}
	return record, nil
}
