package types

import "fmt"

type ChangeType string

const (
	Insert   ChangeType = "INSERT"
	Update   ChangeType = "UPDATE"
	Delete   ChangeType = "DELETE"
	Finished ChangeType = "FINISHED"
)

// Column is one value of a captured row. OldValue is only set on updates,
// Changed only when the value differs from OldValue.
type Column struct {
	Name     string `json:"name"`
	Value    any    `json:"value"`
	OldValue any    `json:"old_value,omitempty"`
	IsKey    bool   `json:"is_key"`
	Changed  bool   `json:"changed"`
}

type ChangeRecord struct {
	Type     ChangeType  `json:"type"`
	Table    string      `json:"table"`
	Columns  []Column    `json:"columns"`
	Position *Checkpoint `json:"position,omitempty"`
	// Sequence is assigned by the channel on push and used for acknowledgement
	Sequence uint64 `json:"-"`
}

// NewFinishedRecord marks the end of a bounded stream
func NewFinishedRecord() ChangeRecord {
	return ChangeRecord{Type: Finished}
}

func (r *ChangeRecord) IsFinished() bool {
	return r.Type == Finished
}

func (r *ChangeRecord) Column(name string) (*Column, bool) {
	for i := range r.Columns {
		if r.Columns[i].Name == name {
			return &r.Columns[i], true
		}
	}
	return nil, false
}

func (r *ChangeRecord) KeyColumns() []Column {
	keys := make([]Column, 0, 1)
	for _, col := range r.Columns {
		if col.IsKey {
			keys = append(keys, col)
		}
	}
	return keys
}

// KeyValues returns the current identity of the row
func (r *ChangeRecord) KeyValues() map[string]any {
	values := make(map[string]any)
	for _, col := range r.Columns {
		if col.IsKey {
			values[col.Name] = col.Value
		}
	}
	return values
}

// OldKeyValues returns the identity the row had before this record was applied
func (r *ChangeRecord) OldKeyValues() map[string]any {
	values := make(map[string]any)
	for _, col := range r.Columns {
		if !col.IsKey {
			continue
		}
		if col.Changed {
			values[col.Name] = col.OldValue
		} else {
			values[col.Name] = col.Value
		}
	}
	return values
}

// KeyChanged reports whether any identity column was modified
func (r *ChangeRecord) KeyChanged() bool {
	for _, col := range r.Columns {
		if col.IsKey && col.Changed {
			return true
		}
	}
	return false
}

// Clone copies the column slice so the result can be mutated independently
func (r ChangeRecord) Clone() ChangeRecord {
	columns := make([]Column, len(r.Columns))
	copy(columns, r.Columns)
	r.Columns = columns
	if r.Position != nil {
		position := *r.Position
		r.Position = &position
	}
	return r
}

func (r ChangeRecord) String() string {
	return fmt.Sprintf("%s %s %v", r.Type, r.Table, r.KeyValues())
}

// TableBatch holds the net records of one table in apply order
type TableBatch struct {
	Table   string
	Inserts []ChangeRecord
	Updates []ChangeRecord
	Deletes []ChangeRecord
}

// GroupedRecordBatch is the merged form of one merge window, grouped by table
// in order of first appearance.
type GroupedRecordBatch struct {
	Tables []*TableBatch
	index  map[string]int
}

func NewGroupedRecordBatch() *GroupedRecordBatch {
	return &GroupedRecordBatch{index: make(map[string]int)}
}

func (b *GroupedRecordBatch) Add(record ChangeRecord) {
	if b.index == nil {
		b.index = make(map[string]int)
	}
	idx, ok := b.index[record.Table]
	if !ok {
		idx = len(b.Tables)
		b.index[record.Table] = idx
		b.Tables = append(b.Tables, &TableBatch{Table: record.Table})
	}

	table := b.Tables[idx]
	switch record.Type {
	case Insert:
		table.Inserts = append(table.Inserts, record)
	case Update:
		table.Updates = append(table.Updates, record)
	case Delete:
		table.Deletes = append(table.Deletes, record)
	}
}

func (b *GroupedRecordBatch) Len() int {
	total := 0
	for _, table := range b.Tables {
		total += len(table.Inserts) + len(table.Updates) + len(table.Deletes)
	}
	return total
}

// Records flattens the batch in apply order
func (b *GroupedRecordBatch) Records() []ChangeRecord {
	records := make([]ChangeRecord, 0, b.Len())
	for _, table := range b.Tables {
		records = append(records, table.Inserts...)
		records = append(records, table.Updates...)
		records = append(records, table.Deletes...)
	}
	return records
}
