package merger

import (
	"errors"
	"fmt"

	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils"
)

// errWindowConflict means the record is legal but cannot share a window with
// an unrelated pending change, e.g. an insert onto the key a pending update
// moves a row away from. Inserts are applied before updates, so both must go
// into separate windows.
var errWindowConflict = errors.New("record conflicts with pending change")

// Merge collapses the records of one merge window into at most one net record
// per row identity and groups them by table. Most windows produce a single
// batch; a window is split into consecutive batches when a record conflicts
// with an unrelated pending change. Batches must be applied in order.
func Merge(records []types.ChangeRecord) ([]*types.GroupedRecordBatch, error) {
	batches := []*types.GroupedRecordBatch{}
	current := newWindow()

	for _, record := range records {
		if record.IsFinished() {
			continue
		}

		err := current.add(record)
		if errors.Is(err, errWindowConflict) {
			batches = append(batches, current.group())
			current = newWindow()
			err = current.add(record)
		}
		if err != nil {
			return nil, err
		}
	}

	if current.len() > 0 || len(batches) == 0 {
		batches = append(batches, current.group())
	}
	return batches, nil
}

type entry struct {
	record  types.ChangeRecord
	order   int
	removed bool
}

type window struct {
	net     map[string]*entry
	entries []*entry
	// origins holds the original identity of pending key changing records
	origins map[string]string
}

func newWindow() *window {
	return &window{
		net:     make(map[string]*entry),
		origins: make(map[string]string),
	}
}

func (w *window) len() int {
	return len(w.net)
}

func (w *window) put(key string, record types.ChangeRecord) {
	e := &entry{record: record, order: len(w.entries)}
	w.entries = append(w.entries, e)
	w.net[key] = e

	if record.KeyChanged() {
		w.origins[identity(record.Table, record.OldKeyValues())] = key
	}
}

func (w *window) remove(key string) {
	if e, ok := w.net[key]; ok {
		e.removed = true
		delete(w.net, key)
		if e.record.KeyChanged() {
			delete(w.origins, identity(e.record.Table, e.record.OldKeyValues()))
		}
	}
}

func (w *window) group() *types.GroupedRecordBatch {
	batch := types.NewGroupedRecordBatch()
	for _, e := range w.entries {
		if !e.removed {
			batch.Add(e.record)
		}
	}
	return batch
}

func (w *window) add(record types.ChangeRecord) error {
	if len(record.KeyColumns()) == 0 {
		return fmt.Errorf("%w: record on table[%s] carries no key columns", types.ErrSchemaMismatch, record.Table)
	}

	switch record.Type {
	case types.Insert:
		return w.addInsert(record)
	case types.Update:
		return w.addUpdate(record)
	case types.Delete:
		return w.addDelete(record)
	default:
		return fmt.Errorf("%w: unknown change type[%s]", types.ErrSchemaMismatch, record.Type)
	}
}

func (w *window) addInsert(record types.ChangeRecord) error {
	key := identity(record.Table, record.KeyValues())
	prior, exists := w.net[key]
	if exists && prior.record.Type != types.Delete {
		return orderingError(prior.record, record, "insert without an intervening delete")
	}
	if _, moving := w.origins[key]; moving {
		return errWindowConflict
	}

	w.remove(key)
	w.put(key, record)
	return nil
}

func (w *window) addUpdate(record types.ChangeRecord) error {
	keyChanged := record.KeyChanged()
	lookup := identity(record.Table, record.OldKeyValues())
	target := identity(record.Table, record.KeyValues())

	prior, exists := w.net[lookup]
	if !exists {
		if _, taken := w.net[target]; taken && keyChanged {
			return errWindowConflict
		}
		w.put(target, record)
		return nil
	}

	if prior.record.Type == types.Delete {
		return orderingError(prior.record, record, "update after delete")
	}
	if keyChanged && prior.record.KeyChanged() {
		return orderingError(prior.record, record, "key changed twice in one window")
	}
	if keyChanged {
		if _, taken := w.net[target]; taken {
			return errWindowConflict
		}
	}

	merged := mergeColumns(prior.record, record)
	merged.Type = prior.record.Type

	// updates apply in the order they were last touched, so a moved row must
	// not jump behind a row that has since taken its original key
	if merged.KeyChanged() {
		if holder, taken := w.net[identity(merged.Table, merged.OldKeyValues())]; taken && holder != prior {
			return errWindowConflict
		}
	}

	w.remove(lookup)
	w.put(target, merged)
	return nil
}

func (w *window) addDelete(record types.ChangeRecord) error {
	key := identity(record.Table, record.KeyValues())
	prior, exists := w.net[key]
	if exists && prior.record.Type == types.Delete {
		return orderingError(prior.record, record, "duplicate delete")
	}

	if !exists || !prior.record.KeyChanged() {
		w.remove(key)
		w.put(key, record)
		return nil
	}

	// the target row still lives under the key it had before the pending update
	original := prior.record.OldKeyValues()
	rewritten := record.Clone()
	for i := range rewritten.Columns {
		col := &rewritten.Columns[i]
		if col.IsKey {
			col.Value = original[col.Name]
		}
		col.OldValue = nil
		col.Changed = false
	}

	originKey := identity(record.Table, original)
	if _, taken := w.net[originKey]; taken {
		return errWindowConflict
	}

	w.remove(key)
	w.put(originKey, rewritten)
	return nil
}

// mergeColumns takes the newest values, keeps the oldest previous value of
// every changed column and ORs the changed flags across both records.
func mergeColumns(prior, current types.ChangeRecord) types.ChangeRecord {
	result := current.Clone()
	for i := range result.Columns {
		col := &result.Columns[i]
		before, ok := prior.Column(col.Name)
		if !ok {
			continue
		}
		switch {
		case before.Changed:
			col.OldValue = before.OldValue
		case col.Changed:
			// previous value of the current record is the oldest one
		default:
			col.OldValue = nil
		}
		col.Changed = before.Changed || col.Changed
	}
	return result
}

func identity(table string, keys map[string]any) string {
	return table + "#" + utils.GetKeysHash(keys)
}

func orderingError(prior, incoming types.ChangeRecord, reason string) error {
	return &types.OrderingError{
		Table:    incoming.Table,
		Key:      incoming.KeyValues(),
		Prior:    prior.Type,
		Incoming: incoming.Type,
		Reason:   reason,
	}
}
