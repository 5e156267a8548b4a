package types

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Checkpoint is a position in a source change log. MySQL positions carry the
// binlog file name and offset, Postgres positions only the LSN as offset.
type Checkpoint struct {
	File   string `json:"file,omitempty"`
	Offset uint64 `json:"offset"`
}

func (c Checkpoint) String() string {
	if c.File != "" {
		return fmt.Sprintf("%s:%d", c.File, c.Offset)
	}
	return fmt.Sprintf("%X/%X", uint32(c.Offset>>32), uint32(c.Offset))
}

// Compare returns 0 for equal, -1 if c is before o else 1
func (c Checkpoint) Compare(o Checkpoint) int {
	if cmp := compareLogFile(c.File, o.File); cmp != 0 {
		return cmp
	}
	switch {
	case c.Offset < o.Offset:
		return -1
	case c.Offset > o.Offset:
		return 1
	}
	return 0
}

// Distance reports how far o is ahead of c. Positions in different log files
// are not comparable by offset.
func (c Checkpoint) Distance(o Checkpoint) (uint64, bool) {
	if c.File != o.File {
		return 0, false
	}
	if o.Offset < c.Offset {
		return 0, true
	}
	return o.Offset - c.Offset, true
}

// ParseCheckpoint is the inverse of Checkpoint.String
func ParseCheckpoint(value string) (Checkpoint, error) {
	if idx := strings.LastIndex(value, ":"); idx > 0 {
		offset, err := strconv.ParseUint(value[idx+1:], 10, 64)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("invalid checkpoint offset[%s]: %s", value, err)
		}
		return Checkpoint{File: value[:idx], Offset: offset}, nil
	}

	var hi, lo uint32
	if _, err := fmt.Sscanf(value, "%X/%X", &hi, &lo); err != nil {
		return Checkpoint{}, fmt.Errorf("invalid checkpoint[%s]: %s", value, err)
	}
	return Checkpoint{Offset: uint64(hi)<<32 | uint64(lo)}, nil
}

// binlog files are <basename>.<sequence>; the sequence may outgrow its zero padding
func compareLogFile(a, b string) int {
	if a == b {
		return 0
	}
	ai, bi := strings.LastIndex(a, "."), strings.LastIndex(b, ".")
	if ai >= 0 && bi >= 0 && a[:ai] == b[:bi] {
		an, aerr := strconv.ParseUint(a[ai+1:], 10, 64)
		bn, berr := strconv.ParseUint(b[bi+1:], 10, 64)
		if aerr == nil && berr == nil {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(a, b)
}

// AtomicCheckpoint hands a checkpoint from its single writer to any number of readers.
type AtomicCheckpoint struct {
	value atomic.Pointer[Checkpoint]
}

func NewAtomicCheckpoint(initial *Checkpoint) *AtomicCheckpoint {
	a := &AtomicCheckpoint{}
	if initial != nil {
		cp := *initial
		a.value.Store(&cp)
	}
	return a
}

// Load returns a copy of the current checkpoint, nil when none was stored
func (a *AtomicCheckpoint) Load() *Checkpoint {
	cp := a.value.Load()
	if cp == nil {
		return nil
	}
	out := *cp
	return &out
}

// Advance stores cp if it is ahead of the current value and reports whether it did.
func (a *AtomicCheckpoint) Advance(cp Checkpoint) bool {
	for {
		current := a.value.Load()
		if current != nil && current.Compare(cp) >= 0 {
			return false
		}
		next := cp
		if a.value.CompareAndSwap(current, &next) {
			return true
		}
	}
}
