package channel

import (
	"sync"

	"github.com/datazip-inc/olake-scaling/types"
)

// ackTracker assigns sequence numbers on push and computes the durable
// position from the contiguous prefix of acknowledged sequences.
type ackTracker struct {
	mu        sync.Mutex
	next      uint64
	committed uint64
	acked     map[uint64]*types.Checkpoint
	position  *types.Checkpoint
}

func newAckTracker() *ackTracker {
	return &ackTracker{acked: make(map[uint64]*types.Checkpoint)}
}

func (t *ackTracker) assign(record *types.ChangeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	record.Sequence = t.next
	t.next++
}

func (t *ackTracker) ack(records []types.ChangeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range records {
		if records[i].IsFinished() || records[i].Sequence < t.committed {
			continue
		}
		t.acked[records[i].Sequence] = records[i].Position
	}

	for {
		position, ok := t.acked[t.committed]
		if !ok {
			return
		}
		delete(t.acked, t.committed)
		if position != nil {
			cp := *position
			t.position = &cp
		}
		t.committed++
	}
}

func (t *ackTracker) acknowledged() *types.Checkpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.position == nil {
		return nil
	}
	cp := *t.position
	return &cp
}
