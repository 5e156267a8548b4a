package channel

import (
	"context"
	"sync"
	"time"

	"github.com/datazip-inc/olake-scaling/types"
)

// MemoryChannel is a bounded FIFO queue. Writers fetch from it competitively.
type MemoryChannel struct {
	queue     chan types.ChangeRecord
	consumers int
	tracker   *ackTracker
	closed    chan struct{}
	closeOnce sync.Once
}

func NewMemoryChannel(capacity, consumers int) *MemoryChannel {
	return newMemoryChannel(capacity, consumers, newAckTracker())
}

func newMemoryChannel(capacity, consumers int, tracker *ackTracker) *MemoryChannel {
	if capacity < 1 {
		capacity = 1
	}
	if consumers < 1 {
		consumers = 1
	}
	return &MemoryChannel{
		queue:     make(chan types.ChangeRecord, capacity),
		consumers: consumers,
		tracker:   tracker,
		closed:    make(chan struct{}),
	}
}

func (c *MemoryChannel) Push(ctx context.Context, record types.ChangeRecord) error {
	if record.IsFinished() {
		for i := 0; i < c.consumers; i++ {
			if err := c.send(ctx, record); err != nil {
				return err
			}
		}
		return nil
	}

	c.tracker.assign(&record)
	return c.send(ctx, record)
}

func (c *MemoryChannel) send(ctx context.Context, record types.ChangeRecord) error {
	select {
	case c.queue <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	}
}

// Fetch returns as soon as maxCount records were collected, a Finished record
// was seen or the timeout elapsed.
func (c *MemoryChannel) Fetch(ctx context.Context, _ int, maxCount int, timeout time.Duration) ([]types.ChangeRecord, error) {
	if maxCount < 1 {
		maxCount = 1
	}
	records := make([]types.ChangeRecord, 0, min(maxCount, cap(c.queue)))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for len(records) < maxCount {
		select {
		case record := <-c.queue:
			records = append(records, record)
			if record.IsFinished() {
				return records, nil
			}
		case <-timer.C:
			return records, nil
		case <-ctx.Done():
			return records, ctx.Err()
		case <-c.closed:
			return records, ErrClosed
		}
	}

	return records, nil
}

func (c *MemoryChannel) Ack(records []types.ChangeRecord) {
	c.tracker.ack(records)
}

func (c *MemoryChannel) AckedPosition() *types.Checkpoint {
	return c.tracker.acknowledged()
}

func (c *MemoryChannel) Pending() int {
	return len(c.queue)
}

func (c *MemoryChannel) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}
