package channel

import (
	"context"
	"errors"
	"time"

	"github.com/datazip-inc/olake-scaling/types"
)

var ErrClosed = errors.New("channel closed")

// Channel decouples one reader from its writer loops. Push blocks while the
// channel is full, Fetch waits at most timeout for records, Ack releases
// applied records and advances the durable position.
type Channel interface {
	// Push delivers a record; a Finished record is delivered once to every writer
	Push(ctx context.Context, record types.ChangeRecord) error
	Fetch(ctx context.Context, writer int, maxCount int, timeout time.Duration) ([]types.ChangeRecord, error)
	Ack(records []types.ChangeRecord)
	// AckedPosition is the position of the newest record such that every
	// record pushed before it has been acknowledged
	AckedPosition() *types.Checkpoint
	// Pending is the number of records pushed but not yet fetched
	Pending() int
	Close()
}

// New returns a memory channel for a single queue shared by all writers, or a
// distribution channel when records must keep their per-table order across
// several writers.
func New(capacity, writers int, distribute bool) Channel {
	if distribute && writers > 1 {
		return NewDistributionChannel(capacity, writers)
	}
	return NewMemoryChannel(capacity, writers)
}
