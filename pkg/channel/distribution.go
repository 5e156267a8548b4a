package channel

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/datazip-inc/olake-scaling/types"
)

// DistributionChannel routes records to one queue per writer by table, so all
// changes of a row, including key changing updates, reach the same writer in
// push order. Acknowledgement is tracked across all queues.
type DistributionChannel struct {
	channels []*MemoryChannel
	tracker  *ackTracker
}

func NewDistributionChannel(capacity, writers int) *DistributionChannel {
	if writers < 1 {
		writers = 1
	}
	tracker := newAckTracker()
	perWriter := max(capacity/writers, 1)

	channels := make([]*MemoryChannel, writers)
	for i := range channels {
		channels[i] = newMemoryChannel(perWriter, 1, tracker)
	}
	return &DistributionChannel{channels: channels, tracker: tracker}
}

func (d *DistributionChannel) Push(ctx context.Context, record types.ChangeRecord) error {
	if record.IsFinished() {
		for _, ch := range d.channels {
			if err := ch.send(ctx, record); err != nil {
				return err
			}
		}
		return nil
	}

	d.tracker.assign(&record)
	return d.channels[d.route(record.Table)].send(ctx, record)
}

func (d *DistributionChannel) route(table string) int {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(table))
	return int(hash.Sum32() % uint32(len(d.channels)))
}

func (d *DistributionChannel) Fetch(ctx context.Context, writer int, maxCount int, timeout time.Duration) ([]types.ChangeRecord, error) {
	return d.channels[writer%len(d.channels)].Fetch(ctx, writer, maxCount, timeout)
}

func (d *DistributionChannel) Ack(records []types.ChangeRecord) {
	d.tracker.ack(records)
}

func (d *DistributionChannel) AckedPosition() *types.Checkpoint {
	return d.tracker.acknowledged()
}

func (d *DistributionChannel) Pending() int {
	pending := 0
	for _, ch := range d.channels {
		pending += ch.Pending()
	}
	return pending
}

func (d *DistributionChannel) Close() {
	for _, ch := range d.channels {
		ch.Close()
	}
}
