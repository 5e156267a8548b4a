package base

import "github.com/datazip-inc/olake-scaling/types"

// ReplayGuard keeps a reopened change stream from delivering a record twice.
// Change streams stamp every record with the position its transaction starts
// at; restarting there replays the records of that transaction already
// returned, which the guard counts and drops.
type ReplayGuard struct {
	last     *types.Checkpoint
	returned int // records returned with position last
	skip     int
}

// Start returns the position to (re)start the stream from, initial when the
// stream never returned a record.
func (g *ReplayGuard) Start(initial *types.Checkpoint) *types.Checkpoint {
	if g.last == nil {
		g.skip = 0
		return initial
	}
	g.skip = g.returned
	position := *g.last
	return &position
}

// Admit reports whether a record read from the stream is new
func (g *ReplayGuard) Admit(record types.ChangeRecord) bool {
	if record.Position == nil {
		return true
	}
	if g.skip > 0 && g.last != nil && record.Position.Compare(*g.last) == 0 {
		g.skip--
		return false
	}
	g.skip = 0

	if g.last != nil && record.Position.Compare(*g.last) == 0 {
		g.returned++
		return true
	}
	position := *record.Position
	g.last = &position
	g.returned = 1
	return true
}
