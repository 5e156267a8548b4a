package constants

// LatestStateVersion is the format version written with every persisted job state.
//
// Version History:
//   - Version 1: start checkpoint, applied checkpoint and per-slice status
//   - Version 2: config hash stored alongside the state, resume rejects a changed job config
const (
	LatestStateVersion = 2
)
