package types

type EventKind string

const (
	EventFinished           EventKind = "FINISHED"
	EventExceptionExit      EventKind = "EXCEPTION_EXIT"
	EventCheckpointAdvanced EventKind = "CHECKPOINT_ADVANCED"
)

// Event is emitted by executors and consumed by the controller loop
type Event struct {
	TaskID     string
	Kind       EventKind
	Cause      error
	Checkpoint *Checkpoint
	// Records is the number of records applied by the executor so far
	Records int64
}
