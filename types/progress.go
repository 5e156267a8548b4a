package types

import "time"

// Phase is the controller's internal state
type Phase string

const (
	PhaseInitialized  Phase = "INITIALIZED"
	PhaseHistorySync  Phase = "HISTORY_SYNC"
	PhaseRealtimeSync Phase = "REALTIME_SYNC"
	PhaseStopped      Phase = "STOPPED"
	PhaseFailed       Phase = "FAILED"
)

// JobStatus is the user visible job state
type JobStatus string

const (
	StatusRunning         JobStatus = "RUNNING"
	StatusFailed          JobStatus = "FAILED"
	StatusFinishedHistory JobStatus = "FINISHED_HISTORY"
	StatusSyncingRealtime JobStatus = "SYNCING_REALTIME"
	StatusStopped         JobStatus = "STOPPED"
)

type Progress struct {
	JobID           string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	Phase           Phase     `json:"phase"`
	FailedTask      string    `json:"failed_task,omitempty"`
	Cause           string    `json:"cause,omitempty"`
	CompletedSlices int       `json:"completed_slices"`
	TotalSlices     int       `json:"total_slices"`
	RecordsApplied  int64     `json:"records_applied"`
	// StartCheckpoint is the consistency boundary taken before the history phase
	StartCheckpoint   *Checkpoint `json:"start_checkpoint,omitempty"`
	AppliedCheckpoint *Checkpoint `json:"applied_checkpoint,omitempty"`
	SourceCheckpoint  *Checkpoint `json:"source_checkpoint,omitempty"`
	// Lag is the distance between the applied and the source position when comparable
	Lag       *uint64   `json:"lag,omitempty"`
	Committed bool      `json:"committed,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
