package types

import (
	"sync"
	"time"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/goccy/go-json"
)

type SliceStatus string

const (
	SlicePending  SliceStatus = "PENDING"
	SliceFinished SliceStatus = "FINISHED"
	SliceFailed   SliceStatus = "FAILED"
)

// SliceState is the durable marker of one history slice
type SliceState struct {
	TaskID string      `json:"task_id"`
	Table  string      `json:"table"`
	Range  Chunk       `json:"range"`
	Status SliceStatus `json:"status"`
}

// State is the durable part of a job: the consistency checkpoint, the applied
// realtime checkpoint and per-slice completion markers.
type State struct {
	*sync.RWMutex `json:"-"`

	Version         int           `json:"version"`
	JobID           string        `json:"job_id"`
	ConfigHash      string        `json:"config_hash"`
	Phase           Phase         `json:"phase"`
	StartCheckpoint *Checkpoint   `json:"start_checkpoint,omitempty"`
	Checkpoint      *Checkpoint   `json:"checkpoint,omitempty"`
	Slices          []*SliceState `json:"slices,omitempty"`
	Committed       bool          `json:"committed,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func NewState(jobID, configHash string) *State {
	return &State{
		RWMutex:    &sync.RWMutex{},
		Version:    constants.LatestStateVersion,
		JobID:      jobID,
		ConfigHash: configHash,
		Phase:      PhaseInitialized,
	}
}

// Initialized reports whether the history plan was already recorded
func (s *State) Initialized() bool {
	s.RLock()
	defer s.RUnlock()
	return s.StartCheckpoint != nil && len(s.Slices) > 0
}

func (s *State) SetStartCheckpoint(cp Checkpoint) {
	s.Lock()
	defer s.Unlock()
	s.StartCheckpoint = &cp
	s.touch()
}

func (s *State) GetStartCheckpoint() *Checkpoint {
	s.RLock()
	defer s.RUnlock()
	return copyCheckpoint(s.StartCheckpoint)
}

func (s *State) SetCheckpoint(cp Checkpoint) {
	s.Lock()
	defer s.Unlock()
	s.Checkpoint = &cp
	s.touch()
}

// ResumeCheckpoint is where realtime sync continues: the applied checkpoint
// once realtime made progress, the consistency checkpoint before that.
func (s *State) ResumeCheckpoint() *Checkpoint {
	s.RLock()
	defer s.RUnlock()
	if s.Checkpoint != nil {
		return copyCheckpoint(s.Checkpoint)
	}
	return copyCheckpoint(s.StartCheckpoint)
}

func (s *State) SetPhase(phase Phase) {
	s.Lock()
	defer s.Unlock()
	s.Phase = phase
	s.touch()
}

func (s *State) GetPhase() Phase {
	s.RLock()
	defer s.RUnlock()
	return s.Phase
}

func (s *State) SetCommitted() {
	s.Lock()
	defer s.Unlock()
	s.Committed = true
	s.touch()
}

func (s *State) IsCommitted() bool {
	s.RLock()
	defer s.RUnlock()
	return s.Committed
}

func (s *State) SetSlices(slices []*SliceState) {
	s.Lock()
	defer s.Unlock()
	s.Slices = slices
	s.touch()
}

// MarkSlice updates the status of a slice, returns false for unknown task ids
func (s *State) MarkSlice(taskID string, status SliceStatus) bool {
	s.Lock()
	defer s.Unlock()
	for _, slice := range s.Slices {
		if slice.TaskID == taskID {
			slice.Status = status
			s.touch()
			return true
		}
	}
	return false
}

// PendingSlices returns copies of slices that have not finished
func (s *State) PendingSlices() []SliceState {
	s.RLock()
	defer s.RUnlock()
	pending := []SliceState{}
	for _, slice := range s.Slices {
		if slice.Status != SliceFinished {
			pending = append(pending, *slice)
		}
	}
	return pending
}

// SliceCounts returns finished and total slice counts
func (s *State) SliceCounts() (int, int) {
	s.RLock()
	defer s.RUnlock()
	finished := 0
	for _, slice := range s.Slices {
		if slice.Status == SliceFinished {
			finished++
		}
	}
	return finished, len(s.Slices)
}

func (s *State) touch() {
	s.UpdatedAt = time.Now().UTC()
}

func (s *State) MarshalJSON() ([]byte, error) {
	if s.RWMutex == nil {
		s.RWMutex = &sync.RWMutex{}
	}
	s.RLock()
	defer s.RUnlock()

	type Alias State
	return json.Marshal(&struct {
		*Alias
	}{Alias: (*Alias)(s)})
}

func (s *State) UnmarshalJSON(data []byte) error {
	type Alias State
	alias := &struct {
		*Alias
	}{Alias: (*Alias)(s)}
	if err := json.Unmarshal(data, alias); err != nil {
		return err
	}
	if s.RWMutex == nil {
		s.RWMutex = &sync.RWMutex{}
	}
	return nil
}

func copyCheckpoint(cp *Checkpoint) *Checkpoint {
	if cp == nil {
		return nil
	}
	out := *cp
	return &out
}
