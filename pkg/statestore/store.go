package statestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/types"
)

// ErrNotFound is returned by Load when no state was saved for the job
var ErrNotFound = errors.New("job state not found")

// Store persists job state across process restarts
type Store interface {
	Load(ctx context.Context, jobID string) (*types.State, error)
	Save(ctx context.Context, state *types.State) error
	Delete(ctx context.Context, jobID string) error
	// List returns the ids of every persisted job
	List(ctx context.Context) ([]string, error)
	Close() error
}

// New opens the store backend at path: a directory for the file backend, a
// database file for the sqlite backend.
func New(ctx context.Context, backend constants.StateBackend, path string) (Store, error) {
	switch backend {
	case constants.FileBackend, "":
		return NewFileStore(path)
	case constants.SQLiteBackend:
		return NewSQLiteStore(ctx, path)
	default:
		return nil, fmt.Errorf("%w: state backend[%s]", constants.ErrUnsupported, backend)
	}
}

func checkVersion(state *types.State) error {
	if state.Version > constants.LatestStateVersion {
		return fmt.Errorf("%w: state of job[%s] has version %d, newest supported is %d", constants.ErrNonRetryable, state.JobID, state.Version, constants.LatestStateVersion)
	}
	return nil
}
