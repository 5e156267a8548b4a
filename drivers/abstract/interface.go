package abstract

import (
	"context"
	"errors"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/types"
)

// ErrEndOfStream is returned by Next once a bounded reader is exhausted
var ErrEndOfStream = errors.New("end of stream")

type Reader interface {
	// Open connects the reader. Calling it again after a failure resumes
	// right after the last record returned by Next.
	Open(ctx context.Context) error
	Next(ctx context.Context) (types.ChangeRecord, error)
	Close() error
}

// SnapshotReader reads a bounded key range of one table as INSERT records
type SnapshotReader interface {
	Reader
	// Split partitions the table's key range into n disjoint reader configs
	Split(ctx context.Context, n int) ([]types.ReaderConfig, error)
}

// CDCReader streams the change log of the configured tables and never ends
// on its own
type CDCReader interface {
	Reader
	// MarkPosition prepares the source to retain its log from now on and
	// returns the current log position without consuming events
	MarkPosition(ctx context.Context) (*types.Checkpoint, error)
	// SourcePosition reads the position the source is writing at, it changes
	// nothing on the source
	SourcePosition(ctx context.Context) (*types.Checkpoint, error)
	// Acknowledge reports a position applied on the target so the source
	// may release the log before it
	Acknowledge(ctx context.Context, checkpoint types.Checkpoint) error
}

type Driver interface {
	Type() constants.DriverType
	// Setup opens the connection pool for the data source
	Setup(ctx context.Context, config types.DataSourceConfig) error
	// Check verifies connectivity and the source settings CDC depends on
	Check(ctx context.Context) error
	KeyColumns(ctx context.Context, table string) ([]string, error)
	NewSnapshotReader(config types.ReaderConfig) (SnapshotReader, error)
	NewCDCReader(config types.ReaderConfig) (CDCReader, error)
	Close() error
}

// NewDriverFunc creates an unconnected driver
type NewDriverFunc func() Driver
