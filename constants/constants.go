package constants

import (
	"errors"
	"time"
)

type DriverType string

const (
	MySQL    DriverType = "mysql"
	Postgres DriverType = "postgres"
	SQLite   DriverType = "sqlite"
)

const (
	DefaultConcurrency       = 3
	DefaultWriterConcurrency = 1
	DefaultMaxParallelSlices = 8
	DefaultBatchSize         = 1000
	DefaultChannelCapacity   = 10000
	DefaultFetchTimeout      = 1 * time.Second
	DefaultStatementTimeout  = 30 * time.Second
	DefaultRetryCount        = 3
	DefaultRetryWait         = 1 * time.Second
	DefaultStateFlushPeriod  = 2 * time.Second
	DefaultStatsPeriod       = 30 * time.Second
	DefaultServerID          = 1000
	DefaultReplicationSlot   = "olake_scaling"
	DefaultPublication       = "olake_scaling_pub"
	DefaultHTTPAddress       = ":8000"
)

// viper keys
const (
	ConfigFolder = "CONFIG_FOLDER"
	StatePath    = "STATE_PATH"
	HTTPAddress  = "HTTP_ADDRESS"
)

const (
	StateFileName = "state"
	StatsFileName = "stats"
	JSONExt       = ".json"
)

type StateBackend string

const (
	FileBackend   StateBackend = "file"
	SQLiteBackend StateBackend = "sqlite"
)

var (
	ErrNonRetryable   = errors.New("non-retryable error")
	ErrUnsupported    = errors.New("operation not supported by driver")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobExists      = errors.New("job already exists")
	ErrExecutorClosed = errors.New("executor already started")
)
