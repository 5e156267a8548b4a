package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/mitchellh/hashstructure"
)

// DataSourceConfig is a resolved connection descriptor
type DataSourceConfig struct {
	Type     constants.DriverType `json:"type" validate:"required,oneof=mysql postgres sqlite"`
	Host     string               `json:"host,omitempty"`
	Port     int                  `json:"port,omitempty"`
	Database string               `json:"database" validate:"required"`
	Username string               `json:"username,omitempty"`
	Password string               `json:"password,omitempty"`
	SSLMode  string               `json:"ssl_mode,omitempty"`
	Params   map[string]string    `json:"params,omitempty"`
	// MaxOpenConns caps the pool, 0 keeps the driver default
	MaxOpenConns int `json:"max_open_conns,omitempty"`

	// postgres
	ReplicationSlot string `json:"replication_slot,omitempty"`
	Publication     string `json:"publication,omitempty"`

	// mysql
	ServerID uint32 `json:"server_id,omitempty"`
}

// TableRule maps a source table onto its target table and the columns that
// identify a row in both.
type TableRule struct {
	Source     string   `json:"source" validate:"required,identifier"`
	Target     string   `json:"target,omitempty" validate:"identifier"`
	KeyColumns []string `json:"key_columns,omitempty" validate:"dive,identifier"`
}

func (t TableRule) TargetTable() string {
	if t.Target == "" {
		return t.Source
	}
	return t.Target
}

// SplitTableName splits "schema.table", schema is empty when not qualified
func SplitTableName(name string) (string, string) {
	if idx := strings.Index(name, "."); idx > 0 {
		return name[:idx], name[idx+1:]
	}
	return "", name
}

type ReaderConfig struct {
	DataSource DataSourceConfig `json:"data_source"`
	Tables     []TableRule      `json:"tables"`
	// Range bounds a snapshot reader, nil reads the whole table
	Range *Chunk `json:"range,omitempty"`
	// Checkpoint is where a CDC reader starts
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
	FetchSize  int         `json:"fetch_size,omitempty"`
}

// Table is the table a snapshot reader is assigned to
func (r ReaderConfig) Table() TableRule {
	if len(r.Tables) == 0 {
		return TableRule{}
	}
	return r.Tables[0]
}

type WriterConfig struct {
	DataSource       DataSourceConfig `json:"data_source"`
	Tables           []TableRule      `json:"tables"`
	BatchSize        int              `json:"batch_size"`
	FetchTimeout     time.Duration    `json:"fetch_timeout"`
	StatementTimeout time.Duration    `json:"statement_timeout"`
	RetryCount       int              `json:"retry_count"`
}

func (w WriterConfig) Rule(source string) (TableRule, bool) {
	for _, rule := range w.Tables {
		if rule.Source == source {
			return rule, true
		}
	}
	return TableRule{}, false
}

type SyncKind string

const (
	HistorySlice SyncKind = "HISTORY_SLICE"
	Realtime     SyncKind = "REALTIME"
)

// SyncConfiguration is one unit of work handed to an executor. It is not
// modified once the executor runs.
type SyncConfiguration struct {
	TaskID          string       `json:"task_id"`
	Kind            SyncKind     `json:"kind"`
	Concurrency     int          `json:"concurrency"`
	ChannelCapacity int          `json:"channel_capacity"`
	Reader          ReaderConfig `json:"reader"`
	Writer          WriterConfig `json:"writer"`
	Checkpoint      *Checkpoint  `json:"checkpoint,omitempty"`
}

// WriterConfigs returns one writer config per writer loop
func (s *SyncConfiguration) WriterConfigs() []WriterConfig {
	count := s.Concurrency
	if count <= 0 {
		count = 1
	}
	configs := make([]WriterConfig, count)
	for i := range configs {
		configs[i] = s.Writer
	}
	return configs
}

// JobConfig is a full-table synchronization request
type JobConfig struct {
	JobID                   string                 `json:"job_id,omitempty" validate:"omitempty,printascii,excludesall=/"`
	Source                  DataSourceConfig       `json:"source" validate:"required"`
	Target                  DataSourceConfig       `json:"target" validate:"required"`
	Tables                  []TableRule            `json:"tables" validate:"required,min=1,dive"`
	Concurrency             int                    `json:"concurrency,omitempty" validate:"gte=0"`
	WriterConcurrency       int                    `json:"writer_concurrency,omitempty" validate:"gte=0"`
	MaxParallelSlices       int                    `json:"max_parallel_slices,omitempty" validate:"gte=0"`
	BatchSize               int                    `json:"batch_size,omitempty" validate:"gte=0"`
	ChannelCapacity         int                    `json:"channel_capacity,omitempty" validate:"gte=0"`
	FetchTimeoutSeconds     float64                `json:"fetch_timeout_seconds,omitempty" validate:"gte=0"`
	StatementTimeoutSeconds float64                `json:"statement_timeout_seconds,omitempty" validate:"gte=0"`
	RetryCount              int                    `json:"retry_count,omitempty" validate:"gte=0"`
	StateBackend            constants.StateBackend `json:"state_backend,omitempty" validate:"omitempty,oneof=file sqlite"`
}

func (j *JobConfig) SetDefaults() {
	if j.Concurrency == 0 {
		j.Concurrency = constants.DefaultConcurrency
	}
	if j.WriterConcurrency == 0 {
		j.WriterConcurrency = constants.DefaultWriterConcurrency
	}
	if j.MaxParallelSlices == 0 {
		j.MaxParallelSlices = constants.DefaultMaxParallelSlices
	}
	if j.BatchSize == 0 {
		j.BatchSize = constants.DefaultBatchSize
	}
	if j.ChannelCapacity == 0 {
		j.ChannelCapacity = constants.DefaultChannelCapacity
	}
	if j.FetchTimeoutSeconds == 0 {
		j.FetchTimeoutSeconds = constants.DefaultFetchTimeout.Seconds()
	}
	if j.StatementTimeoutSeconds == 0 {
		j.StatementTimeoutSeconds = constants.DefaultStatementTimeout.Seconds()
	}
	if j.RetryCount == 0 {
		j.RetryCount = constants.DefaultRetryCount
	}
	if j.StateBackend == "" {
		j.StateBackend = constants.FileBackend
	}
}

// WriterConfig derives the writer side shared by every executor of the job
func (j *JobConfig) WriterConfig() WriterConfig {
	return WriterConfig{
		DataSource:       j.Target,
		Tables:           j.Tables,
		BatchSize:        j.BatchSize,
		FetchTimeout:     time.Duration(j.FetchTimeoutSeconds * float64(time.Second)),
		StatementTimeout: time.Duration(j.StatementTimeoutSeconds * float64(time.Second)),
		RetryCount:       j.RetryCount,
	}
}

// Hash identifies the parts of the job that persisted state depends on
func (j *JobConfig) Hash() (string, error) {
	hash, err := hashstructure.Hash(struct {
		Source      DataSourceConfig
		Target      DataSourceConfig
		Tables      []TableRule
		Concurrency int
	}{j.Source, j.Target, j.Tables, j.Concurrency}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to hash job config: %s", err)
	}
	return fmt.Sprintf("%d", hash), nil
}

// CheckTables rejects jobs that read a source table twice or write two
// source tables into one target table
func (j *JobConfig) CheckTables() error {
	sources, targets := NewSet[string](), NewSet[string]()
	for _, rule := range j.Tables {
		if sources.Exists(rule.Source) {
			return fmt.Errorf("table[%s] is configured more than once", rule.Source)
		}
		if targets.Exists(rule.TargetTable()) {
			return fmt.Errorf("target table[%s] is written by more than one source table", rule.TargetTable())
		}
		sources.Insert(rule.Source)
		targets.Insert(rule.TargetTable())
	}
	return nil
}
