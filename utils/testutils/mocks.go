// Package testutils holds the func-field doubles shared by the tests of the
// executor, splitter and controller packages.
package testutils

import (
	"context"
	"sync"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/types"
)

// MockReader replays a fixed list of records. With Endless set it blocks
// after the last record until the context is done, like a CDC stream.
type MockReader struct {
	Records []types.ChangeRecord
	Endless bool

	OpenFunc           func(ctx context.Context) error
	NextFunc           func(ctx context.Context) (types.ChangeRecord, error)
	SplitFunc          func(ctx context.Context, n int) ([]types.ReaderConfig, error)
	MarkPositionFunc   func(ctx context.Context) (*types.Checkpoint, error)
	SourcePositionFunc func(ctx context.Context) (*types.Checkpoint, error)
	AcknowledgeFunc    func(ctx context.Context, checkpoint types.Checkpoint) error

	mu           sync.Mutex
	offset       int
	opened       int
	closed       bool
	acknowledged []types.Checkpoint
}

func (m *MockReader) Open(ctx context.Context) error {
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx)
	}
	return nil
}

func (m *MockReader) Next(ctx context.Context) (types.ChangeRecord, error) {
	if m.NextFunc != nil {
		return m.NextFunc(ctx)
	}

	m.mu.Lock()
	if m.offset < len(m.Records) {
		record := m.Records[m.offset]
		m.offset++
		m.mu.Unlock()
		return record, nil
	}
	m.mu.Unlock()

	if !m.Endless {
		return types.ChangeRecord{}, abstract.ErrEndOfStream
	}
	<-ctx.Done()
	return types.ChangeRecord{}, ctx.Err()
}

func (m *MockReader) Split(ctx context.Context, n int) ([]types.ReaderConfig, error) {
	if m.SplitFunc != nil {
		return m.SplitFunc(ctx, n)
	}
	return []types.ReaderConfig{{}}, nil
}

func (m *MockReader) MarkPosition(ctx context.Context) (*types.Checkpoint, error) {
	if m.MarkPositionFunc != nil {
		return m.MarkPositionFunc(ctx)
	}
	return &types.Checkpoint{}, nil
}

func (m *MockReader) SourcePosition(ctx context.Context) (*types.Checkpoint, error) {
	if m.SourcePositionFunc != nil {
		return m.SourcePositionFunc(ctx)
	}
	return &types.Checkpoint{}, nil
}

func (m *MockReader) Acknowledge(ctx context.Context, checkpoint types.Checkpoint) error {
	m.mu.Lock()
	m.acknowledged = append(m.acknowledged, checkpoint)
	m.mu.Unlock()
	if m.AcknowledgeFunc != nil {
		return m.AcknowledgeFunc(ctx, checkpoint)
	}
	return nil
}

func (m *MockReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Opened returns how many times Open was called
func (m *MockReader) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *MockReader) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Acknowledged returns the checkpoints passed to Acknowledge in call order
func (m *MockReader) Acknowledged() []types.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Checkpoint(nil), m.acknowledged...)
}

// MockDriver hands out readers produced by its func fields
type MockDriver struct {
	TypeFunc              func() constants.DriverType
	SetupFunc             func(ctx context.Context, config types.DataSourceConfig) error
	CheckFunc             func(ctx context.Context) error
	KeyColumnsFunc        func(ctx context.Context, table string) ([]string, error)
	NewSnapshotReaderFunc func(config types.ReaderConfig) (abstract.SnapshotReader, error)
	NewCDCReaderFunc      func(config types.ReaderConfig) (abstract.CDCReader, error)
}

func (m *MockDriver) Type() constants.DriverType {
	if m.TypeFunc != nil {
		return m.TypeFunc()
	}
	return "mock"
}

func (m *MockDriver) Setup(ctx context.Context, config types.DataSourceConfig) error {
	if m.SetupFunc != nil {
		return m.SetupFunc(ctx, config)
	}
	return nil
}

func (m *MockDriver) Check(ctx context.Context) error {
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx)
	}
	return nil
}

func (m *MockDriver) KeyColumns(ctx context.Context, table string) ([]string, error) {
	if m.KeyColumnsFunc != nil {
		return m.KeyColumnsFunc(ctx, table)
	}
	return []string{"id"}, nil
}

func (m *MockDriver) NewSnapshotReader(config types.ReaderConfig) (abstract.SnapshotReader, error) {
	if m.NewSnapshotReaderFunc != nil {
		return m.NewSnapshotReaderFunc(config)
	}
	return &MockReader{}, nil
}

func (m *MockDriver) NewCDCReader(config types.ReaderConfig) (abstract.CDCReader, error) {
	if m.NewCDCReaderFunc != nil {
		return m.NewCDCReaderFunc(config)
	}
	return &MockReader{Endless: true}, nil
}

func (m *MockDriver) Close() error {
	return nil
}
