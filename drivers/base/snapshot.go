package base

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/splitter"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

const defaultFetchSize = 1000

type row struct {
	columns []string
	values  []any
}

// SnapshotReader pages through one key range of a table ordered by key. It
// remembers the key of the last returned row, so reopening after a failure
// continues from there.
type SnapshotReader struct {
	driver    *Driver
	config    types.ReaderConfig
	rule      types.TableRule
	keys      []string
	fetchSize int

	lastKey   []any
	buffer    []row
	exhausted bool
}

func NewSnapshotReader(driver *Driver, config types.ReaderConfig) *SnapshotReader {
	fetchSize := config.FetchSize
	if fetchSize <= 0 {
		fetchSize = defaultFetchSize
	}
	return &SnapshotReader{
		driver:    driver,
		config:    config,
		rule:      config.Table(),
		fetchSize: fetchSize,
	}
}

func (s *SnapshotReader) Open(ctx context.Context) error {
	if s.keys == nil {
		keys, err := s.driver.ResolveKeys(ctx, s.rule)
		if err != nil {
			return err
		}
		s.keys = keys
	}
	// rows buffered before a failure are fetched again past lastKey
	s.buffer = nil
	s.exhausted = false
	return nil
}

func (s *SnapshotReader) Next(ctx context.Context) (types.ChangeRecord, error) {
	if s.keys == nil {
		return types.ChangeRecord{}, fmt.Errorf("snapshot reader of table[%s] is not open", s.rule.Source)
	}
	if len(s.buffer) == 0 && !s.exhausted {
		if err := s.fetch(ctx); err != nil {
			return types.ChangeRecord{}, err
		}
	}
	if len(s.buffer) == 0 {
		return types.ChangeRecord{}, abstract.ErrEndOfStream
	}

	current := s.buffer[0]
	s.buffer = s.buffer[1:]

	record, lastKey, err := s.toRecord(current)
	if err != nil {
		return types.ChangeRecord{}, err
	}
	s.lastKey = lastKey
	return record, nil
}

func (s *SnapshotReader) fetch(ctx context.Context) error {
	query, args := jdbc.ChunkScanQuery(s.driver.Type(), s.rule.Source, s.keys, s.config.Range, s.lastKey, s.fetchSize)
	logger.Debugf("fetching page of table[%s]: %s %v", s.rule.Source, query, args)

	reader := jdbc.NewReader(ctx, query, s.driver.Client.QueryContext, args...)
	err := reader.Capture(func(rows *sql.Rows) error {
		columns, values, err := jdbc.ScanRow(rows)
		if err != nil {
			return err
		}
		s.buffer = append(s.buffer, row{columns: columns, values: values})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan table[%s] range %v: %w", s.rule.Source, s.config.Range, err)
	}
	s.exhausted = len(s.buffer) < s.fetchSize
	return nil
}

func (s *SnapshotReader) toRecord(current row) (types.ChangeRecord, []any, error) {
	record := types.ChangeRecord{
		Type:    types.Insert,
		Table:   s.rule.Source,
		Columns: make([]types.Column, len(current.columns)),
	}
	keyIndex := make(map[string]int, len(s.keys))
	for i, key := range s.keys {
		keyIndex[key] = i
	}

	lastKey := make([]any, len(s.keys))
	found := 0
	for i, name := range current.columns {
		idx, isKey := keyIndex[name]
		record.Columns[i] = types.Column{Name: name, Value: current.values[i], IsKey: isKey}
		if isKey {
			lastKey[idx] = current.values[i]
			found++
		}
	}
	if found != len(s.keys) {
		return types.ChangeRecord{}, nil, fmt.Errorf("%w: table[%s] rows do not carry key columns %v", types.ErrSchemaMismatch, s.rule.Source, s.keys)
	}
	return record, lastKey, nil
}

// Split estimates the range of the first key column and partitions it into
// n reader configs
func (s *SnapshotReader) Split(ctx context.Context, n int) ([]types.ReaderConfig, error) {
	if s.keys == nil {
		if err := s.Open(ctx); err != nil {
			return nil, err
		}
	}

	minValue, maxValue, err := s.driver.EstimateRange(ctx, s.rule.Source, s.keys[0])
	if err != nil {
		return nil, err
	}

	chunks := splitter.SplitRange(minValue, maxValue, n)
	configs := make([]types.ReaderConfig, len(chunks))
	for i := range chunks {
		configs[i] = s.config
		configs[i].Tables = []types.TableRule{s.rule}
		configs[i].Tables[0].KeyColumns = s.keys
		configs[i].Range = &chunks[i]
	}
	logger.Infof("split table[%s] on key[%s] range [%v, %v] into %d slices", s.rule.Source, s.keys[0], minValue, maxValue, len(configs))
	return configs, nil
}

func (s *SnapshotReader) Close() error {
	s.buffer = nil
	return nil
}
