package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/drivers/base"
	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

// MySQL represents the MySQL database driver
type MySQL struct {
	*base.Driver
}

func New() *MySQL {
	return &MySQL{Driver: base.NewBase(constants.MySQL)}
}

// Check verifies the connection and the binary log settings row based change
// capture depends on
func (m *MySQL) Check(ctx context.Context) error {
	if err := m.Driver.Check(ctx); err != nil {
		return err
	}

	logBin, err := m.variable(ctx, jdbc.MySQLLogBinQuery())
	if err != nil {
		return fmt.Errorf("failed to check log_bin: %w", err)
	}
	if !strings.EqualFold(logBin, "ON") {
		return fmt.Errorf("%w: log_bin is not set to 'ON'", constants.ErrNonRetryable)
	}

	format, err := m.variable(ctx, jdbc.MySQLBinlogFormatQuery())
	if err != nil {
		return fmt.Errorf("failed to check binlog_format: %w", err)
	}
	if !strings.EqualFold(format, "ROW") {
		return fmt.Errorf("%w: binlog_format is not set to ROW", constants.ErrNonRetryable)
	}

	metadata, err := m.variable(ctx, "SHOW VARIABLES LIKE 'binlog_row_metadata'")
	if err == nil && !strings.EqualFold(metadata, "FULL") {
		logger.Warnf("binlog_row_metadata is not set to FULL, column names are read from the schema once per stream")
	}
	return nil
}

// variable reads the value of a SHOW VARIABLES LIKE query
func (m *MySQL) variable(ctx context.Context, query string) (string, error) {
	var name, value string
	if err := m.Client.QueryRowContext(ctx, query).Scan(&name, &value); err != nil {
		return "", err
	}
	return value, nil
}

func (m *MySQL) NewCDCReader(config types.ReaderConfig) (abstract.CDCReader, error) {
	if m.Client == nil {
		return nil, fmt.Errorf("driver[%s] is not set up", m.Type())
	}
	return &cdcReader{driver: m, config: config}, nil
}
