package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/drivers/base"
	"github.com/datazip-inc/olake-scaling/pkg/binlog"
	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

// cdcReader streams the binary log of the configured tables
type cdcReader struct {
	driver *MySQL
	config types.ReaderConfig
	guard  base.ReplayGuard
	conn   *binlog.Connection
}

func (r *cdcReader) Open(ctx context.Context) error {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}

	tables, err := r.tables(ctx)
	if err != nil {
		return err
	}

	start := r.guard.Start(r.config.Checkpoint)
	if start == nil {
		if start, err = r.MarkPosition(ctx); err != nil {
			return err
		}
	}

	source := r.driver.Config
	serverID := source.ServerID
	if serverID == 0 {
		//nolint:gosec,G115
		serverID = uint32(constants.DefaultServerID + time.Now().UnixNano()%4294966295)
	}
	config := &binlog.Config{
		ServerID: serverID,
		Flavor:   "mysql",
		Host:     source.Host,
		//nolint:gosec,G115
		Port:            uint16(source.Port),
		User:            source.Username,
		Password:        source.Password,
		Charset:         "utf8mb4",
		VerifyChecksum:  true,
		HeartbeatPeriod: 30 * time.Second,
	}

	conn, err := binlog.NewConnection(ctx, config, binlog.FromCheckpoint(*start), binlog.NewChangeFilter(tables...))
	if err != nil {
		return err
	}
	logger.Infof("binlog reader of %d tables starting at %s", len(tables), start)
	r.conn = conn
	return nil
}

// tables resolves columns and keys of every captured table
func (r *cdcReader) tables(ctx context.Context) ([]binlog.TableInfo, error) {
	tables := make([]binlog.TableInfo, 0, len(r.config.Tables))
	for _, rule := range r.config.Tables {
		schema, name := types.SplitTableName(rule.Source)
		if schema == "" {
			schema = r.driver.Config.Database
		}
		keys, err := r.driver.ResolveKeys(ctx, rule)
		if err != nil {
			return nil, err
		}
		var columns []string
		if err := r.driver.Client.SelectContext(ctx, &columns, jdbc.MySQLTableColumnsQuery(), schema, name); err != nil {
			return nil, fmt.Errorf("failed to fetch columns of table[%s]: %s", rule.Source, err)
		}
		tables = append(tables, binlog.TableInfo{Rule: rule, Schema: schema, Columns: columns, Keys: keys})
	}
	return tables, nil
}

func (r *cdcReader) Next(ctx context.Context) (types.ChangeRecord, error) {
	if r.conn == nil {
		return types.ChangeRecord{}, fmt.Errorf("binlog reader is not open")
	}
	for {
		record, err := r.conn.Next(ctx)
		if err != nil {
			return types.ChangeRecord{}, err
		}
		if r.guard.Admit(record) {
			return record, nil
		}
	}
}

// MarkPosition needs no preparation, the server keeps binlogs by its own
// retention settings
func (r *cdcReader) MarkPosition(ctx context.Context) (*types.Checkpoint, error) {
	return r.SourcePosition(ctx)
}

func (r *cdcReader) SourcePosition(ctx context.Context) (*types.Checkpoint, error) {
	pos, err := binlog.GetCurrentBinlogPosition(ctx, r.driver.Client)
	if err != nil {
		return nil, fmt.Errorf("failed to get current binlog position: %s", err)
	}
	checkpoint := binlog.ToCheckpoint(pos)
	return &checkpoint, nil
}

// Acknowledge is a no-op, binlog retention is a server setting
func (r *cdcReader) Acknowledge(_ context.Context, checkpoint types.Checkpoint) error {
	logger.Debugf("binlog applied up to %s", checkpoint)
	return nil
}

func (r *cdcReader) Close() error {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	return nil
}
