package binlog

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/logger"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
)

// Connection manages the binlog syncer and streamer for the captured tables.
type Connection struct {
	syncer   *replication.BinlogSyncer   // Binlog syncer instance
	streamer *replication.BinlogStreamer // Binlog event streamer
	filter   ChangeFilter
	// currentPos is the end of the last event read, txStart the end of the
	// last committed transaction; replays restart from txStart
	currentPos mysql.Position
	txStart    mysql.Position
	pending    []types.ChangeRecord
}

// NewConnection creates a new binlog connection starting from the given position.
func NewConnection(_ context.Context, config *Config, pos mysql.Position, filter ChangeFilter) (*Connection, error) {
	syncerConfig := replication.BinlogSyncerConfig{
		ServerID:        config.ServerID,
		Flavor:          config.Flavor,
		Host:            config.Host,
		Port:            config.Port,
		User:            config.User,
		Password:        config.Password,
		Charset:         config.Charset,
		VerifyChecksum:  config.VerifyChecksum,
		HeartbeatPeriod: config.HeartbeatPeriod,
		ParseTime:       true,
	}
	syncer := replication.NewBinlogSyncer(syncerConfig)
	streamer, err := syncer.StartSync(pos)
	if err != nil {
		syncer.Close()
		return nil, fmt.Errorf("failed to start binlog sync: %w", err)
	}
	return &Connection{
		syncer:     syncer,
		streamer:   streamer,
		filter:     filter,
		currentPos: pos,
		txStart:    pos,
	}, nil
}

// Next blocks until the next change of a captured table is available
func (c *Connection) Next(ctx context.Context) (types.ChangeRecord, error) {
	for len(c.pending) == 0 {
		ev, err := c.streamer.GetEvent(ctx)
		if err != nil {
			return types.ChangeRecord{}, err
		}
		if err := c.handle(ev); err != nil {
			return types.ChangeRecord{}, err
		}
	}

	record := c.pending[0]
	c.pending = c.pending[1:]
	return record, nil
}

func (c *Connection) handle(ev *replication.BinlogEvent) error {
	if ev.Header.LogPos > 0 {
		c.currentPos.Pos = ev.Header.LogPos
	}

	switch e := ev.Event.(type) {
	case *replication.RotateEvent:
		if e.Position > math.MaxUint32 {
			return fmt.Errorf("binlog position overflow: %d exceeds uint32 max value", e.Position)
		}
		c.currentPos = mysql.Position{Name: string(e.NextLogName), Pos: uint32(e.Position)}
		c.txStart = c.currentPos
		logger.Infof("Binlog rotated to %s:%d", c.currentPos.Name, c.currentPos.Pos)
	case *replication.XIDEvent:
		c.txStart = c.currentPos
	case *replication.QueryEvent:
		// statements outside a transaction, DDL mostly, are their own commit
		if !strings.EqualFold(strings.TrimSpace(string(e.Query)), "BEGIN") {
			c.txStart = c.currentPos
		}
	case *replication.RowsEvent:
		records, err := c.filter.FilterRowsEvent(e, ev, ToCheckpoint(c.txStart))
		if err != nil {
			return err
		}
		c.pending = append(c.pending, records...)
	}
	return nil
}

// Position returns the position replay has to restart from to lose nothing
func (c *Connection) Position() mysql.Position {
	return c.txStart
}

// Close terminates the binlog syncer.
func (c *Connection) Close() {
	c.syncer.Close()
}
