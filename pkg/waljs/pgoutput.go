package waljs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/logger"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

const defaultStandbyTimeout = 10 * time.Second

// Connection streams pgoutput changes of a replication slot
type Connection struct {
	conn    *pgconn.PgConn
	config  Config
	filter  ChangeFilter
	pending []types.ChangeRecord
	// txStart is the end of the last committed transaction; replays restart from it
	txStart pglogrepl.LSN
	// flushed is the position applied on the target, reported to the server
	flushed    atomic.Uint64
	nextStatus time.Time
}

// NewConnection starts replication from the given LSN
func NewConnection(ctx context.Context, config Config, start pglogrepl.LSN, filter ChangeFilter) (*Connection, error) {
	if config.StandbyTimeout <= 0 {
		config.StandbyTimeout = defaultStandbyTimeout
	}
	conn, err := pgconn.Connect(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to open replication connection: %s", err)
	}

	err = pglogrepl.StartReplication(ctx, conn, fmt.Sprintf("%q", config.ReplicationSlot), start, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{"proto_version '1'", fmt.Sprintf("publication_names '%s'", config.Publication)}})
	if err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("failed to start replication: %v", err)
	}
	logger.Infof("pgoutput starting from lsn=%s slot=%s", start, config.ReplicationSlot)

	c := &Connection{
		conn:    conn,
		config:  config,
		filter:  filter,
		txStart: start,
	}
	c.flushed.Store(uint64(start))
	return c, nil
}

// Next blocks until the next change of a captured relation is available
func (c *Connection) Next(ctx context.Context) (types.ChangeRecord, error) {
	for len(c.pending) == 0 {
		if !time.Now().Before(c.nextStatus) {
			if err := c.sendStatus(ctx); err != nil {
				return types.ChangeRecord{}, err
			}
		}

		recvCtx, cancel := context.WithDeadline(ctx, c.nextStatus)
		msg, err := c.conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) && ctx.Err() == nil {
				continue
			}
			return types.ChangeRecord{}, err
		}
		if err := c.handle(msg); err != nil {
			return types.ChangeRecord{}, err
		}
	}

	record := c.pending[0]
	c.pending = c.pending[1:]
	return record, nil
}

func (c *Connection) handle(msg pgproto3.BackendMessage) error {
	switch msg := msg.(type) {
	case *pgproto3.ErrorResponse:
		return pgconn.ErrorResponseToPgError(msg)
	case *pgproto3.CopyData:
		if len(msg.Data) == 0 {
			return nil
		}
		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("failed to parse primary keepalive message: %v", err)
			}
			if pkm.ReplyRequested {
				c.nextStatus = time.Time{}
			}
		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("failed to parse XLogData: %v", err)
			}
			return c.handleWAL(xld.WALData)
		default:
			logger.Debugf("pgoutput: unhandled message type: %d", msg.Data[0])
		}
	default:
		return fmt.Errorf("pgoutput unexpected message type: %T", msg)
	}
	return nil
}

func (c *Connection) handleWAL(walData []byte) error {
	logicalMsg, err := pglogrepl.Parse(walData)
	if err != nil {
		return fmt.Errorf("failed to parse WAL data: %v", err)
	}
	return c.apply(logicalMsg)
}

func (c *Connection) apply(logicalMsg pglogrepl.Message) error {
	if commit, ok := logicalMsg.(*pglogrepl.CommitMessage); ok {
		c.txStart = commit.TransactionEndLSN
		return nil
	}

	record, err := c.filter.FilterMessage(logicalMsg)
	if err != nil || record == nil {
		return err
	}
	position := ToCheckpoint(c.txStart)
	record.Position = &position
	c.pending = append(c.pending, *record)
	return nil
}

// Acknowledge records a position applied on the target. It is reported with
// the next standby status update, the connection itself is only used by Next.
func (c *Connection) Acknowledge(lsn pglogrepl.LSN) {
	for {
		current := c.flushed.Load()
		if uint64(lsn) <= current || c.flushed.CompareAndSwap(current, uint64(lsn)) {
			return
		}
	}
}

func (c *Connection) sendStatus(ctx context.Context) error {
	flushed := pglogrepl.LSN(c.flushed.Load())
	err := pglogrepl.SendStandbyStatusUpdate(ctx, c.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: flushed,
		WALFlushPosition: flushed,
		WALApplyPosition: flushed,
	})
	if err != nil {
		return fmt.Errorf("failed to send standby status update: %v", err)
	}
	c.nextStatus = time.Now().Add(c.config.StandbyTimeout)
	return nil
}

// Position returns the position replay has to restart from to lose nothing
func (c *Connection) Position() pglogrepl.LSN {
	return c.txStart
}

func (c *Connection) Close() error {
	return c.conn.Close(context.Background())
}
