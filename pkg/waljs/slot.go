package waljs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/utils/logger"
	"github.com/jackc/pglogrepl"
	"github.com/jmoiron/sqlx"
)

// EnsureSlot creates the logical replication slot when missing, so WAL from
// now on is retained for the change stream.
func EnsureSlot(ctx context.Context, db *sqlx.DB, slotName string) (*ReplicationSlot, error) {
	slot := ReplicationSlot{}
	err := db.GetContext(ctx, &slot, jdbc.PostgresReplicationSlotQuery(), slotName)
	switch {
	case err == nil:
		if slot.Plugin != outputPlugin {
			return nil, fmt.Errorf("%w: replication slot %s uses plugin %s, expected %s", constants.ErrNonRetryable, slotName, slot.Plugin, outputPlugin)
		}
		return &slot, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to read replication slot %s: %s", slotName, err)
	}

	var lsn string
	if err := db.GetContext(ctx, &lsn, `SELECT lsn::text FROM pg_create_logical_replication_slot($1, $2)`, slotName, outputPlugin); err != nil {
		return nil, fmt.Errorf("failed to create replication slot %s: %s", slotName, err)
	}
	consistent, err := pglogrepl.ParseLSN(lsn)
	if err != nil {
		return nil, err
	}
	logger.Infof("created replication slot %s at lsn %s", slotName, consistent)
	return &ReplicationSlot{Plugin: outputPlugin, LSN: consistent}, nil
}

// EnsurePublication creates a publication for the given tables when missing
func EnsurePublication(ctx context.Context, db *sqlx.DB, publication string, tables []string) error {
	var exists bool
	if err := db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM pg_publication WHERE pubname = $1)`, publication); err != nil {
		return fmt.Errorf("failed to check publication %s: %s", publication, err)
	}
	if exists {
		return nil
	}

	quoted := make([]string, len(tables))
	for i, table := range tables {
		quoted[i] = jdbc.QuoteTable(table, constants.Postgres)
	}
	query := fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s", jdbc.QuoteIdentifier(publication, constants.Postgres), strings.Join(quoted, ", "))
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create publication %s: %s", publication, err)
	}
	return nil
}

// CurrentLSN returns the WAL position the server is writing at
func CurrentLSN(ctx context.Context, db *sqlx.DB) (pglogrepl.LSN, error) {
	var lsn string
	if err := db.GetContext(ctx, &lsn, jdbc.PostgresWalLSNQuery()); err != nil {
		return 0, fmt.Errorf("failed to get current lsn: %s", err)
	}
	return pglogrepl.ParseLSN(lsn)
}
