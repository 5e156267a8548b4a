package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS job_state (
	job_id           TEXT PRIMARY KEY,
	version          INTEGER NOT NULL,
	config_hash      TEXT NOT NULL,
	phase            TEXT NOT NULL,
	start_checkpoint TEXT,
	checkpoint       TEXT,
	committed        INTEGER NOT NULL DEFAULT 0,
	updated_at       TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS slice_state (
	job_id     TEXT NOT NULL,
	task_id    TEXT NOT NULL,
	table_name TEXT NOT NULL,
	key_range  TEXT NOT NULL,
	status     TEXT NOT NULL,
	position   INTEGER NOT NULL,
	PRIMARY KEY (job_id, task_id)
);`

type jobRow struct {
	JobID           string         `db:"job_id"`
	Version         int            `db:"version"`
	ConfigHash      string         `db:"config_hash"`
	Phase           string         `db:"phase"`
	StartCheckpoint sql.NullString `db:"start_checkpoint"`
	Checkpoint      sql.NullString `db:"checkpoint"`
	Committed       bool           `db:"committed"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

type sliceRow struct {
	TaskID   string `db:"task_id"`
	Table    string `db:"table_name"`
	KeyRange string `db:"key_range"`
	Status   string `db:"status"`
}

// SQLiteStore keeps job rows and slice rows in a sqlite database; checkpoints
// are stored in their string form
type SQLiteStore struct {
	client *sqlx.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	client, err := jdbc.Connect(ctx, types.DataSourceConfig{Type: constants.SQLite, Database: path})
	if err != nil {
		return nil, err
	}
	if _, err := client.ExecContext(ctx, sqliteSchema); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create state tables: %s", err)
	}
	return &SQLiteStore{client: client}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, jobID string) (*types.State, error) {
	var job jobRow
	err := s.client.GetContext(ctx, &job, `SELECT job_id, version, config_hash, phase, start_checkpoint, checkpoint, committed, updated_at FROM job_state WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job[%s]", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state of job[%s]: %s", jobID, err)
	}

	state := types.NewState(job.JobID, job.ConfigHash)
	state.Version = job.Version
	state.Phase = types.Phase(job.Phase)
	state.Committed = job.Committed
	state.UpdatedAt = job.UpdatedAt
	if state.StartCheckpoint, err = parseCheckpoint(job.StartCheckpoint); err != nil {
		return nil, err
	}
	if state.Checkpoint, err = parseCheckpoint(job.Checkpoint); err != nil {
		return nil, err
	}

	var slices []sliceRow
	if err := s.client.SelectContext(ctx, &slices, `SELECT task_id, table_name, key_range, status FROM slice_state WHERE job_id = ? ORDER BY position`, jobID); err != nil {
		return nil, fmt.Errorf("failed to load slices of job[%s]: %s", jobID, err)
	}
	for _, row := range slices {
		slice := &types.SliceState{TaskID: row.TaskID, Table: row.Table, Status: types.SliceStatus(row.Status)}
		if err := json.Unmarshal([]byte(row.KeyRange), &slice.Range); err != nil {
			return nil, fmt.Errorf("invalid range of slice[%s]: %s", row.TaskID, err)
		}
		state.Slices = append(state.Slices, slice)
	}
	return state, checkVersion(state)
}

func (s *SQLiteStore) Save(ctx context.Context, state *types.State) error {
	state.RLock()
	job := jobRow{
		JobID:           state.JobID,
		Version:         state.Version,
		ConfigHash:      state.ConfigHash,
		Phase:           string(state.Phase),
		StartCheckpoint: formatCheckpoint(state.StartCheckpoint),
		Checkpoint:      formatCheckpoint(state.Checkpoint),
		Committed:       state.Committed,
		UpdatedAt:       state.UpdatedAt,
	}
	slices := make([]sliceRow, len(state.Slices))
	for i, slice := range state.Slices {
		keyRange, err := json.Marshal(slice.Range)
		if err != nil {
			state.RUnlock()
			return fmt.Errorf("failed to encode range of slice[%s]: %s", slice.TaskID, err)
		}
		slices[i] = sliceRow{TaskID: slice.TaskID, Table: slice.Table, KeyRange: string(keyRange), Status: string(slice.Status)}
	}
	state.RUnlock()

	return jdbc.WithTx(ctx, s.client, nil, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO job_state (job_id, version, config_hash, phase, start_checkpoint, checkpoint, committed, updated_at)
VALUES (:job_id, :version, :config_hash, :phase, :start_checkpoint, :checkpoint, :committed, :updated_at)
ON CONFLICT (job_id) DO UPDATE SET version = excluded.version, config_hash = excluded.config_hash, phase = excluded.phase,
	start_checkpoint = excluded.start_checkpoint, checkpoint = excluded.checkpoint, committed = excluded.committed, updated_at = excluded.updated_at`, job)
		if err != nil {
			return fmt.Errorf("failed to save state of job[%s]: %s", job.JobID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM slice_state WHERE job_id = ?`, job.JobID); err != nil {
			return fmt.Errorf("failed to replace slices of job[%s]: %s", job.JobID, err)
		}
		for i, slice := range slices {
			_, err := tx.ExecContext(ctx, `INSERT INTO slice_state (job_id, task_id, table_name, key_range, status, position) VALUES (?, ?, ?, ?, ?, ?)`,
				job.JobID, slice.TaskID, slice.Table, slice.KeyRange, slice.Status, i)
			if err != nil {
				return fmt.Errorf("failed to save slice[%s]: %s", slice.TaskID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, jobID string) error {
	return jdbc.WithTx(ctx, s.client, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM slice_state WHERE job_id = ?`, jobID); err != nil {
			return fmt.Errorf("failed to delete slices of job[%s]: %s", jobID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM job_state WHERE job_id = ?`, jobID); err != nil {
			return fmt.Errorf("failed to delete state of job[%s]: %s", jobID, err)
		}
		return nil
	})
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	jobs := []string{}
	if err := s.client.SelectContext(ctx, &jobs, `SELECT job_id FROM job_state ORDER BY job_id`); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %s", err)
	}
	return jobs, nil
}

func (s *SQLiteStore) Close() error {
	return s.client.Close()
}

func formatCheckpoint(cp *types.Checkpoint) sql.NullString {
	if cp == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: cp.String(), Valid: true}
}

func parseCheckpoint(value sql.NullString) (*types.Checkpoint, error) {
	if !value.Valid {
		return nil, nil
	}
	cp, err := types.ParseCheckpoint(value.String)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}
