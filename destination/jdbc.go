package destination

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils"
	"github.com/datazip-inc/olake-scaling/utils/logger"
	"github.com/jmoiron/sqlx"
)

const (
	insertSavepoint = "olake_insert"
	updateSavepoint = "olake_update"
)

type operation string

const (
	insertOp operation = "insert"
	updateOp operation = "update"
	deleteOp operation = "delete"
)

// JDBCImporter applies batches to a MySQL, Postgres or SQLite target with
// parameterized statements built once per table, operation and column set.
type JDBCImporter struct {
	client     *sqlx.DB
	driver     constants.DriverType
	config     types.WriterConfig
	statements map[string]string
}

func NewJDBCImporter(client *sqlx.DB, config types.WriterConfig) Importer {
	return &JDBCImporter{
		client:     client,
		driver:     config.DataSource.Type,
		config:     config,
		statements: make(map[string]string),
	}
}

// Apply retries transient failures of the whole batch; the transaction is
// rolled back before every retry so a batch is never half applied.
func (i *JDBCImporter) Apply(ctx context.Context, batch *types.GroupedRecordBatch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	return utils.RetryOnBackoff(ctx, i.config.RetryCount, constants.DefaultRetryWait, retryable, func() error {
		return i.apply(ctx, batch)
	})
}

func retryable(err error) bool {
	return jdbc.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

func (i *JDBCImporter) apply(ctx context.Context, batch *types.GroupedRecordBatch) error {
	tx, err := i.client.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			logger.Errorf("transaction rollback failed: %s", rerr)
		}
	}()

	for _, table := range batch.Tables {
		rule, ok := i.config.Rule(table.Table)
		if !ok {
			rule = types.TableRule{Source: table.Table}
		}
		for _, record := range table.Inserts {
			if err := i.insert(ctx, tx, rule, record); err != nil {
				return err
			}
		}
		for _, record := range table.Updates {
			if err := i.update(ctx, tx, rule, record); err != nil {
				return err
			}
		}
		for _, record := range table.Deletes {
			if err := i.delete(ctx, tx, rule, record); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (i *JDBCImporter) insert(ctx context.Context, tx *sqlx.Tx, rule types.TableRule, record types.ChangeRecord) error {
	keys, err := keyColumns(rule, record)
	if err != nil {
		return err
	}
	columns := make([]string, len(record.Columns))
	args := make([]any, len(record.Columns))
	for idx, col := range record.Columns {
		columns[idx] = col.Name
		args[idx] = col.Value
	}

	query := i.statement(insertOp, rule.TargetTable(), columns, func() string {
		return jdbc.InsertQuery(i.driver, rule.TargetTable(), columns, keys)
	})

	_, duplicate, err := i.execKeyed(ctx, tx, insertSavepoint, query, args)
	if err != nil {
		return fmt.Errorf("failed to insert into table[%s]: %w", rule.TargetTable(), err)
	}
	if duplicate {
		logger.Debugf("row %v already present in table[%s], skipping insert", record.KeyValues(), rule.TargetTable())
	}
	return nil
}

// execKeyed runs a statement that may hit a unique key and reports the
// violation instead of failing. On postgres a failed statement aborts the
// whole transaction, so the statement runs inside a savepoint there.
func (i *JDBCImporter) execKeyed(ctx context.Context, tx *sqlx.Tx, savepoint, query string, args []any) (sql.Result, bool, error) {
	useSavepoint := i.driver == constants.Postgres
	if useSavepoint {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return nil, false, fmt.Errorf("failed to create savepoint: %w", err)
		}
	}

	result, err := i.exec(ctx, tx, query, args)
	duplicate := false
	switch {
	case err == nil:
	case jdbc.IsDuplicateKey(err):
		duplicate = true
		if useSavepoint {
			if _, rerr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rerr != nil {
				return nil, false, fmt.Errorf("failed to roll back to savepoint: %w", rerr)
			}
		}
	default:
		return nil, false, err
	}

	if useSavepoint {
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return nil, false, fmt.Errorf("failed to release savepoint: %w", err)
		}
	}
	return result, duplicate, nil
}

// update sets the changed columns and matches the row on its key before the
// change. A row missing from the target is written with the full image.
func (i *JDBCImporter) update(ctx context.Context, tx *sqlx.Tx, rule types.TableRule, record types.ChangeRecord) error {
	keys, err := keyColumns(rule, record)
	if err != nil {
		return err
	}

	var (
		columns []string
		args    []any
	)
	for _, col := range record.Columns {
		if col.Changed {
			columns = append(columns, col.Name)
			args = append(args, col.Value)
		}
	}
	if len(columns) == 0 {
		for _, col := range record.Columns {
			if !utils.ExistInArray(keys, col.Name) {
				columns = append(columns, col.Name)
				args = append(args, col.Value)
			}
		}
	}
	if len(columns) == 0 {
		return nil
	}

	keyChanged := false
	for _, key := range keys {
		col, _ := record.Column(key)
		args = append(args, utils.Ternary(col.Changed, col.OldValue, col.Value))
		keyChanged = keyChanged || col.Changed
	}

	query := i.statement(updateOp, rule.TargetTable(), append(columns, keys...), func() string {
		return jdbc.UpdateQuery(i.driver, rule.TargetTable(), columns, keys)
	})
	if !keyChanged {
		result, err := i.exec(ctx, tx, query, args)
		if err != nil {
			return fmt.Errorf("failed to update table[%s]: %w", rule.TargetTable(), err)
		}
		return i.writeMissing(ctx, tx, rule, record, result)
	}

	result, duplicate, err := i.execKeyed(ctx, tx, updateSavepoint, query, args)
	if err != nil {
		return fmt.Errorf("failed to update table[%s]: %w", rule.TargetTable(), err)
	}
	if duplicate {
		// the new key already holds a row copied after the change; the row at
		// the old key is gone on the source unless a later change brings it back
		logger.Debugf("key change of %v collides with an existing row in table[%s], replacing it", record.KeyValues(), rule.TargetTable())
		if err := i.deleteKey(ctx, tx, rule.TargetTable(), keys, args[len(columns):]); err != nil {
			return err
		}
		image := record.Clone()
		image.Type = types.Insert
		return i.insert(ctx, tx, rule, image)
	}
	return i.writeMissing(ctx, tx, rule, record, result)
}

// writeMissing writes the full image of an update that matched no row
func (i *JDBCImporter) writeMissing(ctx context.Context, tx *sqlx.Tx, rule types.TableRule, record types.ChangeRecord, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		logger.Debugf("update of %v matched no row in table[%s], writing full image", record.KeyValues(), rule.TargetTable())
		image := record.Clone()
		image.Type = types.Insert
		return i.insert(ctx, tx, rule, image)
	}
	return nil
}

func (i *JDBCImporter) delete(ctx context.Context, tx *sqlx.Tx, rule types.TableRule, record types.ChangeRecord) error {
	keys, err := keyColumns(rule, record)
	if err != nil {
		return err
	}
	args := make([]any, len(keys))
	for idx, key := range keys {
		col, _ := record.Column(key)
		args[idx] = col.Value
	}

	return i.deleteKey(ctx, tx, rule.TargetTable(), keys, args)
}

func (i *JDBCImporter) deleteKey(ctx context.Context, tx *sqlx.Tx, table string, keys []string, args []any) error {
	query := i.statement(deleteOp, table, keys, func() string {
		return jdbc.DeleteQuery(i.driver, table, keys)
	})
	if _, err := i.exec(ctx, tx, query, args); err != nil {
		return fmt.Errorf("failed to delete from table[%s]: %w", table, err)
	}
	return nil
}

func (i *JDBCImporter) exec(ctx context.Context, tx *sqlx.Tx, query string, args []any) (sql.Result, error) {
	if i.config.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.config.StatementTimeout)
		defer cancel()
	}
	return tx.ExecContext(ctx, query, args...)
}

// statement returns the cached query text for an operation on a column set
func (i *JDBCImporter) statement(op operation, table string, columns []string, build func() string) string {
	key := fmt.Sprintf("%s|%s|%s", op, table, strings.Join(columns, ","))
	if query, ok := i.statements[key]; ok {
		return query
	}
	query := build()
	i.statements[key] = query
	return query
}

func (i *JDBCImporter) Close() error {
	i.statements = make(map[string]string)
	return nil
}

// keyColumns returns the configured key columns of the rule or the key flags
// carried by the record
func keyColumns(rule types.TableRule, record types.ChangeRecord) ([]string, error) {
	keys := rule.KeyColumns
	if len(keys) == 0 {
		for _, col := range record.KeyColumns() {
			keys = append(keys, col.Name)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no key columns for table[%s]", types.ErrSchemaMismatch, record.Table)
	}
	for _, key := range keys {
		if _, ok := record.Column(key); !ok {
			return nil, fmt.Errorf("%w: key column[%s] missing from record of table[%s]", types.ErrSchemaMismatch, key, record.Table)
		}
	}
	return keys, nil
}
