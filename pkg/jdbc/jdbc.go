package jdbc

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils/logger"
	"github.com/jmoiron/sqlx"
)

// QuoteIdentifier returns the properly quoted identifier based on database driver
func QuoteIdentifier(identifier string, driver constants.DriverType) string {
	switch driver {
	case constants.MySQL:
		return fmt.Sprintf("`%s`", identifier) // MySQL uses backticks for quoting identifiers
	case constants.Postgres, constants.SQLite:
		return fmt.Sprintf("%q", identifier)
	default:
		return identifier
	}
}

// GetPlaceholder returns the appropriate placeholder for the given driver
func GetPlaceholder(driver constants.DriverType) func(int) string {
	switch driver {
	case constants.Postgres:
		return func(i int) string { return fmt.Sprintf("$%d", i) }
	default:
		return func(_ int) string { return "?" }
	}
}

// QuoteTable returns the properly quoted table name, qualified by schema when
// the name is of the form "schema.table"
func QuoteTable(name string, driver constants.DriverType) string {
	schema, table := types.SplitTableName(name)
	if schema == "" {
		return QuoteIdentifier(table, driver)
	}
	return fmt.Sprintf("%s.%s",
		QuoteIdentifier(schema, driver),
		QuoteIdentifier(table, driver))
}

// QuoteColumns returns a slice of quoted column names
func QuoteColumns(columns []string, driver constants.DriverType) []string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = QuoteIdentifier(col, driver)
	}
	return quoted
}

// MinMaxQuery returns the query to fetch the bounds of a key column
func MinMaxQuery(driver constants.DriverType, table, column string) string {
	quotedColumn := QuoteIdentifier(column, driver)
	return fmt.Sprintf(
		`SELECT MIN(%[1]s) AS min_value, MAX(%[1]s) AS max_value FROM %[2]s`,
		quotedColumn, QuoteTable(table, driver),
	)
}

// ChunkScanQuery returns a keyset paginated scan over one chunk of a table.
// The chunk bounds apply to the first key column; after, when set, holds the
// last key read and resumes strictly past it.
// Example:
// Input:
//
//	table = "users", keys = []string{"id"}, chunk = [100, 200), after = [150], limit = 500
//
// Output (mysql):
//
//	SELECT * FROM `users` WHERE `id` >= ? AND `id` < ? AND (`id`) > (?) ORDER BY `id` LIMIT 500
func ChunkScanQuery(driver constants.DriverType, table string, keys []string, chunk *types.Chunk, after []any, limit int) (string, []any) {
	placeholder := GetPlaceholder(driver)
	quotedKeys := QuoteColumns(keys, driver)

	var (
		conditions []string
		args       []any
	)
	next := func(value any) string {
		args = append(args, value)
		return placeholder(len(args))
	}

	if chunk != nil {
		if chunk.Min != nil {
			conditions = append(conditions, fmt.Sprintf("%s >= %s", quotedKeys[0], next(chunk.Min)))
		}
		if chunk.Max != nil {
			conditions = append(conditions, fmt.Sprintf("%s < %s", quotedKeys[0], next(chunk.Max)))
		}
	}
	if len(after) == len(keys) && len(after) > 0 {
		values := make([]string, len(after))
		for i, value := range after {
			values[i] = next(value)
		}
		conditions = append(conditions, fmt.Sprintf("(%s) > (%s)", strings.Join(quotedKeys, ", "), strings.Join(values, ", ")))
	}

	query := fmt.Sprintf("SELECT * FROM %s", QuoteTable(table, driver))
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY " + strings.Join(quotedKeys, ", ")
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return query, args
}

// CountQuery returns the query to count the rows of one chunk
func CountQuery(driver constants.DriverType, table, column string, chunk *types.Chunk) (string, []any) {
	query, args := ChunkScanQuery(driver, table, []string{column}, chunk, nil, 0)
	query = strings.Replace(query, "SELECT *", "SELECT COUNT(*)", 1)
	return query[:strings.LastIndex(query, " ORDER BY ")], args
}

// MySQL-Specific Queries

// MySQLPrimaryKeyQuery returns the primary key columns of a table in key order,
// an empty schema falls back to the connected database
func MySQLPrimaryKeyQuery() string {
	return `
        SELECT COLUMN_NAME
        FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
        WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE())
        AND TABLE_NAME = ?
        AND CONSTRAINT_NAME = 'PRIMARY'
        ORDER BY ORDINAL_POSITION
	`
}

// MySQLMasterStatusQuery returns the query to fetch the current binlog position in MySQL
func MySQLMasterStatusQuery() string {
	return "SHOW MASTER STATUS"
}

// MySQLMasterStatusQueryNew returns the query to fetch the current binlog position in MySQL: mysql v8.4 and above
func MySQLMasterStatusQueryNew() string {
	return "SHOW BINARY LOG STATUS"
}

// MySQLLogBinQuery returns the query to fetch the log_bin variable in MySQL
func MySQLLogBinQuery() string {
	return "SHOW VARIABLES LIKE 'log_bin'"
}

// MySQLBinlogFormatQuery returns the query to fetch the binlog_format variable in MySQL
func MySQLBinlogFormatQuery() string {
	return "SHOW VARIABLES LIKE 'binlog_format'"
}

// MySQLTableColumnsQuery returns the columns of a table in ordinal order
func MySQLTableColumnsQuery() string {
	return `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
}

// MySQLVersion returns the version of the MySQL server
// It returns the flavor, major and minor version of the MySQL server
func MySQLVersion(ctx context.Context, client *sqlx.DB) (string, int, int, error) {
	var version string
	err := client.QueryRowContext(ctx, "SELECT @@version").Scan(&version)
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to get MySQL version: %s", err)
	}
	return ParseMySQLVersion(version)
}

func ParseMySQLVersion(version string) (string, int, int, error) {
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return "", 0, 0, fmt.Errorf("invalid version format")
	}
	majorVersion, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid major version: %s", err)
	}

	minor := parts[1]
	if idx := strings.IndexFunc(minor, func(r rune) bool { return r < '0' || r > '9' }); idx >= 0 {
		minor = minor[:idx]
	}
	minorVersion, err := strconv.Atoi(minor)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid minor version: %s", err)
	}

	mysqlFlavor := "MySQL"
	if strings.Contains(strings.ToUpper(version), "MARIADB") {
		mysqlFlavor = "MariaDB"
	}

	return mysqlFlavor, majorVersion, minorVersion, nil
}

// Postgres-Specific Queries

// PostgresWalLSNQuery returns the query to fetch the current WAL LSN in textual form
func PostgresWalLSNQuery() string {
	return `SELECT pg_current_wal_lsn()::text`
}

// PostgresWalLevelQuery returns the query to fetch the configured wal_level
func PostgresWalLevelQuery() string {
	return `SHOW wal_level`
}

// PostgresPrimaryKeyQuery returns the primary key columns of a relation in key order
func PostgresPrimaryKeyQuery() string {
	return `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND i.indisprimary
		ORDER BY array_position(i.indkey::int2[], a.attnum)
	`
}

// PostgresReplicationSlotQuery returns the query to fetch the plugin and confirmed flush LSN of a slot
func PostgresReplicationSlotQuery() string {
	return `SELECT plugin, confirmed_flush_lsn::text AS confirmed_flush_lsn FROM pg_replication_slots WHERE slot_name = $1`
}

// SQLite-Specific Queries

// SQLitePrimaryKeyQuery returns the primary key columns of a table in key order
func SQLitePrimaryKeyQuery() string {
	return `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`
}

// PrimaryKeyQuery returns the primary key lookup of a driver with its arguments
func PrimaryKeyQuery(driver constants.DriverType, table string) (string, []any) {
	schema, name := types.SplitTableName(table)
	switch driver {
	case constants.MySQL:
		return MySQLPrimaryKeyQuery(), []any{schema, name}
	case constants.Postgres:
		return PostgresPrimaryKeyQuery(), []any{QuoteTable(table, driver)}
	default:
		return SQLitePrimaryKeyQuery(), []any{name}
	}
}

// PrimaryKeys returns the primary key columns of a table
func PrimaryKeys(ctx context.Context, client *sqlx.DB, driver constants.DriverType, table string) ([]string, error) {
	query, args := PrimaryKeyQuery(driver, table)
	var keys []string
	if err := client.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, fmt.Errorf("failed to fetch primary key of table[%s]: %s", table, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: table[%s] has no primary key and no key columns configured", types.ErrSchemaMismatch, table)
	}
	return keys, nil
}

// WithTx runs fn inside a transaction, committing when fn succeeds. nil opts
// uses the driver defaults.
func WithTx(ctx context.Context, client *sqlx.DB, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := client.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %s", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			logger.Errorf("transaction rollback failed: %s", rerr)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
