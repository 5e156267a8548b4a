package jdbc

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/datazip-inc/olake-scaling/types"
)

type Reader[T types.Iterable] struct {
	query string
	args  []any
	ctx   context.Context

	exec func(ctx context.Context, query string, args ...any) (T, error)
}

func NewReader[T types.Iterable](ctx context.Context, baseQuery string,
	exec func(ctx context.Context, query string, args ...any) (T, error), args ...any) *Reader[T] {
	return &Reader[T]{
		query: baseQuery,
		ctx:   ctx,
		exec:  exec,
		args:  args,
	}
}

func (o *Reader[T]) Capture(onCapture func(T) error) error {
	if strings.HasSuffix(o.query, ";") {
		return fmt.Errorf("base query ends with ';': %s", o.query)
	}

	rows, err := o.exec(o.ctx, o.query, o.args...)
	if err != nil {
		return err
	}
	if closer, ok := any(rows).(interface{ Close() error }); ok {
		defer closer.Close()
	}

	for rows.Next() {
		err := onCapture(rows)
		if err != nil {
			return err
		}
	}

	return rows.Err()
}

// ScanRow scans the current row into column names and values in select order.
// Text encoded values are converted according to their database type.
func ScanRow(rows *sql.Rows) ([]string, []any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}

	scanValues := make([]any, len(columns))
	for i := range scanValues {
		scanValues[i] = new(any) // Allocate pointers for scanning
	}
	if err := rows.Scan(scanValues...); err != nil {
		return nil, nil, err
	}

	values := make([]any, len(columns))
	for i := range columns {
		rawData := *(scanValues[i].(*any)) // Dereference pointer before storing
		conv, err := NormalizeValue(rawData, colTypes[i].DatabaseTypeName())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to convert value for column %s: %s", columns[i], err)
		}
		values[i] = conv
	}
	return columns, values, nil
}

// NormalizeValue converts raw driver values into the small set of Go types the
// pipeline works with: int64, uint64, float64, string, []byte, bool and time.Time
func NormalizeValue(value any, columnType string) (any, error) {
	columnType = strings.ToUpper(columnType)
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		switch {
		case isBinaryType(columnType):
			out := make([]byte, len(v))
			copy(out, v)
			return out, nil
		case strings.HasPrefix(columnType, "UNSIGNED") && isIntegerType(columnType):
			return strconv.ParseUint(string(v), 10, 64)
		case isIntegerType(columnType):
			return strconv.ParseInt(string(v), 10, 64)
		case isFloatType(columnType):
			return strconv.ParseFloat(string(v), 64)
		default:
			return string(v), nil
		}
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float32:
		return float64(v), nil
	case time.Time:
		return v.UTC(), nil
	default:
		return v, nil
	}
}

func isIntegerType(columnType string) bool {
	columnType = strings.TrimPrefix(columnType, "UNSIGNED ")
	switch columnType {
	case "INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT", "INT2", "INT4", "INT8", "YEAR":
		return true
	}
	return false
}

func isFloatType(columnType string) bool {
	switch columnType {
	case "FLOAT", "DOUBLE", "REAL", "FLOAT4", "FLOAT8":
		return true
	}
	return false
}

func isBinaryType(columnType string) bool {
	switch columnType {
	case "BLOB", "BINARY", "VARBINARY", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BYTEA", "BIT":
		return true
	}
	return false
}
