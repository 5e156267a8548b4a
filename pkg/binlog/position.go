package binlog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/utils/typeutils"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/jmoiron/sqlx"
)

// GetCurrentBinlogPosition reads the position the server is writing to
func GetCurrentBinlogPosition(ctx context.Context, client *sqlx.DB) (mysql.Position, error) {
	flavor, major, minor, err := jdbc.MySQLVersion(ctx, client)
	if err != nil {
		return mysql.Position{}, err
	}
	query := jdbc.MySQLMasterStatusQuery()
	// SHOW MASTER STATUS is gone since MySQL 8.4
	if flavor == "MySQL" && (major > 8 || (major == 8 && minor >= 4)) {
		query = jdbc.MySQLMasterStatusQueryNew()
	}

	rows, err := client.QueryContext(ctx, query)
	if err != nil {
		return mysql.Position{}, fmt.Errorf("failed to get master status: %s", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return mysql.Position{}, err
		}
		return mysql.Position{}, fmt.Errorf("no binlog position available, is log_bin enabled?")
	}
	columns, values, err := jdbc.ScanRow(rows)
	if err != nil {
		return mysql.Position{}, fmt.Errorf("failed to scan binlog position: %s", err)
	}
	return parseStatusRow(columns, values)
}

func parseStatusRow(columns []string, values []any) (mysql.Position, error) {
	var pos mysql.Position
	found := 0
	for i, column := range columns {
		switch column {
		case "File":
			pos.Name = typeutils.ToString(values[i])
			found++
		case "Position":
			offset, err := strconv.ParseUint(typeutils.ToString(values[i]), 10, 32)
			if err != nil {
				return mysql.Position{}, fmt.Errorf("invalid binlog position %v: %s", values[i], err)
			}
			pos.Pos = uint32(offset)
			found++
		}
	}
	if found != 2 {
		return mysql.Position{}, fmt.Errorf("unexpected master status columns %v", columns)
	}
	return pos, nil
}
