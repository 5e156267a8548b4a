package jdbc

import (
	"fmt"
	"strings"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/utils"
)

// InsertQuery returns an insert that overwrites an already present row with
// the same key, so replayed inserts converge instead of failing.
// Example:
// Input:
//
//	table = "users", columns = []string{"id", "name"}, keys = []string{"id"}
//
// Output (postgres):
//
//	INSERT INTO "users" ("id", "name") VALUES ($1, $2) ON CONFLICT ("id") DO UPDATE SET "name" = excluded."name"
func InsertQuery(driver constants.DriverType, table string, columns, keys []string) string {
	placeholder := GetPlaceholder(driver)
	quoted := QuoteColumns(columns, driver)
	values := make([]string, len(columns))
	for i := range columns {
		values[i] = placeholder(i + 1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteTable(table, driver), strings.Join(quoted, ", "), strings.Join(values, ", "))

	var assignments []string
	for i, col := range columns {
		if utils.ExistInArray(keys, col) {
			continue
		}
		switch driver {
		case constants.MySQL:
			assignments = append(assignments, fmt.Sprintf("%[1]s = VALUES(%[1]s)", quoted[i]))
		default:
			assignments = append(assignments, fmt.Sprintf("%[1]s = excluded.%[1]s", quoted[i]))
		}
	}

	switch driver {
	case constants.MySQL:
		if len(assignments) == 0 {
			first := QuoteIdentifier(keys[0], driver)
			assignments = append(assignments, fmt.Sprintf("%s = %s", first, first))
		}
		return query + " ON DUPLICATE KEY UPDATE " + strings.Join(assignments, ", ")
	default:
		conflict := strings.Join(QuoteColumns(keys, driver), ", ")
		if len(assignments) == 0 {
			return query + fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", conflict)
		}
		return query + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", conflict, strings.Join(assignments, ", "))
	}
}

// UpdateQuery returns an update of the given columns, the row is matched on
// every key column. Arguments are bound as set values followed by key values.
func UpdateQuery(driver constants.DriverType, table string, columns, keys []string) string {
	placeholder := GetPlaceholder(driver)
	assignments := make([]string, len(columns))
	for i, col := range columns {
		assignments[i] = fmt.Sprintf("%s = %s", QuoteIdentifier(col, driver), placeholder(i+1))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		QuoteTable(table, driver), strings.Join(assignments, ", "), keyPredicate(driver, keys, len(columns)))
}

// DeleteQuery returns a delete matching every key column
func DeleteQuery(driver constants.DriverType, table string, keys []string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", QuoteTable(table, driver), keyPredicate(driver, keys, 0))
}

func keyPredicate(driver constants.DriverType, keys []string, offset int) string {
	placeholder := GetPlaceholder(driver)
	conditions := make([]string, len(keys))
	for i, key := range keys {
		conditions[i] = fmt.Sprintf("%s = %s", QuoteIdentifier(key, driver), placeholder(offset+i+1))
	}
	return strings.Join(conditions, " AND ")
}
