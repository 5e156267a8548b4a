package types

// Iterable is a cursor over query results, *sql.Rows satisfies it
type Iterable interface {
	Next() bool
	Err() error
}
