package postgres

import (
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	driver "github.com/datazip-inc/olake-scaling/drivers/postgres/internal"
)

// New creates an unconnected Postgres driver
func New() abstract.Driver {
	return driver.New()
}
