package mysql

import (
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	driver "github.com/datazip-inc/olake-scaling/drivers/mysql/internal"
)

// New creates an unconnected MySQL driver
func New() abstract.Driver {
	return driver.New()
}
