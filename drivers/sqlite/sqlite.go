package sqlite

import (
	"fmt"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/drivers/base"
	"github.com/datazip-inc/olake-scaling/types"
)

// SQLite reads snapshots of a database file. It has no change log to capture,
// so it serves as a target or as the source of history-only tests.
type SQLite struct {
	*base.Driver
}

func New() abstract.Driver {
	return &SQLite{Driver: base.NewBase(constants.SQLite)}
}

func (s *SQLite) NewCDCReader(_ types.ReaderConfig) (abstract.CDCReader, error) {
	return nil, fmt.Errorf("%w: sqlite has no change log", constants.ErrUnsupported)
}
