package base

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/jmoiron/sqlx"
)

// Driver holds the connection pool and the key column cache shared by the
// SQL drivers. Concrete drivers embed it and add their change capture.
type Driver struct {
	driverType constants.DriverType
	Config     types.DataSourceConfig
	Client     *sqlx.DB
	keyColumns sync.Map // table -> []string
}

func NewBase(driverType constants.DriverType) *Driver {
	return &Driver{driverType: driverType}
}

func (d *Driver) Type() constants.DriverType {
	return d.driverType
}

func (d *Driver) Setup(ctx context.Context, config types.DataSourceConfig) error {
	if config.Type != d.driverType {
		return fmt.Errorf("driver[%s] cannot serve data source of type[%s]", d.driverType, config.Type)
	}
	client, err := jdbc.Connect(ctx, config)
	if err != nil {
		return err
	}
	d.Config = config
	d.Client = client
	return nil
}

func (d *Driver) Check(ctx context.Context) error {
	if d.Client == nil {
		return fmt.Errorf("driver[%s] is not set up", d.driverType)
	}
	return d.Client.PingContext(ctx)
}

// KeyColumns returns the primary key columns of a table, cached per table
func (d *Driver) KeyColumns(ctx context.Context, table string) ([]string, error) {
	if keys, found := d.keyColumns.Load(table); found {
		return keys.([]string), nil
	}
	keys, err := jdbc.PrimaryKeys(ctx, d.Client, d.driverType, table)
	if err != nil {
		return nil, err
	}
	d.keyColumns.Store(table, keys)
	return keys, nil
}

// ResolveKeys prefers the key columns configured on the rule
func (d *Driver) ResolveKeys(ctx context.Context, rule types.TableRule) ([]string, error) {
	if len(rule.KeyColumns) > 0 {
		return rule.KeyColumns, nil
	}
	return d.KeyColumns(ctx, rule.Source)
}

// EstimateRange returns the smallest and largest value of a key column
func (d *Driver) EstimateRange(ctx context.Context, table, column string) (any, any, error) {
	var minValue, maxValue any
	reader := jdbc.NewReader(ctx, jdbc.MinMaxQuery(d.driverType, table, column), d.Client.QueryContext)
	err := reader.Capture(func(rows *sql.Rows) error {
		_, values, err := jdbc.ScanRow(rows)
		if err != nil {
			return err
		}
		minValue, maxValue = values[0], values[1]
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch key range of table[%s]: %s", table, err)
	}
	return minValue, maxValue, nil
}

func (d *Driver) NewSnapshotReader(config types.ReaderConfig) (abstract.SnapshotReader, error) {
	if d.Client == nil {
		return nil, fmt.Errorf("driver[%s] is not set up", d.driverType)
	}
	if len(config.Tables) != 1 {
		return nil, fmt.Errorf("snapshot reader expects exactly one table, got %d", len(config.Tables))
	}
	return NewSnapshotReader(d, config), nil
}

func (d *Driver) Close() error {
	if d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
