package drivers

import (
	"fmt"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/destination"
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/drivers/mysql"
	"github.com/datazip-inc/olake-scaling/drivers/postgres"
	"github.com/datazip-inc/olake-scaling/drivers/sqlite"
)

// Registry maps data source types to reader and importer constructors. It is
// built once by the binary and passed to the controller.
type Registry struct {
	Drivers   map[constants.DriverType]abstract.NewDriverFunc
	Importers map[constants.DriverType]destination.NewFunc
}

// NewRegistry returns the registry of every supported database
func NewRegistry() *Registry {
	return &Registry{
		Drivers: map[constants.DriverType]abstract.NewDriverFunc{
			constants.MySQL:    mysql.New,
			constants.Postgres: postgres.New,
			constants.SQLite:   sqlite.New,
		},
		Importers: map[constants.DriverType]destination.NewFunc{
			constants.MySQL:    destination.NewJDBCImporter,
			constants.Postgres: destination.NewJDBCImporter,
			constants.SQLite:   destination.NewJDBCImporter,
		},
	}
}

func (r *Registry) Driver(driverType constants.DriverType) (abstract.Driver, error) {
	newDriver, found := r.Drivers[driverType]
	if !found {
		return nil, fmt.Errorf("%w: no driver registered for [%s]", constants.ErrUnsupported, driverType)
	}
	return newDriver(), nil
}

func (r *Registry) Importer(driverType constants.DriverType) (destination.NewFunc, error) {
	newImporter, found := r.Importers[driverType]
	if !found {
		return nil, fmt.Errorf("%w: no importer registered for [%s]", constants.ErrUnsupported, driverType)
	}
	return newImporter, nil
}
