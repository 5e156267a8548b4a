package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/drivers/abstract"
	"github.com/datazip-inc/olake-scaling/drivers/base"
	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/datazip-inc/olake-scaling/types"
)

const defaultSchema = "public"

type Postgres struct {
	*base.Driver
}

func New() *Postgres {
	return &Postgres{Driver: base.NewBase(constants.Postgres)}
}

// Check verifies the connection and that the server decodes logical changes
func (p *Postgres) Check(ctx context.Context) error {
	if err := p.Driver.Check(ctx); err != nil {
		return err
	}
	var walLevel string
	if err := p.Client.GetContext(ctx, &walLevel, jdbc.PostgresWalLevelQuery()); err != nil {
		return fmt.Errorf("failed to check wal_level: %w", err)
	}
	if !strings.EqualFold(walLevel, "logical") {
		return fmt.Errorf("%w: wal_level is %s, logical replication requires 'logical'", constants.ErrNonRetryable, walLevel)
	}
	return nil
}

func (p *Postgres) NewCDCReader(config types.ReaderConfig) (abstract.CDCReader, error) {
	if p.Client == nil {
		return nil, fmt.Errorf("driver[%s] is not set up", p.Type())
	}
	return &cdcReader{driver: p, config: config}, nil
}

// replicationConnString opens the same database in logical replication mode
func replicationConnString(config types.DataSourceConfig) (string, error) {
	_, dsn, err := jdbc.DSN(config)
	if err != nil {
		return "", err
	}
	return dsn + "&replication=database", nil
}

func slotName(config types.DataSourceConfig) string {
	if config.ReplicationSlot == "" {
		return constants.DefaultReplicationSlot
	}
	return config.ReplicationSlot
}

func publicationName(config types.DataSourceConfig) string {
	if config.Publication == "" {
		return constants.DefaultPublication
	}
	return config.Publication
}
