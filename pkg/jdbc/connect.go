package jdbc

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the sqlite database/sql driver
)

const sqliteBusyTimeoutMs = 5000

// DSN returns the database/sql driver name and connection string of a data source
func DSN(config types.DataSourceConfig) (string, string, error) {
	switch config.Type {
	case constants.MySQL:
		cfg := mysql.NewConfig()
		cfg.User = config.Username
		cfg.Passwd = config.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
		cfg.DBName = config.Database
		cfg.ParseTime = true
		if len(config.Params) > 0 {
			cfg.Params = make(map[string]string, len(config.Params))
			for key, value := range config.Params {
				cfg.Params[key] = value
			}
		}
		return "mysql", cfg.FormatDSN(), nil
	case constants.Postgres:
		query := url.Values{}
		sslMode := config.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		query.Set("sslmode", sslMode)
		for key, value := range config.Params {
			query.Set(key, value)
		}
		dsn := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(config.Username, config.Password),
			Host:     net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
			Path:     "/" + config.Database,
			RawQuery: query.Encode(),
		}
		return "pgx", dsn.String(), nil
	case constants.SQLite:
		query := url.Values{}
		query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", sqliteBusyTimeoutMs))
		for key, value := range config.Params {
			query.Add(key, value)
		}
		return "sqlite", config.Database + "?" + query.Encode(), nil
	default:
		return "", "", fmt.Errorf("%w: driver type[%s]", constants.ErrUnsupported, config.Type)
	}
}

// Connect opens a connection pool to the data source and verifies it
func Connect(ctx context.Context, config types.DataSourceConfig) (*sqlx.DB, error) {
	driverName, dsn, err := DSN(config)
	if err != nil {
		return nil, err
	}

	client, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %s", config.Type, err)
	}

	switch {
	case config.Type == constants.SQLite:
		// single writer, concurrent connections only contend on the file lock
		client.SetMaxOpenConns(1)
	case config.MaxOpenConns > 0:
		client.SetMaxOpenConns(config.MaxOpenConns)
	}

	if err := client.PingContext(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping %s database[%s]: %s", config.Type, config.Database, err)
	}
	return client, nil
}
