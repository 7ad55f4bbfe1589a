// Package mysql provides a MySQL-backed storage driver.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"entgo.io/ent/dialect"
	gomysql "github.com/go-sql-driver/mysql"

	"github.com/papercomputeco/switchboard/pkg/storage/sqldriver"
)

// Driver implements storage.Driver and credentials.Store using MySQL.
type Driver struct {
	*sqldriver.Driver
}

// NewDriver creates a new MySQL-backed store. The dsn uses the
// go-sql-driver format, e.g. "switchboard:switchboard@tcp(localhost:3306)/switchboard".
// parseTime is always enabled so timestamps scan into time.Time.
func NewDriver(ctx context.Context, dsn string) (*Driver, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	cfg.ParseTime = true

	connector, err := gomysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db := sql.OpenDB(connector)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	drv, err := sqldriver.Open(ctx, dialect.MySQL, db)
	if err != nil {
		return nil, err
	}

	return &Driver{Driver: drv}, nil
}
