// Package sqlite provides a SQLite-backed storage driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/switchboard/pkg/storage/sqldriver"
)

// Driver implements storage.Driver and credentials.Store using SQLite.
type Driver struct {
	*sqldriver.Driver
}

// NewDriver creates a new SQLite-backed store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewDriver(ctx context.Context, dbPath string) (*Driver, error) {
	// Open the database using the github.com/mattn/go-sqlite3 driver (registered as "sqlite3")
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if isMemory(dbPath) {
		db.SetMaxOpenConns(1)
	}

	drv, err := sqldriver.Open(ctx, dialect.SQLite, db)
	if err != nil {
		return nil, err
	}

	return &Driver{Driver: drv}, nil
}

// dsn enables foreign keys, which ent's migration requires, and a busy
// timeout for concurrent writers.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_fk=1&_busy_timeout=5000"
}

func isMemory(dbPath string) bool {
	return strings.HasPrefix(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory")
}
