// Package store is the durable record of API keys, usage events, quota
// counters, and operator accounts. It is the subsystem's sole source of
// truth and its sole synchronization point: no component keeps mutable
// state across requests.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Options configures the backing database.
type Options struct {
	// Driver is one of "sqlite" (default), "postgres", or "mysql".
	Driver string
	// DSN is the connection string for postgres/mysql. For mysql the DSN
	// must include parseTime=true. Ignored for sqlite when empty.
	DSN string
	// DataDir is the directory for the sqlite database file. Empty with an
	// empty DSN means an in-memory database, used by tests.
	DataDir string
}

// Store persists keymeter's state through sqlx. All methods are safe for
// concurrent use; cross-request coordination happens in the database.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens the database described by opts and runs migrations.
func NewStore(opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "sqlite"
	}

	var driverName, dsn string
	switch driver {
	case "sqlite":
		driverName = "sqlite"
		dsn = opts.DSN
		if dsn == "" {
			if opts.DataDir == "" {
				dsn = ":memory:?_journal_mode=WAL"
			} else {
				if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
					return nil, fmt.Errorf("create data dir: %w", err)
				}
				dsn = filepath.Join(opts.DataDir, "keymeter.db") + "?_journal_mode=WAL&_busy_timeout=5000"
			}
		}
	case "postgres":
		driverName = "pgx"
		dsn = opts.DSN
	case "mysql":
		driverName = "mysql"
		dsn = opts.DSN
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("store driver %q requires a DSN", driver)
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
