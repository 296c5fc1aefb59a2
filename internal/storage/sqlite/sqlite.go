// Package sqlite opens the default ledger store on a SQLite file.
//
// SQLite has no row locks. Every transaction is started with BEGIN IMMEDIATE
// so it takes the database write lock up front, and busy_timeout bounds how
// long it waits for another writer. Per-account ordering across goroutines is
// provided by the lock manager in front of the store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	ledgerlog "ledger/internal/log"
	"ledger/internal/storage/sqlstore"
)

const DefaultBusyTimeout = 5 * time.Second

type Options struct {
	Path        string
	BusyTimeout time.Duration
}

// DSN builds the modernc.org/sqlite connection string with the pragmas the
// store relies on.
func DSN(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	return fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
		path, busyTimeout.Milliseconds())
}

// Open creates the database file if needed, applies migrations and returns
// a ready store. Use the memory backend for a throwaway ledger.
func Open(ctx context.Context, opts Options) (*sqlstore.Store, error) {
	if opts.Path == "" || opts.Path == ":memory:" {
		return nil, fmt.Errorf("sqlite store needs a file path, got %q", opts.Path)
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(opts.Path, opts.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.InfoContext(ctx, "SQLite ledger store ready",
		ledgerlog.FieldComponent, ledgerlog.ComponentStorage,
		"path", opts.Path)
	return sqlstore.NewStore(db, Dialect), nil
}

// Dialect runs the shared queries on SQLite.
var Dialect = sqlstore.Dialect{
	Name:     "sqlite",
	Classify: classify,
}
