// Package postgres opens the ledger store on PostgreSQL through pgx.
//
// Rows are locked with SELECT ... FOR UPDATE and every transaction sets a
// local lock_timeout, so a writer stuck behind another surfaces as a
// retryable conflict instead of waiting forever.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	ledgerlog "ledger/internal/log"
	"ledger/internal/storage/sqlstore"
)

const (
	defaultLockTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Options struct {
	DSN          string
	LockTimeout  time.Duration
	MaxOpenConns int
	MaxIdleConns int
}

func (o *Options) initDefaults() {
	if o.LockTimeout <= 0 {
		o.LockTimeout = defaultLockTimeout
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = defaultMaxOpenConns
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = defaultMaxIdleConns
	}
}

// Open connects, applies migrations and returns a ready store.
func Open(ctx context.Context, opts Options) (*sqlstore.Store, error) {
	opts.initDefaults()
	if opts.DSN == "" {
		return nil, errors.New("postgres store needs a DSN")
	}

	db, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(opts.DSN); err != nil {
		db.Close()
		return nil, err
	}

	slog.InfoContext(ctx, "PostgreSQL ledger store ready",
		ledgerlog.FieldComponent, ledgerlog.ComponentStorage,
		"lock_timeout", opts.LockTimeout)
	return sqlstore.NewStore(db, NewDialect(opts.LockTimeout)), nil
}

// NewDialect returns the PostgreSQL dialect with the given row lock wait bound.
func NewDialect(lockTimeout time.Duration) sqlstore.Dialect {
	stmt := lockTimeoutStatement(lockTimeout)
	return sqlstore.Dialect{
		Name:       "postgres",
		Numbered:   true,
		LockClause: " FOR UPDATE",
		Classify:   classify,
		OnBegin: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, stmt)
			return err
		},
	}
}

func lockTimeoutStatement(d time.Duration) string {
	if d <= 0 {
		d = defaultLockTimeout
	}
	// SET does not take bind parameters
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds())
}

// RunMigrations applies the embedded schema on a dedicated connection.
func RunMigrations(dsn string) error {
	migrateDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := migratepostgres.WithInstance(migrateDB, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver instance: %w", err)
	}

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			return fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

func classify(err error) sqlstore.ErrorKind {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return sqlstore.KindOther
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return sqlstore.KindUnique
	case codeForeignKeyViolation:
		return sqlstore.KindForeignKey
	case codeCheckViolation:
		return sqlstore.KindCheck
	case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
		return sqlstore.KindBusy
	}
	return sqlstore.KindOther
}
