package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"ledger/internal/repository"
)

// Store is a repository.Store over a *sql.DB.
type Store struct {
	*Queries
	db *sql.DB
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{Queries: New(db, dialect), db: db}
}

// DB exposes the underlying pool for health checks and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InTx runs fn in a database transaction. Any error from fn rolls it back.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(err, "begin transaction")
	}

	if s.dialect.OnBegin != nil {
		if err := s.dialect.OnBegin(ctx, tx); err != nil {
			rollback(ctx, tx)
			return s.wrap(err, "prepare transaction")
		}
	}

	if err := fn(ctx, s.WithTx(tx)); err != nil {
		rollback(ctx, tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.wrap(err, "commit transaction")
	}
	return nil
}

func rollback(ctx context.Context, tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.WarnContext(ctx, "Transaction rollback failed", "error", err)
	}
}
