// Package services wires the ledger components into the operations callers
// use, and publishes balance events after each committed change.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/lock"
	ledgerlog "ledger/internal/log"
	"ledger/internal/repository"
)

// EventPublisher receives committed balance changes.
type EventPublisher interface {
	PublishBalanceChanged(ctx context.Context, change core.BalanceChange) error
}

// Options tunes a LedgerService. Zero values use the defaults.
type Options struct {
	LockTimeout          time.Duration
	ReconcileConcurrency int
	CategoryCacheSize    int
	CategoryCacheTTL     time.Duration
	Publisher            EventPublisher
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		LockTimeout:          5 * time.Second,
		ReconcileConcurrency: 4,
		CategoryCacheSize:    256,
		CategoryCacheTTL:     10 * time.Minute,
	}
}

// NewTransaction is the input of CreateTransaction. A zero Date means today.
type NewTransaction struct {
	AccountID   int64
	Value       core.Money
	CategoryID  *int64
	Title       string
	Description string
	Date        core.Date
}

// LedgerService orchestrates ledger operations across the store and the event bus
type LedgerService struct {
	store      repository.Store
	publisher  EventPublisher
	caches     *cache.Manager
	registry   *ledger.Registry
	maintainer *ledger.BalanceMaintainer
	transfers  *ledger.Transfers
	reconciler *ledger.Reconciler
}

func NewLedgerService(store repository.Store, opts Options) *LedgerService {
	defaults := DefaultOptions()
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaults.LockTimeout
	}
	if opts.ReconcileConcurrency <= 0 {
		opts.ReconcileConcurrency = defaults.ReconcileConcurrency
	}
	if opts.CategoryCacheSize <= 0 {
		opts.CategoryCacheSize = defaults.CategoryCacheSize
	}
	if opts.CategoryCacheTTL <= 0 {
		opts.CategoryCacheTTL = defaults.CategoryCacheTTL
	}

	locks := lock.NewManager(opts.LockTimeout)
	categories := cache.NewLRUCache[int64, core.Category](opts.CategoryCacheSize, opts.CategoryCacheTTL)
	caches := cache.NewManager()
	caches.Register(categories)
	caches.StartCleanup(opts.CategoryCacheTTL)

	registry := ledger.NewRegistry(store, locks, categories)
	return &LedgerService{
		store:      store,
		publisher:  opts.Publisher,
		caches:     caches,
		registry:   registry,
		maintainer: ledger.NewBalanceMaintainer(store, locks, categories),
		transfers:  ledger.NewTransfers(store),
		reconciler: ledger.NewReconciler(store, locks, opts.ReconcileConcurrency),
	}
}

// CreateTransaction posts a transaction and updates its account's balance.
func (s *LedgerService) CreateTransaction(ctx context.Context, in NewTransaction) (int64, error) {
	date := in.Date
	if date.IsZero() {
		date = core.Today()
	}
	t := core.Transaction{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		AccountID:   in.AccountID,
		Value:       in.Value,
		CategoryID:  in.CategoryID,
		Date:        date,
	}

	start := time.Now()
	created, changes, err := s.maintainer.ApplyCreate(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("create transaction: %w", err)
	}
	s.announce(ctx, changes, time.Since(start))
	return created.ID, nil
}

// UpdateTransaction edits a transaction, moving it between accounts when
// the update names another account.
func (s *LedgerService) UpdateTransaction(ctx context.Context, id int64, u ledger.TransactionUpdate) (core.Transaction, error) {
	start := time.Now()
	t, changes, err := s.maintainer.ApplyUpdate(ctx, id, u)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %d: %w", id, err)
	}
	s.announce(ctx, changes, time.Since(start))
	return t, nil
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, id int64) error {
	start := time.Now()
	changes, err := s.maintainer.ApplyDelete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	s.announce(ctx, changes, time.Since(start))
	return nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

func (s *LedgerService) ListTransactions(ctx context.Context, accountID int64) ([]core.Transaction, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, accountID)
}

// CreateAccount registers an account whose balance starts at initial.
func (s *LedgerService) CreateAccount(ctx context.Context, ownerID int64, name string, initial core.Money) (int64, error) {
	a, err := s.registry.CreateAccount(ctx, ownerID, name, initial)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	slog.InfoContext(ctx, "Account created",
		ledgerlog.FieldAccountID, a.ID,
		ledgerlog.FieldOwnerID, a.OwnerID,
		ledgerlog.FieldBalanceCents, a.Balance().Cents)
	return a.ID, nil
}

func (s *LedgerService) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	return s.registry.GetAccount(ctx, id)
}

func (s *LedgerService) ListAccounts(ctx context.Context, ownerID int64) ([]core.Account, error) {
	return s.registry.ListAccounts(ctx, ownerID)
}

func (s *LedgerService) RenameAccount(ctx context.Context, id int64, name string) (core.Account, error) {
	a, err := s.registry.RenameAccount(ctx, id, name)
	if err != nil {
		return core.Account{}, fmt.Errorf("rename account %d: %w", id, err)
	}
	return a, nil
}

// DeleteAccount removes the account together with its transactions.
func (s *LedgerService) DeleteAccount(ctx context.Context, id int64) error {
	if err := s.registry.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("delete account %d: %w", id, err)
	}
	slog.InfoContext(ctx, "Account deleted", ledgerlog.FieldAccountID, id)
	return nil
}

// ChangeInitialValue rebases the account on a new initial value.
func (s *LedgerService) ChangeInitialValue(ctx context.Context, id int64, initial core.Money) (core.Account, error) {
	start := time.Now()
	change, err := s.registry.ChangeInitialValue(ctx, id, initial)
	if err != nil {
		return core.Account{}, fmt.Errorf("change initial value of account %d: %w", id, err)
	}
	s.announce(ctx, []core.BalanceChange{change}, time.Since(start))
	return s.registry.GetAccount(ctx, id)
}

func (s *LedgerService) CreateCategory(ctx context.Context, ownerID int64, name string) (int64, error) {
	c, err := s.registry.CreateCategory(ctx, ownerID, name)
	if err != nil {
		return 0, fmt.Errorf("create category: %w", err)
	}
	return c.ID, nil
}

func (s *LedgerService) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	return s.registry.GetCategory(ctx, id)
}

func (s *LedgerService) ListCategories(ctx context.Context, ownerID int64) ([]core.Category, error) {
	return s.registry.ListCategories(ctx, ownerID)
}

func (s *LedgerService) RenameCategory(ctx context.Context, id int64, name string) (core.Category, error) {
	c, err := s.registry.RenameCategory(ctx, id, name)
	if err != nil {
		return core.Category{}, fmt.Errorf("rename category %d: %w", id, err)
	}
	return c, nil
}

// DeleteCategory removes the category and clears it from its transactions.
func (s *LedgerService) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.registry.DeleteCategory(ctx, id); err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	return nil
}

// CreateTransfer links a deposit and a withdrawal of equal and opposite value.
func (s *LedgerService) CreateTransfer(ctx context.Context, inID, outID int64) (int64, error) {
	tf, err := s.transfers.Create(ctx, inID, outID)
	if err != nil {
		return 0, fmt.Errorf("create transfer: %w", err)
	}
	slog.InfoContext(ctx, "Transfer created",
		ledgerlog.FieldTransferID, tf.ID,
		"transaction_in", tf.TransactionInID,
		"transaction_out", tf.TransactionOutID)
	return tf.ID, nil
}

func (s *LedgerService) UpdateTransfer(ctx context.Context, id, inID, outID int64) (core.Transfer, error) {
	tf, err := s.transfers.Update(ctx, id, inID, outID)
	if err != nil {
		return core.Transfer{}, fmt.Errorf("update transfer %d: %w", id, err)
	}
	return tf, nil
}

func (s *LedgerService) DeleteTransfer(ctx context.Context, id int64) error {
	if err := s.transfers.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete transfer %d: %w", id, err)
	}
	return nil
}

func (s *LedgerService) GetTransfer(ctx context.Context, id int64) (core.Transfer, error) {
	return s.transfers.Get(ctx, id)
}

// CheckAccount reports whether the account balance matches its transactions.
func (s *LedgerService) CheckAccount(ctx context.Context, id int64) (core.Reconciliation, error) {
	return s.reconciler.CheckAccount(ctx, id)
}

// ReconcileAccount repairs the account balance when it drifted.
func (s *LedgerService) ReconcileAccount(ctx context.Context, id int64) (core.Reconciliation, error) {
	rec, err := s.reconciler.ReconcileAccount(ctx, id)
	if err != nil {
		return core.Reconciliation{}, fmt.Errorf("reconcile account %d: %w", id, err)
	}
	s.reconciled(ctx, rec)
	return rec, nil
}

// ReconcileAll repairs every drifted account.
func (s *LedgerService) ReconcileAll(ctx context.Context) ([]core.Reconciliation, error) {
	recs, err := s.reconciler.ReconcileAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile accounts: %w", err)
	}
	for _, rec := range recs {
		s.reconciled(ctx, rec)
	}
	return recs, nil
}

func (s *LedgerService) reconciled(ctx context.Context, rec core.Reconciliation) {
	ledgerlog.NewStructuredLogger(ledgerlog.FromContext(ctx)).LogReconciliation(ctx, rec)
	if !rec.Repaired {
		return
	}
	s.publish(ctx, core.BalanceChange{
		AccountID: rec.AccountID,
		Operation: core.OpReconcile,
		Delta:     rec.Drift(),
		Balance:   rec.Expected,
	})
}

// announce logs and publishes committed changes. Publication is best effort:
// the local commit stands whatever the bus does.
func (s *LedgerService) announce(ctx context.Context, changes []core.BalanceChange, took time.Duration) {
	logger := ledgerlog.NewStructuredLogger(ledgerlog.FromContext(ctx))
	for _, change := range changes {
		logger.LogBalanceApplied(ctx, change, took)
		s.publish(ctx, change)
	}
}

func (s *LedgerService) publish(ctx context.Context, change core.BalanceChange) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "Event publisher not available, skipping balance event",
			ledgerlog.FieldAccountID, change.AccountID)
		return
	}
	if err := s.publisher.PublishBalanceChanged(ctx, change); err != nil {
		slog.ErrorContext(ctx, "Failed to publish balance event",
			ledgerlog.FieldAccountID, change.AccountID,
			ledgerlog.FieldOperation, change.Operation,
			ledgerlog.FieldError, err)
	}
}

// Close stops the cache janitor and closes the store.
func (s *LedgerService) Close() error {
	if s.caches != nil {
		s.caches.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return fmt.Errorf("close ledger service: %w", err)
		}
	}
	return nil
}
