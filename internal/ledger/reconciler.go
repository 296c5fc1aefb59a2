package ledger

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"ledger/internal/core"
	"ledger/internal/lock"
	"ledger/internal/repository"
)

const defaultReconcileConcurrency = 4

// Reconciler recomputes cached balances from the transaction set and
// repairs drift.
type Reconciler struct {
	guard
	concurrency int
}

// NewReconciler creates a reconciler. concurrency bounds ReconcileAll; values
// below 1 use the default.
func NewReconciler(store repository.Store, locks *lock.Manager, concurrency int) *Reconciler {
	if concurrency < 1 {
		concurrency = defaultReconcileConcurrency
	}
	return &Reconciler{
		guard:       guard{store: store, locks: locks},
		concurrency: concurrency,
	}
}

func expectedBalance(ctx context.Context, r repository.Reader, a core.Account) (core.Money, error) {
	sum, err := r.SumTransactions(ctx, a.ID)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum transactions of account %d: %w", a.ID, err)
	}
	return a.InitialValue.Add(sum)
}

// CheckAccount reports drift without changing anything.
func (r *Reconciler) CheckAccount(ctx context.Context, id int64) (core.Reconciliation, error) {
	var rec core.Reconciliation
	err := r.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		a, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		expected, err := expectedBalance(ctx, tx, a)
		if err != nil {
			return err
		}
		rec = core.Reconciliation{AccountID: id, Stored: a.Balance(), Expected: expected}
		return nil
	})
	return rec, err
}

// ReconcileAccount sets current_value to initial_value plus the sum of the
// account's transactions when they disagree. An account that was never
// seeded is seeded here.
func (r *Reconciler) ReconcileAccount(ctx context.Context, id int64) (core.Reconciliation, error) {
	var rec core.Reconciliation
	err := r.run(ctx, []int64{id}, func(ctx context.Context, tx repository.Tx) error {
		a, err := tx.LockAccount(ctx, id)
		if err != nil {
			return err
		}
		expected, err := expectedBalance(ctx, tx, a)
		if err != nil {
			return err
		}

		rec = core.Reconciliation{AccountID: id, Stored: a.Balance(), Expected: expected}
		if a.CurrentValue != nil && rec.Consistent() {
			return nil
		}
		if err := tx.SetAccountBalance(ctx, id, expected); err != nil {
			return fmt.Errorf("repair account balance: %w", err)
		}
		rec.Repaired = true
		return nil
	})
	return rec, err
}

// ReconcileAll reconciles every account with bounded parallelism. Accounts
// deleted while the sweep runs are skipped. Results are in account id order.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]core.Reconciliation, error) {
	ids, err := r.store.ListAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	results := make([]core.Reconciliation, len(ids))
	found := make([]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := r.ReconcileAccount(gctx, id)
			if errors.Is(err, core.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reconcile account %d: %w", id, err)
			}
			results[i] = rec
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]core.Reconciliation, 0, len(ids))
	for i, rec := range results {
		if found[i] {
			out = append(out, rec)
		}
	}
	return out, nil
}
