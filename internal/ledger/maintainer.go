package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/lock"
	ledgerlog "ledger/internal/log"
	"ledger/internal/repository"
)

// TransactionUpdate describes an edit of a posted transaction. Nil pointers
// keep the current field, read under the row lock.
type TransactionUpdate struct {
	Value         *core.Money
	AccountID     int64 // zero keeps the current account
	Title         *string
	Description   *string
	CategoryID    *int64
	ClearCategory bool
	Date          *core.Date
}

func (u TransactionUpdate) apply(t core.Transaction) core.Transaction {
	if u.Value != nil {
		t.Value = *u.Value
	}
	if u.AccountID != 0 {
		t.AccountID = u.AccountID
	}
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	switch {
	case u.ClearCategory:
		t.CategoryID = nil
	case u.CategoryID != nil:
		id := *u.CategoryID
		t.CategoryID = &id
	}
	if u.Date != nil {
		t.Date = *u.Date
	}
	return t
}

// BalanceMaintainer applies transaction writes to their accounts' running
// balances. It is the only writer of current_value besides the reconciler
// and the rebase.
type BalanceMaintainer struct {
	guard
	categories cache.Cache[int64, core.Category]
}

// NewBalanceMaintainer creates a maintainer. categories is consulted before
// reading a category inside the store transaction and may be nil.
func NewBalanceMaintainer(store repository.Store, locks *lock.Manager, categories cache.Cache[int64, core.Category]) *BalanceMaintainer {
	return &BalanceMaintainer{
		guard:      guard{store: store, locks: locks},
		categories: categories,
	}
}

// ApplyCreate posts a new transaction and adds its value to the account.
func (m *BalanceMaintainer) ApplyCreate(ctx context.Context, t core.Transaction) (core.Transaction, []core.BalanceChange, error) {
	t.ID = 0
	if err := t.Validate(); err != nil {
		return core.Transaction{}, nil, err
	}

	var changes []core.BalanceChange
	err := m.run(ctx, []int64{t.AccountID}, func(ctx context.Context, tx repository.Tx) error {
		changes = nil

		acc, err := tx.LockAccount(ctx, t.AccountID)
		if err != nil {
			return err
		}
		if err := m.checkCategory(ctx, tx, acc, t.CategoryID); err != nil {
			return err
		}

		acc.SeedInitialBalance()
		balance, err := acc.Balance().Add(t.Value)
		if err != nil {
			return err
		}

		id, err := tx.InsertTransaction(ctx, t)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", m.staleCategory(ctx, t.CategoryID, err))
		}
		if err := tx.SetAccountBalance(ctx, acc.ID, balance); err != nil {
			return fmt.Errorf("update account balance: %w", err)
		}

		t.ID = id
		changes = append(changes, core.BalanceChange{
			AccountID:     acc.ID,
			TransactionID: id,
			Operation:     core.OpCreate,
			Delta:         t.Value,
			Balance:       balance,
		})
		return nil
	})
	if err != nil {
		return core.Transaction{}, nil, err
	}
	return t, changes, nil
}

// ApplyUpdate rewrites a posted transaction. On the same account the balance
// moves by new minus previous value; when the account changes the previous
// value leaves the old account and the new value lands on the new one.
func (m *BalanceMaintainer) ApplyUpdate(ctx context.Context, id int64, u TransactionUpdate) (core.Transaction, []core.BalanceChange, error) {
	peek, err := m.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, nil, err
	}
	if err := u.apply(peek).Validate(); err != nil {
		return core.Transaction{}, nil, err
	}

	target := peek.AccountID
	if u.AccountID != 0 {
		target = u.AccountID
	}

	var (
		next    core.Transaction
		changes []core.BalanceChange
	)
	err = m.run(ctx, []int64{peek.AccountID, target}, func(ctx context.Context, tx repository.Tx) error {
		changes = nil

		cur, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if cur.AccountID != peek.AccountID {
			return &core.ConflictError{
				Resource: fmt.Sprintf("transaction %d", id),
				Reason:   "moved to another account concurrently",
			}
		}

		accounts := make(map[int64]core.Account, 2)
		for _, accountID := range lock.Order([]int64{cur.AccountID, target}) {
			acc, err := tx.LockAccount(ctx, accountID)
			if err != nil {
				return err
			}
			acc.SeedInitialBalance()
			accounts[accountID] = acc
		}

		next = u.apply(cur)
		if err := next.Validate(); err != nil {
			return err
		}
		categoryChanged := !sameCategory(cur.CategoryID, next.CategoryID)
		if categoryChanged || target != cur.AccountID {
			if err := m.checkCategory(ctx, tx, accounts[target], next.CategoryID); err != nil {
				return err
			}
		}

		if target == cur.AccountID {
			delta, err := next.Value.Sub(cur.Value)
			if err != nil {
				return err
			}
			acc := accounts[target]
			balance, err := acc.Balance().Add(delta)
			if err != nil {
				return err
			}
			if err := tx.UpdateTransaction(ctx, next); err != nil {
				return fmt.Errorf("update transaction: %w", m.staleCategory(ctx, next.CategoryID, err))
			}
			if err := tx.SetAccountBalance(ctx, acc.ID, balance); err != nil {
				return fmt.Errorf("update account balance: %w", err)
			}
			if !delta.IsZero() {
				changes = append(changes, core.BalanceChange{
					AccountID: acc.ID, TransactionID: id, Operation: core.OpUpdate, Delta: delta, Balance: balance,
				})
			}
			return nil
		}

		from, to := accounts[cur.AccountID], accounts[target]
		fromBalance, err := from.Balance().Sub(cur.Value)
		if err != nil {
			return err
		}
		toBalance, err := to.Balance().Add(next.Value)
		if err != nil {
			return err
		}
		outDelta, err := core.Money{}.Sub(cur.Value)
		if err != nil {
			return err
		}

		if err := tx.UpdateTransaction(ctx, next); err != nil {
			return fmt.Errorf("update transaction: %w", m.staleCategory(ctx, next.CategoryID, err))
		}
		if err := tx.SetAccountBalance(ctx, from.ID, fromBalance); err != nil {
			return fmt.Errorf("update source account balance: %w", err)
		}
		if err := tx.SetAccountBalance(ctx, to.ID, toBalance); err != nil {
			return fmt.Errorf("update target account balance: %w", err)
		}

		changes = append(changes,
			core.BalanceChange{AccountID: from.ID, TransactionID: id, Operation: core.OpMoveOut, Delta: outDelta, Balance: fromBalance},
			core.BalanceChange{AccountID: to.ID, TransactionID: id, Operation: core.OpMoveIn, Delta: next.Value, Balance: toBalance},
		)
		return nil
	})
	if err != nil {
		return core.Transaction{}, nil, err
	}
	return next, changes, nil
}

// ApplyDelete removes a transaction and takes its value back out of the
// account. A transaction linked by a transfer cannot be deleted.
func (m *BalanceMaintainer) ApplyDelete(ctx context.Context, id int64) ([]core.BalanceChange, error) {
	peek, err := m.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	var changes []core.BalanceChange
	err = m.run(ctx, []int64{peek.AccountID}, func(ctx context.Context, tx repository.Tx) error {
		changes = nil

		cur, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if cur.AccountID != peek.AccountID {
			return &core.ConflictError{
				Resource: fmt.Sprintf("transaction %d", id),
				Reason:   "moved to another account concurrently",
			}
		}

		tf, err := tx.FindTransferByTransaction(ctx, id)
		switch {
		case err == nil:
			return &core.ProtectedReferenceError{Entity: "transaction", ID: id, ReferencedBy: "transfer", ReferenceID: tf.ID}
		case !errors.Is(err, core.ErrNotFound):
			return err
		}

		acc, err := tx.LockAccount(ctx, cur.AccountID)
		if err != nil {
			return err
		}
		acc.SeedInitialBalance()
		balance, err := acc.Balance().Sub(cur.Value)
		if err != nil {
			return err
		}
		delta, err := core.Money{}.Sub(cur.Value)
		if err != nil {
			return err
		}

		if err := tx.DeleteTransaction(ctx, id); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		if err := tx.SetAccountBalance(ctx, acc.ID, balance); err != nil {
			return fmt.Errorf("update account balance: %w", err)
		}

		changes = append(changes, core.BalanceChange{
			AccountID: acc.ID, TransactionID: id, Operation: core.OpDelete, Delta: delta, Balance: balance,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// checkCategory verifies that a referenced category exists and belongs to
// the account's owner.
func (m *BalanceMaintainer) checkCategory(ctx context.Context, tx repository.Reader, acc core.Account, categoryID *int64) error {
	if categoryID == nil {
		return nil
	}

	c, ok := m.cachedCategory(*categoryID)
	if !ok {
		var err error
		if c, err = tx.GetCategory(ctx, *categoryID); err != nil {
			return err
		}
		if m.categories != nil {
			m.categories.Set(c.ID, c)
		}
	}
	if c.OwnerID != acc.OwnerID {
		return core.NewValidationError("category", "category belongs to another owner")
	}
	return nil
}

// staleCategory handles a write rejected because its category was deleted
// after checkCategory passed, typically by another process while the cached
// copy was still live. The cache entry is dropped so the next attempt reads
// the store. The account rows are locked, so a dangling reference on such a
// write can only be the category and is reported as not found.
func (m *BalanceMaintainer) staleCategory(ctx context.Context, categoryID *int64, err error) error {
	if categoryID == nil {
		return err
	}
	var nf *core.NotFoundError
	missing := errors.As(err, &nf) && nf.Entity == "category"
	if !missing && !errors.Is(err, core.ErrStaleReference) {
		return err
	}
	if m.categories != nil {
		m.categories.Delete(*categoryID)
	}
	slog.WarnContext(ctx, "Category vanished before the transaction write",
		ledgerlog.FieldComponent, ledgerlog.ComponentLedger,
		ledgerlog.FieldCategoryID, *categoryID,
		ledgerlog.FieldError, err)
	if missing {
		return err
	}
	return &core.NotFoundError{Entity: "category", ID: *categoryID}
}

func (m *BalanceMaintainer) cachedCategory(id int64) (core.Category, bool) {
	if m.categories == nil {
		return core.Category{}, false
	}
	return m.categories.Get(id)
}

func sameCategory(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
