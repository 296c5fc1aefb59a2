// Package ledger keeps account balances consistent with their transactions.
//
// Every write that can move a balance follows the same protocol: take the
// in-process locks of the accounts involved in ascending id order, open one
// database transaction, re-read and lock the rows, compute the delta, write
// the transaction row and the account balance, commit. Any failure rolls the
// whole unit back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ledger/internal/core"
	"ledger/internal/lock"
	"ledger/internal/repository"
)

// guard serializes writers on a set of accounts and runs fn in one store
// transaction while the locks are held.
type guard struct {
	store repository.Store
	locks *lock.Manager
}

func (g guard) run(ctx context.Context, accountIDs []int64, fn func(ctx context.Context, tx repository.Tx) error) error {
	err := g.locks.WithLocks(ctx, accountIDs, func(ctx context.Context) error {
		return g.store.InTx(ctx, fn)
	})
	if errors.Is(err, lock.ErrTimeout) {
		return &core.ConflictError{
			Resource: accountsResource(accountIDs),
			Reason:   "account lock not acquired in time",
			Err:      err,
		}
	}
	return err
}

func accountsResource(ids []int64) string {
	ordered := lock.Order(ids)
	parts := make([]string, len(ordered))
	for i, id := range ordered {
		parts[i] = fmt.Sprint(id)
	}
	if len(parts) == 1 {
		return "account " + parts[0]
	}
	return "accounts " + strings.Join(parts, ",")
}
