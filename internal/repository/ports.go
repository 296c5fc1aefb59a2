// Package repository defines the persistence ports the ledger core consumes.
//
// Implementations live under internal/storage. They translate driver errors
// into the core error taxonomy: absent rows become *core.NotFoundError, lock
// and busy timeouts become *core.ConflictError, unique (owner, name) violations
// become *core.DuplicateNameError and deletes blocked by a transfer become
// *core.ProtectedReferenceError.
package repository

import (
	"context"

	"ledger/internal/core"
)

type (
	// Reader holds the non-locking queries, usable inside and outside a transaction.
	Reader interface {
		GetAccount(ctx context.Context, id int64) (core.Account, error)
		FindAccountByName(ctx context.Context, ownerID int64, name string) (core.Account, error)
		ListAccounts(ctx context.Context, ownerID int64) ([]core.Account, error)
		ListAccountIDs(ctx context.Context) ([]int64, error)

		GetCategory(ctx context.Context, id int64) (core.Category, error)
		FindCategoryByName(ctx context.Context, ownerID int64, name string) (core.Category, error)
		ListCategories(ctx context.Context, ownerID int64) ([]core.Category, error)

		GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
		ListTransactions(ctx context.Context, accountID int64) ([]core.Transaction, error)
		SumTransactions(ctx context.Context, accountID int64) (core.Money, error)

		GetTransfer(ctx context.Context, id int64) (core.Transfer, error)
		// FindTransferByTransaction returns the transfer that links the
		// transaction on either side.
		FindTransferByTransaction(ctx context.Context, transactionID int64) (core.Transfer, error)
		// CountTransfersByAccount counts transfers with at least one leg on the account.
		CountTransfersByAccount(ctx context.Context, accountID int64) (int64, error)
	}

	// Tx is the write side of one atomic unit of work.
	Tx interface {
		Reader

		// LockAccount reads the account and holds an exclusive lock on its row
		// until the transaction ends.
		LockAccount(ctx context.Context, id int64) (core.Account, error)
		// LockTransaction reads the transaction row under an exclusive lock.
		LockTransaction(ctx context.Context, id int64) (core.Transaction, error)

		InsertAccount(ctx context.Context, a core.Account) (int64, error)
		// UpdateAccount persists name and initial value. It never touches the
		// running balance.
		UpdateAccount(ctx context.Context, a core.Account) error
		SetAccountBalance(ctx context.Context, id int64, balance core.Money) error
		// DeleteAccount removes the account together with its transactions
		// without unwinding their balance effect.
		DeleteAccount(ctx context.Context, id int64) error

		InsertCategory(ctx context.Context, c core.Category) (int64, error)
		UpdateCategory(ctx context.Context, c core.Category) error
		// DeleteCategory removes the category and clears it from every
		// transaction that referenced it.
		DeleteCategory(ctx context.Context, id int64) error

		InsertTransaction(ctx context.Context, t core.Transaction) (int64, error)
		UpdateTransaction(ctx context.Context, t core.Transaction) error
		DeleteTransaction(ctx context.Context, id int64) error

		InsertTransfer(ctx context.Context, tr core.Transfer) (int64, error)
		UpdateTransfer(ctx context.Context, tr core.Transfer) error
		DeleteTransfer(ctx context.Context, id int64) error
	}

	// Store is a ledger database.
	Store interface {
		Reader

		// InTx runs fn inside a single database transaction. The transaction
		// commits when fn returns nil and rolls back otherwise.
		InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

		Close() error
	}
)
