package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/lock"
	"ledger/internal/repository"
)

// Registry owns accounts and categories. Names are unique per owner: the
// registry checks first and the storage unique index closes the race
// between two concurrent creates.
type Registry struct {
	guard
	categories *cache.LRUCache[int64, core.Category]
}

// NewRegistry creates a registry. categoryCache may be nil to disable caching.
func NewRegistry(store repository.Store, locks *lock.Manager, categoryCache *cache.LRUCache[int64, core.Category]) *Registry {
	return &Registry{
		guard:      guard{store: store, locks: locks},
		categories: categoryCache,
	}
}

// CreateAccount stores a new account and seeds its running balance from
// the initial value.
func (r *Registry) CreateAccount(ctx context.Context, ownerID int64, name string, initial core.Money) (core.Account, error) {
	a := core.Account{OwnerID: ownerID, Name: strings.TrimSpace(name), InitialValue: initial}
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	a.SeedInitialBalance()

	err := r.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.FindAccountByName(ctx, a.OwnerID, a.Name)
		if err := nameFree(err); err != nil {
			if errors.Is(err, errNameTaken) {
				return &core.DuplicateNameError{Entity: "account", OwnerID: a.OwnerID, Name: a.Name}
			}
			return err
		}
		id, err := tx.InsertAccount(ctx, a)
		if err != nil {
			return err
		}
		a.ID = id
		return nil
	})
	if err != nil {
		return core.Account{}, err
	}
	return a, nil
}

func (r *Registry) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	return r.store.GetAccount(ctx, id)
}

func (r *Registry) ListAccounts(ctx context.Context, ownerID int64) ([]core.Account, error) {
	return r.store.ListAccounts(ctx, ownerID)
}

// RenameAccount changes the name only. The balance is left alone.
func (r *Registry) RenameAccount(ctx context.Context, id int64, name string) (core.Account, error) {
	name = strings.TrimSpace(name)

	var out core.Account
	err := r.run(ctx, []int64{id}, func(ctx context.Context, tx repository.Tx) error {
		a, err := tx.LockAccount(ctx, id)
		if err != nil {
			return err
		}
		a.Name = name
		if err := a.Validate(); err != nil {
			return err
		}
		existing, err := tx.FindAccountByName(ctx, a.OwnerID, name)
		if err == nil && existing.ID != id {
			return &core.DuplicateNameError{Entity: "account", OwnerID: a.OwnerID, Name: name}
		}
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// DeleteAccount removes the account and all its transactions in one go,
// without unwinding each transaction's effect on a balance that is about to
// disappear. It is refused while any of its transactions is a transfer leg.
func (r *Registry) DeleteAccount(ctx context.Context, id int64) error {
	return r.run(ctx, []int64{id}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.LockAccount(ctx, id); err != nil {
			return err
		}
		n, err := tx.CountTransfersByAccount(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return &core.ProtectedReferenceError{Entity: "account", ID: id, ReferencedBy: "transfer"}
		}
		return tx.DeleteAccount(ctx, id)
	})
}

// ChangeInitialValue rebases an account: the new initial value is stored
// and the running balance is recomputed from the transaction set under the
// account lock.
func (r *Registry) ChangeInitialValue(ctx context.Context, id int64, initial core.Money) (core.BalanceChange, error) {
	var change core.BalanceChange
	err := r.run(ctx, []int64{id}, func(ctx context.Context, tx repository.Tx) error {
		a, err := tx.LockAccount(ctx, id)
		if err != nil {
			return err
		}
		sum, err := tx.SumTransactions(ctx, id)
		if err != nil {
			return err
		}
		balance, err := initial.Add(sum)
		if err != nil {
			return err
		}
		delta, err := balance.Sub(a.Balance())
		if err != nil {
			return err
		}

		a.InitialValue = initial
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		if err := tx.SetAccountBalance(ctx, id, balance); err != nil {
			return fmt.Errorf("update account balance: %w", err)
		}
		change = core.BalanceChange{AccountID: id, Operation: core.OpRebase, Delta: delta, Balance: balance}
		return nil
	})
	return change, err
}

func (r *Registry) CreateCategory(ctx context.Context, ownerID int64, name string) (core.Category, error) {
	c := core.Category{OwnerID: ownerID, Name: strings.TrimSpace(name)}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}

	err := r.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.FindCategoryByName(ctx, c.OwnerID, c.Name)
		if err := nameFree(err); err != nil {
			if errors.Is(err, errNameTaken) {
				return &core.DuplicateNameError{Entity: "category", OwnerID: c.OwnerID, Name: c.Name}
			}
			return err
		}
		id, err := tx.InsertCategory(ctx, c)
		if err != nil {
			return err
		}
		c.ID = id
		return nil
	})
	if err != nil {
		return core.Category{}, err
	}
	return c, nil
}

// GetCategory reads a category through the cache.
func (r *Registry) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	if r.categories != nil {
		if c, ok := r.categories.Get(id); ok {
			return c, nil
		}
	}
	c, err := r.store.GetCategory(ctx, id)
	if err != nil {
		return core.Category{}, err
	}
	if r.categories != nil {
		r.categories.Set(id, c)
	}
	return c, nil
}

func (r *Registry) ListCategories(ctx context.Context, ownerID int64) ([]core.Category, error) {
	return r.store.ListCategories(ctx, ownerID)
}

func (r *Registry) RenameCategory(ctx context.Context, id int64, name string) (core.Category, error) {
	name = strings.TrimSpace(name)

	var out core.Category
	err := r.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := tx.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		c.Name = name
		if err := c.Validate(); err != nil {
			return err
		}
		existing, err := tx.FindCategoryByName(ctx, c.OwnerID, name)
		if err == nil && existing.ID != id {
			return &core.DuplicateNameError{Entity: "category", OwnerID: c.OwnerID, Name: name}
		}
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
		if err := tx.UpdateCategory(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	r.forgetCategory(id)
	return out, err
}

// DeleteCategory removes the category and clears it from every transaction
// that used it. Balances are not involved.
func (r *Registry) DeleteCategory(ctx context.Context, id int64) error {
	err := r.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.DeleteCategory(ctx, id)
	})
	r.forgetCategory(id)
	return err
}

func (r *Registry) forgetCategory(id int64) {
	if r.categories != nil {
		r.categories.Delete(id)
	}
}

var errNameTaken = errors.New("name taken")

// nameFree turns the error of a by-name lookup into nil when the name is
// free, errNameTaken when it is used, or the lookup failure itself.
func nameFree(lookupErr error) error {
	switch {
	case lookupErr == nil:
		return errNameTaken
	case errors.Is(lookupErr, core.ErrNotFound):
		return nil
	}
	return lookupErr
}
