package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/core"
	"ledger/internal/repository"
	"ledger/internal/storage/sqlstore"
)

func openTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Path:        filepath.Join(t.TempDir(), "ledger.db"),
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRejectsMemoryPath(t *testing.T) {
	_, err := Open(context.Background(), Options{Path: ":memory:"})
	assert.Error(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	require.NoError(t, RunMigrations(DSN(path, 0)))
	require.NoError(t, RunMigrations(DSN(path, 0)))
}

func TestAccountRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var id int64
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		a := core.Account{OwnerID: 7, Name: "Checking", InitialValue: core.Cents(1250)}
		a.SeedInitialBalance()
		var err error
		id, err = tx.InsertAccount(ctx, a)
		return err
	}))

	got, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Checking", got.Name)
	assert.Equal(t, int64(7), got.OwnerID)
	require.NotNil(t, got.CurrentValue)
	assert.Equal(t, core.Cents(1250), *got.CurrentValue)

	_, err = s.GetAccount(ctx, id+100)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDuplicateNameIsMapped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	insert := func(owner int64) error {
		return s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			_, err := tx.InsertAccount(ctx, core.Account{OwnerID: owner, Name: "Savings"})
			return err
		})
	}
	require.NoError(t, insert(1))
	require.NoError(t, insert(2))

	err := insert(1)
	var dup *core.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "account", dup.Entity)
	assert.Equal(t, int64(1), dup.OwnerID)
}

func TestTransferConstraints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var accountID, in, out, catID int64
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if accountID, err = tx.InsertAccount(ctx, core.Account{OwnerID: 1, Name: "Bank"}); err != nil {
			return err
		}
		if catID, err = tx.InsertCategory(ctx, core.Category{OwnerID: 1, Name: "Moves"}); err != nil {
			return err
		}
		if in, err = tx.InsertTransaction(ctx, core.Transaction{Title: "in", AccountID: accountID, Value: core.Cents(500), CategoryID: &catID, Date: core.NewDate(2025, 5, 1)}); err != nil {
			return err
		}
		out, err = tx.InsertTransaction(ctx, core.Transaction{Title: "out", AccountID: accountID, Value: core.Cents(-500), Date: core.NewDate(2025, 5, 1)})
		return err
	}))

	insertTransfer := func(tf core.Transfer) (int64, error) {
		var id int64
		err := s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			id, err = tx.InsertTransfer(ctx, tf)
			return err
		})
		return id, err
	}

	_, err := insertTransfer(core.Transfer{TransactionInID: in, TransactionOutID: in})
	assert.ErrorIs(t, err, core.ErrValidation)

	transferID, err := insertTransfer(core.Transfer{TransactionInID: in, TransactionOutID: out})
	require.NoError(t, err)

	_, err = insertTransfer(core.Transfer{TransactionInID: in, TransactionOutID: out})
	assert.ErrorIs(t, err, core.ErrConflict)

	err = s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.DeleteTransaction(ctx, out)
	})
	assert.ErrorIs(t, err, core.ErrProtectedReference)

	err = s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.DeleteAccount(ctx, accountID)
	})
	assert.ErrorIs(t, err, core.ErrProtectedReference)

	// the failed deletes rolled back
	txs, err := s.ListTransactions(ctx, accountID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	found, err := s.FindTransferByTransaction(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, transferID, found.ID)

	n, err := s.CountTransfersByAccount(ctx, accountID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	sum, err := s.SumTransactions(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(0), sum)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.DeleteCategory(ctx, catID)
	}))
	got, err := s.GetTransaction(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, got.CategoryID)
	assert.Equal(t, core.NewDate(2025, 5, 1), got.Date)
}

func TestClassifyMessage(t *testing.T) {
	assert.Equal(t, sqlstore.KindUnique, classifyMessage("constraint failed: UNIQUE constraint failed: accounts.owner_id, accounts.name (2067)"))
	assert.Equal(t, sqlstore.KindForeignKey, classifyMessage("FOREIGN KEY constraint failed (787)"))
	assert.Equal(t, sqlstore.KindCheck, classifyMessage("CHECK constraint failed: transfers (275)"))
	assert.Equal(t, sqlstore.KindBusy, classifyMessage("database is locked (5) (SQLITE_BUSY)"))
	assert.Equal(t, sqlstore.KindOther, classifyMessage("no such table: foo"))
}
