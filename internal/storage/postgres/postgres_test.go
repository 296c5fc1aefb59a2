package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/core"
	"ledger/internal/repository"
	"ledger/internal/storage/sqlstore"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		code string
		want sqlstore.ErrorKind
	}{
		{"23505", sqlstore.KindUnique},
		{"23503", sqlstore.KindForeignKey},
		{"23514", sqlstore.KindCheck},
		{"55P03", sqlstore.KindBusy},
		{"40P01", sqlstore.KindBusy},
		{"40001", sqlstore.KindBusy},
		{"42P01", sqlstore.KindOther},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			err := fmt.Errorf("exec: %w", &pgconn.PgError{Code: tc.code})
			assert.Equal(t, tc.want, classify(err))
		})
	}

	assert.Equal(t, sqlstore.KindOther, classify(errors.New("connection refused")))
}

func TestLockTimeoutStatement(t *testing.T) {
	assert.Equal(t, "SET LOCAL lock_timeout = '1500ms'", lockTimeoutStatement(1500*time.Millisecond))
	assert.Equal(t, "SET LOCAL lock_timeout = '5000ms'", lockTimeoutStatement(0))
}

func TestDialect(t *testing.T) {
	d := NewDialect(time.Second)
	assert.True(t, d.Numbered)
	assert.Equal(t, " FOR UPDATE", d.LockClause)
	assert.NotNil(t, d.OnBegin)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.Error(t, err)
}

// TestStoreIntegration runs against a real server when LEDGER_TEST_POSTGRES_DSN is set.
func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, Options{DSN: dsn, LockTimeout: time.Second})
	require.NoError(t, err)
	defer store.Close()

	name := fmt.Sprintf("it-%d", time.Now().UnixNano())
	var id int64
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		a := core.Account{OwnerID: 1, Name: name, InitialValue: core.Cents(100)}
		a.SeedInitialBalance()
		id, err = tx.InsertAccount(ctx, a)
		return err
	}))
	defer store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.DeleteAccount(ctx, id)
	})

	err = store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.InsertAccount(ctx, core.Account{OwnerID: 1, Name: name})
		return err
	})
	assert.ErrorIs(t, err, core.ErrDuplicateName)

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		a, err := tx.LockAccount(ctx, id)
		if err != nil {
			return err
		}
		return tx.SetAccountBalance(ctx, a.ID, core.Cents(a.Balance().Cents+50))
	}))

	a, err := store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(150), a.Balance().Cents)
}
