package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/amqp"
	"ledger/internal/core"
)

type fakeLedger struct {
	accounts map[int64]core.Reconciliation
	allErr   error
	calls    []int64
}

func (f *fakeLedger) ReconcileAccount(_ context.Context, id int64) (core.Reconciliation, error) {
	f.calls = append(f.calls, id)
	rec, ok := f.accounts[id]
	if !ok {
		return core.Reconciliation{}, &core.NotFoundError{Entity: "account", ID: id}
	}
	return rec, nil
}

func (f *fakeLedger) ReconcileAll(context.Context) ([]core.Reconciliation, error) {
	if f.allErr != nil {
		return nil, f.allErr
	}
	var out []core.Reconciliation
	for _, rec := range f.accounts {
		out = append(out, rec)
	}
	return out, nil
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{accounts: map[int64]core.Reconciliation{
		1: {AccountID: 1, Stored: core.Cents(100), Expected: core.Cents(100)},
		2: {AccountID: 2, Stored: core.Cents(90), Expected: core.Cents(100), Repaired: true},
	}}
}

func TestHandleReconcileRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("single account", func(t *testing.T) {
		f := newFakeLedger()
		w := NewReconcileWorker(f)

		require.NoError(t, w.HandleReconcileRequest(ctx, amqp.NewReconcileRequestMessage(2)))
		assert.Equal(t, []int64{2}, f.calls)
	})

	t.Run("unknown account is dropped", func(t *testing.T) {
		w := NewReconcileWorker(newFakeLedger())
		assert.NoError(t, w.HandleReconcileRequest(ctx, amqp.NewReconcileRequestMessage(99)))
	})

	t.Run("every account", func(t *testing.T) {
		f := newFakeLedger()
		w := NewReconcileWorker(f)

		require.NoError(t, w.HandleReconcileRequest(ctx, amqp.NewReconcileRequestMessage(0)))
		assert.Empty(t, f.calls)
	})

	t.Run("conflict stays retryable", func(t *testing.T) {
		f := newFakeLedger()
		f.allErr = &core.ConflictError{Resource: "account 1", Reason: "busy"}
		w := NewReconcileWorker(f)

		err := w.HandleReconcileRequest(ctx, amqp.NewReconcileRequestMessage(0))
		require.Error(t, err)
		assert.True(t, core.IsRetryable(err))
	})
}

func TestReconcileAllCountsRepairs(t *testing.T) {
	w := NewReconcileWorker(newFakeLedger())

	repaired, err := w.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
}

func TestStartupCheck(t *testing.T) {
	assert.NoError(t, NewReconcileWorker(newFakeLedger()).StartupCheck(context.Background()))

	f := newFakeLedger()
	f.allErr = errors.New("database is gone")
	assert.Error(t, NewReconcileWorker(f).StartupCheck(context.Background()))
}
