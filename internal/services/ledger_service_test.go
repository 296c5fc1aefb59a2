package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/repository"
	"ledger/internal/storage/memory"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []core.BalanceChange
	err     error
}

func (p *recordingPublisher) PublishBalanceChanged(_ context.Context, change core.BalanceChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return p.err
}

func (p *recordingPublisher) operations() []core.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]core.Operation, len(p.changes))
	for i, c := range p.changes {
		ops[i] = c.Operation
	}
	return ops
}

func newTestService(t *testing.T, pub EventPublisher) (*LedgerService, repository.Store) {
	t.Helper()
	store := memory.New()
	opts := DefaultOptions()
	opts.LockTimeout = time.Second
	opts.Publisher = pub
	svc := NewLedgerService(store, opts)
	t.Cleanup(func() { svc.Close() })
	return svc, store
}

func TestLedgerService_TransactionLifecycle(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, pub)

	checking, err := svc.CreateAccount(ctx, 1, "Checking", core.Cents(10000))
	require.NoError(t, err)
	savings, err := svc.CreateAccount(ctx, 1, "Savings", core.Cents(0))
	require.NoError(t, err)

	id, err := svc.CreateTransaction(ctx, NewTransaction{
		AccountID: checking,
		Value:     core.Cents(-2500),
		Title:     "  Groceries  ",
	})
	require.NoError(t, err)

	tx, err := svc.GetTransaction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", tx.Title)
	assert.False(t, tx.Date.IsZero(), "zero date defaults to today")

	a, err := svc.GetAccount(ctx, checking)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), a.Balance().Cents)

	value := core.Cents(-3000)
	_, err = svc.UpdateTransaction(ctx, id, ledger.TransactionUpdate{Value: &value, AccountID: savings})
	require.NoError(t, err)

	a, err = svc.GetAccount(ctx, checking)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), a.Balance().Cents)
	s, err := svc.GetAccount(ctx, savings)
	require.NoError(t, err)
	assert.Equal(t, int64(-3000), s.Balance().Cents)

	require.NoError(t, svc.DeleteTransaction(ctx, id))
	s, err = svc.GetAccount(ctx, savings)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Balance().Cents)

	assert.Equal(t, []core.Operation{
		core.OpCreate, core.OpMoveOut, core.OpMoveIn, core.OpDelete,
	}, pub.operations())
}

func TestLedgerService_PublishFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, _ := newTestService(t, pub)

	acct, err := svc.CreateAccount(ctx, 1, "Checking", core.Cents(0))
	require.NoError(t, err)
	_, err = svc.CreateTransaction(ctx, NewTransaction{AccountID: acct, Value: core.Cents(500), Title: "Refund"})
	require.NoError(t, err)

	a, err := svc.GetAccount(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, int64(500), a.Balance().Cents)
	assert.Len(t, pub.operations(), 1)
}

func TestLedgerService_WithoutPublisher(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	acct, err := svc.CreateAccount(ctx, 1, "Cash", core.Cents(100))
	require.NoError(t, err)
	_, err = svc.CreateTransaction(ctx, NewTransaction{AccountID: acct, Value: core.Cents(-40), Title: "Coffee"})
	require.NoError(t, err)

	a, err := svc.GetAccount(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, int64(60), a.Balance().Cents)
}

func TestLedgerService_ListTransactionsUnknownAccount(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.ListTransactions(context.Background(), 42)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestLedgerService_ChangeInitialValueAnnouncesRebase(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, pub)

	acct, err := svc.CreateAccount(ctx, 1, "Checking", core.Cents(10000))
	require.NoError(t, err)
	_, err = svc.CreateTransaction(ctx, NewTransaction{AccountID: acct, Value: core.Cents(2000), Title: "Salary"})
	require.NoError(t, err)

	a, err := svc.ChangeInitialValue(ctx, acct, core.Cents(5000))
	require.NoError(t, err)
	assert.Equal(t, int64(5000), a.InitialValue.Cents)
	assert.Equal(t, int64(7000), a.Balance().Cents)

	pub.mu.Lock()
	last := pub.changes[len(pub.changes)-1]
	pub.mu.Unlock()
	assert.Equal(t, core.OpRebase, last.Operation)
	assert.Equal(t, int64(-5000), last.Delta.Cents)
}

func TestLedgerService_Transfers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	checking, err := svc.CreateAccount(ctx, 1, "Checking", core.Cents(0))
	require.NoError(t, err)
	savings, err := svc.CreateAccount(ctx, 1, "Savings", core.Cents(0))
	require.NoError(t, err)

	out, err := svc.CreateTransaction(ctx, NewTransaction{AccountID: checking, Value: core.Cents(-1000), Title: "To savings"})
	require.NoError(t, err)
	in, err := svc.CreateTransaction(ctx, NewTransaction{AccountID: savings, Value: core.Cents(1000), Title: "From checking"})
	require.NoError(t, err)

	id, err := svc.CreateTransfer(ctx, in, out)
	require.NoError(t, err)

	tf, err := svc.GetTransfer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, in, tf.TransactionInID)
	assert.Equal(t, out, tf.TransactionOutID)

	err = svc.DeleteTransaction(ctx, in)
	var protected *core.ProtectedReferenceError
	assert.True(t, errors.As(err, &protected), "got %v", err)

	require.NoError(t, svc.DeleteTransfer(ctx, id))
	require.NoError(t, svc.DeleteTransaction(ctx, in))
}

func TestLedgerService_Categories(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	cat, err := svc.CreateCategory(ctx, 1, "Food")
	require.NoError(t, err)
	acct, err := svc.CreateAccount(ctx, 1, "Checking", core.Cents(0))
	require.NoError(t, err)

	id, err := svc.CreateTransaction(ctx, NewTransaction{AccountID: acct, Value: core.Cents(-100), Title: "Bread", CategoryID: &cat})
	require.NoError(t, err)

	renamed, err := svc.RenameCategory(ctx, cat, "Groceries")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", renamed.Name)

	cats, err := svc.ListCategories(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cats, 1)

	require.NoError(t, svc.DeleteCategory(ctx, cat))
	tx, err := svc.GetTransaction(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, tx.CategoryID)
}

func TestLedgerService_ReconcilePublishesRepairs(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc, store := newTestService(t, pub)

	acct, err := svc.CreateAccount(ctx, 1, "Checking", core.Cents(1000))
	require.NoError(t, err)
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.SetAccountBalance(ctx, acct, core.Cents(1))
	}))

	rec, err := svc.CheckAccount(ctx, acct)
	require.NoError(t, err)
	assert.False(t, rec.Consistent())

	recs, err := svc.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Repaired)
	assert.Equal(t, []core.Operation{core.OpReconcile}, pub.operations())

	// A second pass finds nothing to repair and publishes nothing.
	rec, err = svc.ReconcileAccount(ctx, acct)
	require.NoError(t, err)
	assert.False(t, rec.Repaired)
	assert.Len(t, pub.operations(), 1)
}
