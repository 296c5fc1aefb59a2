package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/core"
	"ledger/internal/services"
	"ledger/internal/storage/memory"
)

type fakeRequester struct {
	accountIDs []int64
}

func (f *fakeRequester) PublishReconcileRequest(_ context.Context, accountID int64) (string, error) {
	f.accountIDs = append(f.accountIDs, accountID)
	return "msg-1", nil
}

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	svc := services.NewLedgerService(memory.New(), services.DefaultOptions())
	t.Cleanup(func() { svc.Close() })
	out := &bytes.Buffer{}
	return &App{ledger: svc, out: out}, out
}

// run executes one invocation and returns its trimmed stdout.
func run(t *testing.T, app *App, out *bytes.Buffer, args ...string) string {
	t.Helper()
	out.Reset()
	require.NoError(t, app.Run(context.Background(), args))
	return strings.TrimSpace(out.String())
}

func TestApp_AccountAndTransactions(t *testing.T) {
	app, out := newTestApp(t)

	id := run(t, app, out, "account", "create", "-name", "Checking", "-initial", "100,50")
	assert.Equal(t, "1", id)

	run(t, app, out, "tx", "add", "-account", "1", "-amount", "-20.25", "-title", "Groceries", "-date", "2024-03-01")
	assert.Contains(t, run(t, app, out, "account", "show", "-id", "1"), "80.25")

	run(t, app, out, "tx", "update", "-id", "1", "-title", "Market")
	listing := run(t, app, out, "tx", "list", "-account", "1")
	assert.Contains(t, listing, "Market")
	assert.Contains(t, listing, "-20.25")
	assert.Contains(t, listing, "2024-03-01")

	assert.Equal(t, "50.00", run(t, app, out, "account", "rebase", "-id", "1", "-initial", "70.25"))

	run(t, app, out, "tx", "delete", "-id", "1")
	assert.Contains(t, run(t, app, out, "account", "list"), "70.25")
}

func TestApp_Transfer(t *testing.T) {
	app, out := newTestApp(t)

	run(t, app, out, "account", "create", "-name", "Checking")
	run(t, app, out, "account", "create", "-name", "Savings")
	run(t, app, out, "tx", "add", "-account", "1", "-amount", "-10", "-title", "Out")
	run(t, app, out, "tx", "add", "-account", "2", "-amount", "10", "-title", "In")

	id := run(t, app, out, "transfer", "create", "-in", "2", "-out", "1")
	assert.Contains(t, run(t, app, out, "transfer", "show", "-id", id), "in=2\tout=1")

	err := app.Run(context.Background(), []string{"tx", "delete", "-id", "2"})
	assert.True(t, errors.Is(err, core.ErrProtectedReference))
	assert.Equal(t, 5, exitCode(err))
}

func TestApp_Reconcile(t *testing.T) {
	app, out := newTestApp(t)
	run(t, app, out, "account", "create", "-name", "Checking", "-initial", "5")

	report := run(t, app, out, "reconcile")
	assert.Contains(t, report, "ACCOUNT")
	assert.Contains(t, report, "false")

	report = run(t, app, out, "reconcile", "-account", "1", "-check")
	assert.Contains(t, report, "5.00")

	err := app.Run(context.Background(), []string{"reconcile", "-async"})
	assert.True(t, errors.Is(err, errUsage), "async without AMQP should be a usage error")

	requester := &fakeRequester{}
	app.requester = requester
	assert.Equal(t, "msg-1", run(t, app, out, "reconcile", "-async", "-account", "1"))
	assert.Equal(t, []int64{1}, requester.accountIDs)
}

func TestApp_Errors(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, 2},
		{"unknown command", []string{"budget", "list"}, 2},
		{"unknown action", []string{"account", "merge"}, 2},
		{"missing flag", []string{"account", "create"}, 2},
		{"bad flag", []string{"account", "list", "-owner", "x"}, 2},
		{"invalid amount", []string{"account", "create", "-name", "X", "-initial", "abc"}, 3},
		{"invalid date", []string{"tx", "add", "-account", "1", "-amount", "1", "-title", "X", "-date", "01/02/2024"}, 3},
		{"unknown account", []string{"account", "show", "-id", "99"}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := app.Run(ctx, tt.args)
			require.Error(t, err)
			assert.Equal(t, tt.code, exitCode(err), "error: %v", err)
		})
	}
}

func TestParseAmountRenamesField(t *testing.T) {
	_, err := parseAmount("initial_value", "nope")
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"initial_value"}, verr.Fields())
}
