package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledger/internal/amqp"
	"ledger/internal/core"
	ledgerlog "ledger/internal/log"
)

// Reconciler is the part of the ledger service the worker needs.
type Reconciler interface {
	ReconcileAccount(ctx context.Context, id int64) (core.Reconciliation, error)
	ReconcileAll(ctx context.Context) ([]core.Reconciliation, error)
}

// ReconcileWorker repairs account balances on request
type ReconcileWorker struct {
	ledger Reconciler
}

func NewReconcileWorker(ledger Reconciler) *ReconcileWorker {
	return &ReconcileWorker{ledger: ledger}
}

// HandleReconcileRequest processes a single reconcile request from AMQP.
// A request for an account that no longer exists is dropped.
func (w *ReconcileWorker) HandleReconcileRequest(ctx context.Context, msg *amqp.ReconcileRequestMessage) error {
	if msg.All() {
		_, err := w.ReconcileAll(ctx)
		return err
	}

	rec, err := w.ledger.ReconcileAccount(ctx, msg.AccountID)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "Reconcile requested for unknown account, dropping",
			ledgerlog.FieldAccountID, msg.AccountID,
			ledgerlog.FieldMessageID, msg.MessageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile account %d: %w", msg.AccountID, err)
	}

	slog.InfoContext(ctx, "Account reconciled",
		ledgerlog.FieldAccountID, rec.AccountID,
		ledgerlog.FieldDriftCents, rec.Drift().Cents,
		"repaired", rec.Repaired,
		"requested_at", msg.RequestedAt)
	return nil
}

// ReconcileAll sweeps every account and reports how many were repaired.
func (w *ReconcileWorker) ReconcileAll(ctx context.Context) (int, error) {
	start := time.Now()
	recs, err := w.ledger.ReconcileAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile all accounts: %w", err)
	}

	repaired := 0
	for _, rec := range recs {
		if rec.Repaired {
			repaired++
		}
	}

	slog.InfoContext(ctx, "Reconciled all accounts",
		"accounts", len(recs),
		"repaired", repaired,
		ledgerlog.FieldDuration, time.Since(start).Milliseconds())
	return repaired, nil
}

// StartupCheck sweeps every account once when the worker starts, to repair
// drift left by a crash or by writes made while no worker was running.
func (w *ReconcileWorker) StartupCheck(ctx context.Context) error {
	repaired, err := w.ReconcileAll(ctx)
	if err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	if repaired > 0 {
		slog.WarnContext(ctx, "Repaired drifted accounts on startup", "repaired", repaired)
	} else {
		slog.InfoContext(ctx, "No drifted accounts found on startup")
	}
	return nil
}
