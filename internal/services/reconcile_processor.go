package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ledger/internal/core"
	ledgerlog "ledger/internal/log"
)

// Reconciler is the part of the ledger the processor drives.
type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]core.Reconciliation, error)
}

// ReconcileProcessorConfig holds configuration for the reconcile processor
type ReconcileProcessorConfig struct {
	// Interval is how often every account is reconciled (default: 1h)
	Interval time.Duration

	// RunOnStart reconciles once immediately when the processor starts (default: true)
	RunOnStart bool
}

// DefaultReconcileProcessorConfig returns sensible defaults
func DefaultReconcileProcessorConfig() ReconcileProcessorConfig {
	return ReconcileProcessorConfig{
		Interval:   time.Hour,
		RunOnStart: true,
	}
}

// ReconcileProcessor periodically sweeps every account for balance drift
type ReconcileProcessor struct {
	reconciler Reconciler
	config     ReconcileProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// trigger requests an out-of-schedule sweep
	trigger chan struct{}
	sweeps  int64
}

// NewReconcileProcessor creates a new reconcile processor
func NewReconcileProcessor(reconciler Reconciler, config ReconcileProcessorConfig) *ReconcileProcessor {
	if config.Interval <= 0 {
		config.Interval = DefaultReconcileProcessorConfig().Interval
	}
	return &ReconcileProcessor{
		reconciler: reconciler,
		config:     config,
		trigger:    make(chan struct{}, 1),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *ReconcileProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("reconcile processor is already running")
	}
	if p.reconciler == nil {
		p.mu.Unlock()
		return errors.New("reconcile processor has no reconciler")
	}
	p.running = true
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	p.stopCh, p.doneCh = stopCh, doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Reconcile processor started",
		ledgerlog.FieldComponent, ledgerlog.ComponentReconcile,
		"interval", p.config.Interval)

	return nil
}

// Stop gracefully stops the processor and waits for the current sweep.
// After a timed out Stop the loop still exits once the sweep finishes, and
// Stop may be called again to wait for it.
func (p *ReconcileProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	doneCh := p.doneCh
	p.mu.Unlock()

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Reconcile processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Reconcile processor stop timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the processor is currently running
func (p *ReconcileProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Trigger asks for a sweep as soon as the current one, if any, is done.
// Requests arriving while one is already pending are coalesced.
func (p *ReconcileProcessor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Sweeps returns how many sweeps have completed.
func (p *ReconcileProcessor) Sweeps() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sweeps
}

func (p *ReconcileProcessor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(doneCh)
	}()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	if p.config.RunOnStart {
		p.sweep(ctx)
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		case <-p.trigger:
			p.sweep(ctx)
		}
	}
}

// sweep reconciles every account once
func (p *ReconcileProcessor) sweep(ctx context.Context) {
	start := time.Now()
	recs, err := p.reconciler.ReconcileAll(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Reconcile sweep failed",
			ledgerlog.FieldComponent, ledgerlog.ComponentReconcile,
			ledgerlog.FieldError, err)
		return
	}

	repaired := 0
	for _, rec := range recs {
		if rec.Repaired {
			repaired++
		}
	}

	p.mu.Lock()
	p.sweeps++
	p.mu.Unlock()

	slog.InfoContext(ctx, "Reconcile sweep completed",
		ledgerlog.FieldComponent, ledgerlog.ComponentReconcile,
		"accounts", len(recs),
		"repaired", repaired,
		ledgerlog.FieldDuration, time.Since(start).Milliseconds())
}
