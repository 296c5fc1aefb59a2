package log

import (
	"context"
	"log/slog"
	"time"

	"ledger/internal/core"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// WithContext returns a copy of ctx carrying logger.
func WithContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	// Return default logger if not found
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// WithCorrelationID tags the context logger with a correlation id, e.g. the
// id of the message that triggered the work.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return WithContext(ctx, FromContext(ctx).With(FieldCorrelationID, id))
}

// StructuredLogger provides structured logging methods with context awareness
type StructuredLogger struct {
	logger *Logger
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{
		logger: logger,
	}
}

// LogBalanceApplied logs one committed balance change
func (sl *StructuredLogger) LogBalanceApplied(ctx context.Context, change core.BalanceChange, took time.Duration) {
	fields := NewFields().
		WithAccount(change.AccountID).
		WithTransaction(change.TransactionID).
		WithBalance(change.Delta, change.Balance).
		WithOperation(string(change.Operation)).
		WithDuration(took)

	sl.logger.WithComponent(ComponentLedger).InfoContext(ctx, "Balance updated", fields.ToSlice()...)
}

// LogReconciliation logs the outcome of a balance check. Drift is a warning.
func (sl *StructuredLogger) LogReconciliation(ctx context.Context, r core.Reconciliation) {
	fields := NewFields().
		WithAccount(r.AccountID).
		WithOperation(OpReconcile)
	fields[FieldBalanceCents] = r.Expected.Cents

	logger := sl.logger.WithComponent(ComponentReconcile)
	if r.Consistent() {
		logger.DebugContext(ctx, "Account balance consistent", fields.ToSlice()...)
		return
	}

	fields[FieldDriftCents] = r.Drift().Cents
	fields["stored_cents"] = r.Stored.Cents
	fields["repaired"] = r.Repaired
	logger.WarnContext(ctx, "Account balance drift detected", fields.ToSlice()...)
}

// LogError logs an error with structured context
func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, component string, operation string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	allFields := fields.
		WithError(err).
		WithOperation(operation)

	sl.logger.WithComponent(component).ErrorContext(ctx, msg, allFields.ToSlice()...)
}
