package log

import (
	"context"
	"errors"
	"time"

	"ledger/internal/core"
)

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldOperation     = "operation"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldDuration      = "duration_ms"
	FieldOwnerID       = "owner_id"
	FieldAccountID     = "account_id"
	FieldTransactionID = "transaction_id"
	FieldTransferID    = "transfer_id"
	FieldCategoryID    = "category_id"
	FieldDeltaCents    = "delta_cents"
	FieldBalanceCents  = "balance_cents"
	FieldDriftCents    = "drift_cents"
	FieldMessageID     = "message_id"
	FieldCorrelationID = "correlation_id"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentLedger    = "ledger"
	ComponentStorage   = "storage"
	ComponentLock      = "lock"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentBackend   = "backend"
	ComponentReconcile = "reconcile"
	ComponentCLI       = "cli"
)

// Operations names the non-balance operations that show up in logs. Balance
// operations use core.Operation.
const (
	OpReconcile = "reconcile"
	OpPublish   = "publish"
	OpConsume   = "consume"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation = "validation_error"
	ErrorTypeTimeout    = "timeout_error"
	ErrorTypeNotFound   = "not_found_error"
	ErrorTypeConflict   = "conflict_error"
	ErrorTypeDuplicate  = "duplicate_error"
	ErrorTypeProtected  = "protected_reference_error"
	ErrorTypeInternal   = "internal_error"
)

// ErrorType classifies err into one of the ErrorType constants.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, core.ErrValidation):
		return ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound):
		return ErrorTypeNotFound
	case errors.Is(err, core.ErrConflict):
		return ErrorTypeConflict
	case errors.Is(err, core.ErrDuplicateName):
		return ErrorTypeDuplicate
	case errors.Is(err, core.ErrProtectedReference):
		return ErrorTypeProtected
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	}
	return ErrorTypeInternal
}

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds the error message and its type
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = ErrorType(err)
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithAccount(id int64) LogFields {
	f[FieldAccountID] = id
	return f
}

// WithTransaction adds the transaction id. Zero means no transaction.
func (f LogFields) WithTransaction(id int64) LogFields {
	if id != 0 {
		f[FieldTransactionID] = id
	}
	return f
}

// WithBalance adds a balance movement
func (f LogFields) WithBalance(delta, balance core.Money) LogFields {
	f[FieldDeltaCents] = delta.Cents
	f[FieldBalanceCents] = balance.Cents
	return f
}

func (f LogFields) WithDuration(d time.Duration) LogFields {
	f[FieldDuration] = d.Milliseconds()
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
