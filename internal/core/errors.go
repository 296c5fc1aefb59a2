package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateName      = errors.New("duplicate name")
	ErrProtectedReference = errors.New("protected reference")

	// ErrStaleReference marks a write that named a row deleted after the
	// caller looked it up. It is wrapped by a ConflictError.
	ErrStaleReference = errors.New("referenced row no longer exists")
)

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     int64
	Name   string
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %q not found", e.Entity, e.Name)
	}
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError is a retryable failure: a lock could not be acquired in time
// or a concurrent writer changed the rows we were about to modify.
type ConflictError struct {
	Resource string
	Reason   string
	Err      error
}

func (e *ConflictError) Error() string {
	msg := "conflict on " + e.Resource
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() error        { return e.Err }
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Violation is a single failed rule, keyed by the offending field.
type Violation struct {
	Field   string
	Message string
}

// ValidationError aggregates every violated rule of one check.
type ValidationError struct {
	Violations []Violation
}

// NewValidationError builds a ValidationError holding a single violation.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Violations: []Violation{{Field: field, Message: message}}}
}

func (e *ValidationError) Add(field, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: message})
}

func (e *ValidationError) Addf(field, format string, args ...any) {
	e.Add(field, fmt.Sprintf(format, args...))
}

// OrNil returns the error when at least one rule was violated, nil otherwise.
func (e *ValidationError) OrNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// Fields lists the violated fields in report order.
func (e *ValidationError) Fields() []string {
	fields := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		fields = append(fields, v.Field)
	}
	return fields
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// DuplicateNameError reports an (owner, name) collision.
type DuplicateNameError struct {
	Entity  string
	OwnerID int64
	Name    string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %q already exists for owner %d", e.Entity, e.Name, e.OwnerID)
}

func (e *DuplicateNameError) Is(target error) bool { return target == ErrDuplicateName }

// ProtectedReferenceError reports a delete blocked by a record that still
// references the target, e.g. a transaction linked by a transfer.
type ProtectedReferenceError struct {
	Entity       string
	ID           int64
	ReferencedBy string
	ReferenceID  int64
}

func (e *ProtectedReferenceError) Error() string {
	if e.ReferenceID != 0 {
		return fmt.Sprintf("%s %d is referenced by %s %d", e.Entity, e.ID, e.ReferencedBy, e.ReferenceID)
	}
	return fmt.Sprintf("%s %d is referenced by a %s", e.Entity, e.ID, e.ReferencedBy)
}

func (e *ProtectedReferenceError) Is(target error) bool { return target == ErrProtectedReference }

// IsRetryable reports whether the caller may retry the failed operation as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
