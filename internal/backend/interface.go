package backend

import (
	"context"
	"time"

	"ledger/internal/amqp"
	"ledger/internal/repository"
	"ledger/internal/services"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the wired ledger and what must be closed with it
type BackendResult struct {
	Store   repository.Store
	Ledger  *services.LedgerService
	AMQP    *amqp.Client // nil when AMQP is disabled or unreachable
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend opens the store and wires the ledger service on top of it
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath      string
	SQLiteBusyTimeout time.Duration

	// PostgreSQL specific
	PostgresDSN      string
	PostgresMaxConns int

	// Ledger
	LockTimeout          time.Duration
	ReconcileConcurrency int
	CategoryCacheSize    int
	CategoryCacheTTL     time.Duration

	// AMQP, optional for every backend
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	MemoryBackend   BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, PostgresBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
