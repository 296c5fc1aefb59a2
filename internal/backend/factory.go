package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ledger/internal/amqp"
	ledgerlog "ledger/internal/log"
	"ledger/internal/repository"
	"ledger/internal/services"
	"ledger/internal/storage/memory"
	"ledger/internal/storage/postgres"
	"ledger/internal/storage/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.openStore(ctx, config)
	if err != nil {
		return nil, err
	}

	// AMQP is optional: without it balance events are only logged
	var amqpClient *amqp.Client
	var publisher services.EventPublisher
	if config.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without balance events", "error", err)
			amqpClient = nil
		} else {
			publisher = amqpClient
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	ledger := services.NewLedgerService(store, services.Options{
		LockTimeout:          config.LockTimeout,
		ReconcileConcurrency: config.ReconcileConcurrency,
		CategoryCacheSize:    config.CategoryCacheSize,
		CategoryCacheTTL:     config.CategoryCacheTTL,
		Publisher:            publisher,
	})

	f.logger.Info("Initialized ledger backend",
		ledgerlog.FieldComponent, ledgerlog.ComponentBackend,
		"backend", config.Type,
		"amqp_enabled", amqpClient != nil)

	return &BackendResult{
		Store:  store,
		Ledger: ledger,
		AMQP:   amqpClient,
		Cleanup: func() error {
			var errs []error
			if amqpClient != nil {
				if err := amqpClient.Close(); err != nil {
					errs = append(errs, fmt.Errorf("amqp: %w", err))
				}
			}
			if err := ledger.Close(); err != nil {
				errs = append(errs, fmt.Errorf("ledger: %w", err))
			}
			return errors.Join(errs...)
		},
	}, nil
}

func (f *DefaultFactory) openStore(ctx context.Context, config Config) (repository.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		store, err := sqlite.Open(ctx, sqlite.Options{
			Path:        config.SQLiteDBPath,
			BusyTimeout: config.SQLiteBusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		return store, nil
	case PostgresBackend:
		store, err := postgres.Open(ctx, postgres.Options{
			DSN:          config.PostgresDSN,
			LockTimeout:  config.LockTimeout,
			MaxOpenConns: config.PostgresMaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL store: %w", err)
		}
		return store, nil
	case MemoryBackend:
		f.logger.Warn("Using the in-memory ledger, nothing is persisted")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
