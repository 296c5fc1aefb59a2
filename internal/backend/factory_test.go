package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/config"
	"ledger/internal/core"
	"ledger/internal/services"
)

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	assert.Error(t, err)

	_, err = FromAppConfig(&config.Config{Backend: "sheets"})
	assert.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{
		Backend:              "postgres",
		PostgresDSN:          "postgres://localhost/ledger",
		PostgresConns:        7,
		LockTimeout:          time.Second,
		ReconcileConcurrency: 3,
		AMQPURL:              "amqp://localhost/",
		AMQPExchange:         "ledger",
		AMQPQueue:            "ledger.reconcile",
	})
	require.NoError(t, err)
	assert.Equal(t, PostgresBackend, cfg.Type)
	assert.Equal(t, 7, cfg.PostgresMaxConns)
	assert.Equal(t, time.Second, cfg.LockTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"postgres without DSN", Config{Type: PostgresBackend}, true},
		{"unknown type", Config{Type: "sheets"}, true},
		{"amqp without queue", Config{Type: MemoryBackend, AMQPURL: "amqp://localhost/", AMQPExchange: "ledger"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			assert.Equal(t, tt.wantErr, err != nil, "Validate() error = %v", err)
		})
	}
}

func TestGetBackendTypeStrings(t *testing.T) {
	assert.Equal(t, []string{"memory", "sqlite", "postgres"}, GetBackendTypeStrings())
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()
	factory := NewFactory(nil)

	for _, cfg := range []Config{
		{Type: MemoryBackend},
		{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "ledger.db")},
	} {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			result, err := factory.CreateBackend(ctx, cfg)
			require.NoError(t, err)
			assert.Nil(t, result.AMQP)

			id, err := result.Ledger.CreateAccount(ctx, 1, "Checking", core.Cents(100))
			require.NoError(t, err)
			_, err = result.Ledger.CreateTransaction(ctx, services.NewTransaction{
				AccountID: id,
				Value:     core.Cents(50),
				Title:     "Salary",
			})
			require.NoError(t, err)

			a, err := result.Store.GetAccount(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(150), a.Balance().Cents)

			require.NoError(t, result.Cleanup())
		})
	}

	_, err := factory.CreateBackend(ctx, Config{Type: "sheets"})
	assert.Error(t, err)
}
