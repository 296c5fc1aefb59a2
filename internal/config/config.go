package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Backends lists the accepted values of LEDGER_BACKEND.
var Backends = []string{"memory", "sqlite", "postgres"}

type Config struct {
	// Storage
	Backend       string
	SQLiteDBPath  string
	SQLiteBusy    time.Duration
	PostgresDSN   string
	PostgresConns int

	// Ledger
	LockTimeout          time.Duration
	ReconcileInterval    time.Duration
	ReconcileConcurrency int
	CategoryCacheSize    int
	CategoryCacheTTL     time.Duration

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Backend:       getEnv("LEDGER_BACKEND", "sqlite"),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/ledger.db"),
		SQLiteBusy:    getEnvDuration("SQLITE_BUSY_TIMEOUT", 5*time.Second),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		PostgresConns: getEnvInt("POSTGRES_MAX_CONNS", 10),

		LockTimeout:          getEnvDuration("LEDGER_LOCK_TIMEOUT", 5*time.Second),
		ReconcileInterval:    getEnvDuration("LEDGER_RECONCILE_INTERVAL", time.Hour),
		ReconcileConcurrency: getEnvInt("LEDGER_RECONCILE_CONCURRENCY", 4),
		CategoryCacheSize:    getEnvInt("CATEGORY_CACHE_SIZE", 256),
		CategoryCacheTTL:     getEnvDuration("CATEGORY_CACHE_TTL", 10*time.Minute),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger.reconcile"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if !slices.Contains(Backends, c.Backend) {
		errors = append(errors, fmt.Sprintf("invalid ledger backend '%s': must be one of %v", c.Backend, Backends))
	}

	switch c.Backend {
	case "sqlite":
		switch c.SQLiteDBPath {
		case "":
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		case ":memory:":
			errors = append(errors, "SQLite database path cannot be ':memory:', use the memory backend instead")
		default:
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
		if c.SQLiteBusy < 0 {
			errors = append(errors, fmt.Sprintf("invalid SQLite busy timeout %v: must not be negative", c.SQLiteBusy))
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errors = append(errors, "PostgreSQL DSN cannot be empty when using postgres backend")
		}
		if c.PostgresConns < 1 {
			errors = append(errors, fmt.Sprintf("invalid PostgreSQL max connections %d: must be at least 1", c.PostgresConns))
		}
	}

	if c.LockTimeout < time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid lock timeout %v: must be at least 1ms", c.LockTimeout))
	} else if c.LockTimeout > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid lock timeout %v: must be at most 1 minute", c.LockTimeout))
	}

	if c.ReconcileInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid reconcile interval %v: must be at least 1 second", c.ReconcileInterval))
	} else if c.ReconcileInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid reconcile interval %v: must be at most 7 days", c.ReconcileInterval))
	}

	if c.ReconcileConcurrency < 1 || c.ReconcileConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid reconcile concurrency %d: must be between 1 and 64", c.ReconcileConcurrency))
	}

	if c.CategoryCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid category cache size %d: must be at least 1", c.CategoryCacheSize))
	}
	if c.CategoryCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid category cache TTL %v: must be at least 1 second", c.CategoryCacheTTL))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "warning", "error"}, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// AMQPEnabled reports whether balance events and reconcile requests go over AMQP.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
