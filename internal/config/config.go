// Package config reads pinsession settings from the environment and builds
// the configured session store.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pinsession/pinsession/internal/observability"
	"github.com/pinsession/pinsession/internal/security"
	"github.com/pinsession/pinsession/internal/storage"
)

// Backend names accepted in PINSESSION_BACKEND.
const (
	BackendSQLite   = "sqlite"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Environment variables read by Load.
const (
	EnvDir             = "PINSESSION_DIR"
	EnvBackend         = "PINSESSION_BACKEND"
	EnvDatabaseURL     = "PINSESSION_DATABASE_URL"
	EnvLogLevel        = "PINSESSION_LOG_LEVEL"
	EnvRetentionDays   = "PINSESSION_RETENTION_DAYS"
	EnvCleanupInterval = "PINSESSION_CLEANUP_INTERVAL"
	EnvEncryptionKey   = "PINSESSION_ENCRYPTION_KEY"
	EnvPromptKey       = "PINSESSION_PROMPT_KEY"
)

// ErrMissingDatabaseURL is returned when the postgres backend has no URL.
var ErrMissingDatabaseURL = errors.New("config: " + EnvDatabaseURL + " is required for the postgres backend")

// Config holds the store configuration.
type Config struct {
	Dir             string
	Backend         string
	DatabaseURL     string
	LogLevel        string
	RetentionDays   int
	CleanupInterval time.Duration
	EncryptionKey   string
	PromptKey       bool
}

// DefaultDir returns <home>/.n8n/pinterest-cookies.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".n8n", "pinterest-cookies"), nil
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	dir := EnvString(EnvDir, "")
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return Config{}, err
		}
		dir = d
	}

	return Config{
		Dir:             dir,
		Backend:         strings.ToLower(EnvString(EnvBackend, BackendSQLite)),
		DatabaseURL:     EnvString(EnvDatabaseURL, ""),
		LogLevel:        EnvString(EnvLogLevel, "info"),
		RetentionDays:   EnvInt(EnvRetentionDays, storage.DefaultRetentionDays),
		CleanupInterval: EnvDuration(EnvCleanupInterval, 0),
		EncryptionKey:   os.Getenv(EnvEncryptionKey),
		PromptKey:       EnvBool(EnvPromptKey, false),
	}, nil
}

// OpenBackend creates the named backend rooted at cfg.Dir (or connected to
// cfg.DatabaseURL for postgres).
func OpenBackend(ctx context.Context, name string, cfg Config, logger *observability.Logger) (storage.Backend, error) {
	switch strings.ToLower(name) {
	case BackendSQLite:
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create storage directory %q: %w", cfg.Dir, err)
		}
		return storage.NewSQLiteBackend(filepath.Join(cfg.Dir, storage.SQLiteFileName))
	case BackendFile:
		return storage.NewFileBackend(cfg.Dir, storage.WithFileLogger(logger.Named("filestore")))
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, ErrMissingDatabaseURL
		}
		return storage.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownBackend, name)
	}
}

// Open builds the configured store. reg may be nil to skip metrics.
func Open(ctx context.Context, cfg Config, logger *observability.Logger, reg prometheus.Registerer) (*storage.Store, error) {
	if logger == nil {
		logger = observability.Discard()
	}

	opts := []storage.Option{storage.WithLogger(logger.Named("storage"))}
	if cfg.EncryptionKey != "" {
		sealer, err := security.NewSealer(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("encryption key: %w", err)
		}
		opts = append(opts, storage.WithSealer(sealer))
	}
	if reg != nil {
		m, err := observability.NewMetrics(reg)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		opts = append(opts, storage.WithMetrics(m))
	}

	backend, err := OpenBackend(ctx, cfg.Backend, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := storage.New(backend, opts...)
	s.Logger().Debug("store opened", "backend", cfg.Backend, "dir", cfg.Dir, "sealed", cfg.EncryptionKey != "")
	return s, nil
}

var (
	defaultMu    sync.Mutex
	defaultStore *storage.Store
)

// Default returns the process-wide store, opening it from the environment on
// first use. A failed open is not cached.
func Default(ctx context.Context) (*storage.Store, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore != nil {
		return defaultStore, nil
	}

	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger("pinsession", os.Stderr, cfg.LogLevel)
	s, err := Open(ctx, cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	defaultStore = s
	return s, nil
}

// CloseDefault closes the process-wide store, if open. The next Default call
// opens a new one.
func CloseDefault() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore == nil {
		return nil
	}
	err := defaultStore.Close()
	defaultStore = nil
	return err
}
