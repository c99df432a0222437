// Package backend builds the credential slot selected by configuration.
package backend

import (
	"context"
	"fmt"
	"time"

	"famfin/internal/config"
	"famfin/internal/credential"
	"famfin/internal/log"
	"famfin/internal/storage"
)

// BackendType represents the kind of credential slot
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
	RedisBackend  BackendType = "redis"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend, RedisBackend:
		return true
	default:
		return false
	}
}

// CleanupFunc releases resources held by a backend
type CleanupFunc func() error

// CredentialResult contains the store and its cleanup function
type CredentialResult struct {
	Type  BackendType
	Store credential.Store
	// SQLite is set for the sqlite backend.
	SQLite *storage.SQLiteCredentialStore
	// Watch follows changes made by other processes until ctx ends. Nil for
	// the memory backend, which is never shared.
	Watch   func(ctx context.Context) error
	Cleanup CleanupFunc
}

// NewCredentialStore opens the credential slot selected by cfg.
func NewCredentialStore(cfg *config.Config, logger *log.Logger) (*CredentialResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is nil")
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentBackend)

	backendType := BackendType(cfg.CredentialBackend)
	if !backendType.IsValid() {
		return nil, fmt.Errorf("invalid credential backend: %s", cfg.CredentialBackend)
	}

	switch backendType {
	case SQLiteBackend:
		store, err := storage.NewSQLiteCredentialStore(cfg.SQLiteDBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite credential store: %w", err)
		}
		logger.Info("Initialized SQLite credential store", "db_path", cfg.SQLiteDBPath)
		interval := cfg.CredentialWatchInterval
		return &CredentialResult{
			Type:   backendType,
			Store:  store,
			SQLite: store,
			Watch: func(ctx context.Context) error {
				return store.Watch(ctx, interval)
			},
			Cleanup: store.Close,
		}, nil
	case RedisBackend:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := storage.NewRedisCredentialStore(ctx, cfg.RedisURL, cfg.RedisKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis credential store: %w", err)
		}
		logger.Info("Initialized Redis credential store", "key", cfg.RedisKey)
		return &CredentialResult{
			Type:    backendType,
			Store:   store,
			Watch:   store.Watch,
			Cleanup: store.Close,
		}, nil
	default:
		logger.Info("Initialized memory credential store")
		return &CredentialResult{
			Type:    backendType,
			Store:   credential.NewMemoryStore(""),
			Cleanup: func() error { return nil },
		}, nil
	}
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SQLiteBackend, MemoryBackend, RedisBackend}
}
