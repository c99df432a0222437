// Package storage persists the credential slot outside the process, in SQLite
// for one machine or Redis for several, so every process shares one session.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"famfin/internal/credential"
	"famfin/internal/log"

	_ "modernc.org/sqlite"
)

const defaultSlot = "default"

// SQLiteCredentialStore implements credential.Store on a single SQLite row.
// Every mutation bumps the row version; Watch compares versions to detect
// writes made by other processes.
type SQLiteCredentialStore struct {
	db     *sql.DB
	slot   string
	logger *log.Logger

	mu          sync.Mutex
	seenVersion int64

	credential.Notifier
}

var _ credential.Store = (*SQLiteCredentialStore)(nil)

// NewSQLiteCredentialStore opens or creates the database at dbPath. logger
// may be nil.
func NewSQLiteCredentialStore(dbPath string, logger *log.Logger) (*SQLiteCredentialStore, error) {
	if logger == nil {
		logger = log.Discard()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteCredentialStore{
		db:     db,
		slot:   defaultSlot,
		logger: logger.WithComponent(log.ComponentStorage),
	}

	_, version, err := s.read(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read credential slot: %w", err)
	}
	s.seenVersion = version

	return s, nil
}

func (s *SQLiteCredentialStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteCredentialStore) Load(ctx context.Context) (string, error) {
	token, _, err := s.read(ctx)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	return token, nil
}

func (s *SQLiteCredentialStore) Save(ctx context.Context, token string) error {
	if token == "" {
		return credential.ErrEmptyCredential
	}
	if err := s.write(ctx, token); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	s.Notify(credential.Change{Token: token})
	return nil
}

func (s *SQLiteCredentialStore) Clear(ctx context.Context) error {
	if err := s.write(ctx, ""); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	s.Notify(credential.Change{Cleared: true})
	return nil
}

// Watch polls the slot version until ctx is done and notifies subscribers of
// changes made by other processes.
func (s *SQLiteCredentialStore) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				s.logger.WarnContext(ctx, "Credential slot poll failed", log.FieldError, err)
			}
		}
	}
}

// poll reads the slot under the same lock as write, so a local write cannot
// land between the read and the version comparison.
func (s *SQLiteCredentialStore) poll(ctx context.Context) error {
	s.mu.Lock()
	token, version, err := s.read(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	changed := version != s.seenVersion
	s.seenVersion = version
	s.mu.Unlock()

	if changed {
		s.Notify(credential.Change{Token: token, Cleared: token == "", External: true})
	}
	return nil
}

func (s *SQLiteCredentialStore) read(ctx context.Context) (string, int64, error) {
	var (
		token   string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, version FROM credentials WHERE slot = ?`, s.slot).Scan(&token, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return token, version, nil
}

// write stores token and records the new version as seen, so this process's
// own writes are not reported as external by Watch.
func (s *SQLiteCredentialStore) write(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO credentials (slot, token, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(slot) DO UPDATE SET
			token = excluded.token,
			version = credentials.version + 1,
			updated_at = excluded.updated_at
		RETURNING version`,
		s.slot, token, time.Now().UTC()).Scan(&version)
	if err != nil {
		return err
	}
	s.seenVersion = version
	return nil
}
