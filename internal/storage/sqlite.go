package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteFileName is the database file created inside the storage directory.
const SQLiteFileName = "cookies.db"

// SQLiteBackend implements Backend with one row per account in a SQLite
// table. SQLite's own file locking serializes writers across processes.
type SQLiteBackend struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewSQLiteBackend opens (or creates) a SQLite-backed store.
// Use ":memory:" for an in-memory database.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and the pragmas below
	// in effect for every statement.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cookies (
		email      TEXT PRIMARY KEY,
		cookies    TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS cookies_updated_at ON cookies (updated_at);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// DB returns the underlying handle.
func (s *SQLiteBackend) DB() *sql.DB {
	return s.db
}

// Get retrieves a record by account id. Returns nil if not found.
func (s *SQLiteBackend) Get(ctx context.Context, accountID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var cookies string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT cookies, updated_at FROM cookies WHERE email = ?",
		accountID,
	).Scan(&cookies, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", accountID, err)
	}

	return &Record{
		AccountID: accountID,
		Artifact:  Artifact(cookies),
		UpdatedAt: updatedAt,
	}, nil
}

// Put stores or replaces a record.
func (s *SQLiteBackend) Put(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cookies (email, cookies, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			cookies = excluded.cookies,
			updated_at = excluded.updated_at`,
		rec.AccountID, string(rec.Artifact), rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put %q: %w", rec.AccountID, err)
	}
	return nil
}

// Delete removes a record by account id.
func (s *SQLiteBackend) Delete(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM cookies WHERE email = ?", accountID); err != nil {
		return fmt.Errorf("delete %q: %w", accountID, err)
	}
	return nil
}

// List returns every entry, most recently updated first.
func (s *SQLiteBackend) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT email, updated_at FROM cookies ORDER BY updated_at DESC, email ASC")
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.AccountID, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteOlderThan removes records with updated_at before cutoff.
func (s *SQLiteBackend) DeleteOlderThan(ctx context.Context, cutoff int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM cookies WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete older than %d: %w", cutoff, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Stats reports the row count and the database size in pages.
func (s *SQLiteBackend) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, ErrClosed
	}

	var st Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cookies").Scan(&st.EntryCount); err != nil {
		return Stats{}, fmt.Errorf("count: %w", err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return Stats{}, fmt.Errorf("page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return Stats{}, fmt.Errorf("page_size: %w", err)
	}
	st.StorageSizeBytes = pageCount * pageSize
	return st, nil
}

// Close shuts down the database.
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Verify Backend interface compliance.
var _ Backend = (*SQLiteBackend)(nil)
