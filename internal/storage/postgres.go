package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTable is the table used by PostgresBackend.
const PostgresTable = "pinterest_cookies"

// PostgresBackend implements Backend on a shared PostgreSQL table, for hosts
// that run several workers against one set of sessions.
type PostgresBackend struct {
	mu       sync.RWMutex
	pool     *pgxpool.Pool
	ownsPool bool
	closed   bool
}

// OpenPostgres connects to url, verifies connectivity and ensures the table
// exists. The returned backend closes the pool on Close.
func OpenPostgres(ctx context.Context, url string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	b, err := NewPostgresBackend(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	b.ownsPool = true
	return b, nil
}

// NewPostgresBackend wraps an existing pool and ensures the table exists.
// The caller keeps ownership of the pool.
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool) (*PostgresBackend, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+PostgresTable+` (
			email      TEXT PRIMARY KEY,
			cookies    TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`)
	if err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (s *PostgresBackend) Pool() *pgxpool.Pool {
	return s.pool
}

// Get loads a record by account id. Returns nil if not found.
func (s *PostgresBackend) Get(ctx context.Context, accountID string) (*Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	var cookies string
	var updatedAt int64
	err := s.pool.QueryRow(ctx, `
		SELECT cookies, updated_at
		FROM `+PostgresTable+`
		WHERE email = $1
	`, accountID).Scan(&cookies, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", accountID, err)
	}

	return &Record{AccountID: accountID, Artifact: Artifact(cookies), UpdatedAt: updatedAt}, nil
}

// Put upserts a record.
func (s *PostgresBackend) Put(ctx context.Context, rec Record) error {
	if err := s.check(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+PostgresTable+` (email, cookies, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET
			cookies = EXCLUDED.cookies,
			updated_at = EXCLUDED.updated_at
	`, rec.AccountID, string(rec.Artifact), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put %q: %w", rec.AccountID, err)
	}
	return nil
}

// Delete removes a record by account id.
func (s *PostgresBackend) Delete(ctx context.Context, accountID string) error {
	if err := s.check(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	if _, err := s.pool.Exec(ctx, `DELETE FROM `+PostgresTable+` WHERE email = $1`, accountID); err != nil {
		return fmt.Errorf("delete %q: %w", accountID, err)
	}
	return nil
}

// List returns every entry, most recently updated first.
func (s *PostgresBackend) List(ctx context.Context) ([]Entry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	rows, err := s.pool.Query(ctx, `
		SELECT email, updated_at
		FROM `+PostgresTable+`
		ORDER BY updated_at DESC, email ASC
	`)
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
func (s *PostgresBackend) DeleteOlderThan(ctx context.Context, cutoff int64) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	defer s.mu.RUnlock()

	tag, err := s.pool.Exec(ctx, `DELETE FROM `+PostgresTable+` WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete older than %d: %w", cutoff, err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats reports the row count and the table's total relation size.
func (s *PostgresBackend) Stats(ctx context.Context) (Stats, error) {
	if err := s.check(); err != nil {
		return Stats{}, err
	}
	defer s.mu.RUnlock()

	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), pg_total_relation_size('`+PostgresTable+`')
		FROM `+PostgresTable+`
	`).Scan(&st.EntryCount, &st.StorageSizeBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Close closes the pool if this backend opened it.
func (s *PostgresBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

// check takes the read lock and fails if the backend is closed. On success
// the caller must release the read lock.
func (s *PostgresBackend) check() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

// Verify Backend interface compliance.
var _ Backend = (*PostgresBackend)(nil)
