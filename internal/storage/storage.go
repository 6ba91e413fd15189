// Package storage persists browser session cookie sets, one per account.
//
// Backend is the storage port. FileBackend (one JSON file per account plus an
// index.json manifest), SQLiteBackend (a single table in cookies.db, using
// pure-Go SQLite via modernc.org/sqlite) and PostgresBackend are its adapters.
// All of them satisfy the same contract and are exercised by one shared test
// suite.
//
// Store sits in front of a Backend. It rejects empty account ids, stamps
// updatedAt from its clock, optionally seals artifacts at rest, and turns every
// unreadable or unparseable artifact into an empty result for the caller.
//
// Concurrency: saves for different accounts never disturb each other. Saves
// for the same account race and the last write wins; cookie sets are never
// merged.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrEmptyAccountID is returned before any I/O when an account id is empty.
	ErrEmptyAccountID = errors.New("storage: account id must not be empty")

	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("storage: backend is closed")

	// ErrUnknownBackend is returned when a backend name cannot be resolved.
	ErrUnknownBackend = errors.New("storage: unknown backend")
)

// DefaultRetentionDays is used by Cleanup when no positive age is given.
const DefaultRetentionDays = 30

// Artifact is an opaque serialized cookie set. It is always valid JSON when
// handed to a caller.
type Artifact = json.RawMessage

// EmptyArtifact is what Load returns when no usable session exists.
var EmptyArtifact = Artifact("[]")

// Record is one account's stored session.
type Record struct {
	AccountID string   `json:"email"`
	Artifact  Artifact `json:"cookies"`
	UpdatedAt int64    `json:"updatedAt"` // Unix milliseconds.
}

// UpdatedTime returns UpdatedAt as a time.Time.
func (r Record) UpdatedTime() time.Time {
	return time.UnixMilli(r.UpdatedAt)
}

// Entry is the metadata of a stored record, without its artifact.
type Entry struct {
	AccountID string `json:"email"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Stats reports the size of a store.
type Stats struct {
	EntryCount       int   `json:"entry_count"`
	StorageSizeBytes int64 `json:"storage_size_bytes"`
}

// Backend is the storage port implemented by every adapter.
//
// Backends store bytes as given and never stamp times themselves; Store owns
// the clock and the JSON checks.
type Backend interface {
	// Get returns the record for accountID, or nil if none exists.
	Get(ctx context.Context, accountID string) (*Record, error)

	// Put upserts a record. It returns only once the write is durable.
	Put(ctx context.Context, rec Record) error

	// Delete removes a record. Missing records are not an error.
	Delete(ctx context.Context, accountID string) error

	// List returns every entry, most recently updated first. Ties are ordered
	// by account id.
	List(ctx context.Context) ([]Entry, error)

	// DeleteOlderThan removes records with UpdatedAt strictly before cutoff
	// (Unix milliseconds) and returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff int64) (int, error)

	// Stats reports entry count and approximate footprint.
	Stats(ctx context.Context) (Stats, error)

	// Close releases the backing handle.
	Close() error
}

// ValidateAccountID fails fast on empty ids.
func ValidateAccountID(accountID string) error {
	if accountID == "" {
		return ErrEmptyAccountID
	}
	return nil
}
