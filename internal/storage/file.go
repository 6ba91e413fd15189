package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pinsession/pinsession/internal/observability"
)

const (
	indexFileName = "index.json"
	lockFileName  = "index.lock"
)

// indexEntry is one element of index.json. Cookies is only read, from index
// files that still carry a copy of the artifact; the next index write moves it
// to the artifact file and never writes it back.
type indexEntry struct {
	Email     string          `json:"email"`
	Cookies   json.RawMessage `json:"cookies,omitempty"`
	UpdatedAt int64           `json:"updatedAt"`
}

// FileBackend stores one <account>.json file per account and an index.json
// listing which accounts exist. The index is the source of truth: an artifact
// file the index does not name is not a record.
//
// Every operation re-reads the index under index.lock (shared for reads,
// exclusive for writes), so several processes may share one directory.
//
// Account ids are turned into file names by SanitizeAccountID. Two ids that
// sanitize to the same name share one artifact file and the last write wins.
type FileBackend struct {
	mu        sync.Mutex
	dir       string
	indexPath string
	lockPath  string
	logger    *observability.Logger
	closed    bool

	// writeFile is AtomicWriteFile; tests replace it to inject failures.
	writeFile func(filename string, data []byte, perm os.FileMode) error
}

// FileOption configures a FileBackend.
type FileOption func(*FileBackend)

// WithFileLogger sets the logger used for index recovery messages.
func WithFileLogger(l *observability.Logger) FileOption {
	return func(b *FileBackend) { b.logger = l }
}

// NewFileBackend opens (or creates) a file-index store rooted at dir.
func NewFileBackend(dir string, opts ...FileOption) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backend: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory %q: %w", dir, err)
	}

	b := &FileBackend{
		dir:       dir,
		indexPath: filepath.Join(dir, indexFileName),
		lockPath:  filepath.Join(dir, lockFileName),
		writeFile: AtomicWriteFile,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = observability.Discard()
	}
	return b, nil
}

// Dir returns the storage directory.
func (b *FileBackend) Dir() string { return b.dir }

// SanitizeAccountID replaces every character outside [A-Za-z0-9@._-] with an
// underscore. Characters outside the Basic Multilingual Plane count as two
// UTF-16 code units and become two underscores, so file names match those
// written by the Pinterest node.
func SanitizeAccountID(accountID string) string {
	var sb strings.Builder
	sb.Grow(len(accountID))
	for _, r := range accountID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '@', r == '.', r == '_', r == '-':
			sb.WriteRune(r)
		case r > 0xFFFF:
			sb.WriteString("__")
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// ArtifactPath returns the file holding accountID's artifact.
func (b *FileBackend) ArtifactPath(accountID string) string {
	return filepath.Join(b.dir, SanitizeAccountID(accountID)+".json")
}

// Get returns the record for accountID, or nil if the index does not list it.
func (b *FileBackend) Get(ctx context.Context, accountID string) (*Record, error) {
	var rec *Record
	err := b.withLock(false, func() error {
		idx, err := b.readIndex()
		if err != nil {
			return err
		}
		entry, ok := idx[accountID]
		if !ok {
			return nil
		}

		data, err := os.ReadFile(b.ArtifactPath(accountID))
		if os.IsNotExist(err) {
			if len(entry.Cookies) == 0 {
				b.logger.Warn("indexed artifact file missing", "account", accountID)
				return nil
			}
			data, err = entry.Cookies, nil
		}
		if err != nil {
			return fmt.Errorf("read artifact %q: %w", accountID, err)
		}
		rec = &Record{AccountID: accountID, Artifact: data, UpdatedAt: entry.UpdatedAt}
		return nil
	})
	return rec, err
}

// Put writes the artifact file first and the index second. If the index
// cannot be written the previous artifact file is put back, so a failed Put
// leaves the record as it was.
func (b *FileBackend) Put(ctx context.Context, rec Record) error {
	return b.withLock(true, func() error {
		idx, err := b.readIndex()
		if err != nil {
			return err
		}

		path := b.ArtifactPath(rec.AccountID)
		prev, prevErr := os.ReadFile(path)
		if prevErr != nil && !os.IsNotExist(prevErr) {
			return fmt.Errorf("read previous artifact %q: %w", rec.AccountID, prevErr)
		}

		if err := b.writeFile(path, rec.Artifact, 0o600); err != nil {
			return fmt.Errorf("write artifact %q: %w", rec.AccountID, err)
		}

		idx[rec.AccountID] = indexEntry{Email: rec.AccountID, UpdatedAt: rec.UpdatedAt}
		if err := b.writeIndex(idx); err != nil {
			var restoreErr error
			if prevErr == nil {
				restoreErr = b.writeFile(path, prev, 0o600)
			} else {
				restoreErr = os.Remove(path)
			}
			if restoreErr != nil {
				restoreErr = fmt.Errorf("restore artifact %q: %w", rec.AccountID, restoreErr)
			}
			return errors.Join(err, restoreErr)
		}
		return nil
	})
}

// Delete drops accountID from the index, then removes its artifact file.
func (b *FileBackend) Delete(ctx context.Context, accountID string) error {
	return b.withLock(true, func() error {
		idx, err := b.readIndex()
		if err != nil {
			return err
		}
		if _, ok := idx[accountID]; !ok {
			return nil
		}
		delete(idx, accountID)
		if err := b.writeIndex(idx); err != nil {
			return err
		}
		return b.removeArtifact(accountID)
	})
}

// List returns every indexed entry, most recently updated first.
func (b *FileBackend) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := b.withLock(false, func() error {
		idx, err := b.readIndex()
		if err != nil {
			return err
		}
		entries = sortedEntries(idx)
		return nil
	})
	return entries, err
}

// DeleteOlderThan removes every entry with UpdatedAt before cutoff.
func (b *FileBackend) DeleteOlderThan(ctx context.Context, cutoff int64) (int, error) {
	var removed []string
	err := b.withLock(true, func() error {
		idx, err := b.readIndex()
		if err != nil {
			return err
		}
		for id, e := range idx {
			if e.UpdatedAt < cutoff {
				removed = append(removed, id)
				delete(idx, id)
			}
		}
		if len(removed) == 0 {
			return nil
		}
		if err := b.writeIndex(idx); err != nil {
			removed = nil
			return err
		}

		var errs []error
		for _, id := range removed {
			errs = append(errs, b.removeArtifact(id))
		}
		return errors.Join(errs...)
	})
	return len(removed), err
}

// Stats sums the artifact files of indexed entries and the index itself.
func (b *FileBackend) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := b.withLock(false, func() error {
		idx, err := b.readIndex()
		if err != nil {
			return err
		}
		st.EntryCount = len(idx)

		seen := make(map[string]bool, len(idx))
		for id := range idx {
			path := b.ArtifactPath(id)
			if seen[path] {
				continue
			}
			seen[path] = true
			if info, err := os.Stat(path); err == nil {
				st.StorageSizeBytes += info.Size()
			}
		}
		if info, err := os.Stat(b.indexPath); err == nil {
			st.StorageSizeBytes += info.Size()
		}
		return nil
	})
	return st, err
}

// Close marks the backend closed. The directory is left in place.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *FileBackend) withLock(exclusive bool, fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	lock, err := acquireFileLock(b.lockPath, exclusive)
	if err != nil {
		return err
	}
	defer releaseFileLock(lock)

	return fn()
}

// readIndex loads index.json. A missing index is empty; an unparseable one is
// rebuilt from the artifact files on disk.
func (b *FileBackend) readIndex() (map[string]indexEntry, error) {
	data, err := os.ReadFile(b.indexPath)
	if os.IsNotExist(err) {
		return make(map[string]indexEntry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	var entries []indexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		b.logger.Warn("index unreadable, rebuilding from artifact files", "path", b.indexPath, "error", err)
		return b.rebuildIndex()
	}

	idx := make(map[string]indexEntry, len(entries))
	for _, e := range entries {
		if e.Email == "" {
			continue
		}
		if cur, ok := idx[e.Email]; ok && cur.UpdatedAt > e.UpdatedAt {
			continue
		}
		idx[e.Email] = e
	}
	return idx, nil
}

// rebuildIndex lists every <name>.json artifact file, using the file name as
// account id and the modification time as UpdatedAt.
func (b *FileBackend) rebuildIndex() (map[string]indexEntry, error) {
	dirEntries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("scan storage directory: %w", err)
	}

	idx := make(map[string]indexEntry)
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || name == indexFileName || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		idx[id] = indexEntry{Email: id, UpdatedAt: info.ModTime().UnixMilli()}
	}
	return idx, nil
}

func (b *FileBackend) writeIndex(idx map[string]indexEntry) error {
	if err := b.externalizeLegacyCookies(idx); err != nil {
		return err
	}

	entries := sortedEntries(idx)
	out := make([]indexEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, indexEntry{Email: e.AccountID, UpdatedAt: e.UpdatedAt})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := b.writeFile(b.indexPath, data, 0o600); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// externalizeLegacyCookies writes the cookies an old-layout index entry
// carries to that account's artifact file when the file does not exist yet,
// so dropping them from the index loses nothing. An existing artifact file
// takes precedence over the index copy.
func (b *FileBackend) externalizeLegacyCookies(idx map[string]indexEntry) error {
	for id, e := range idx {
		if len(e.Cookies) == 0 {
			continue
		}
		path := b.ArtifactPath(id)
		_, err := os.Stat(path)
		switch {
		case os.IsNotExist(err):
			if err := b.writeFile(path, e.Cookies, 0o600); err != nil {
				return fmt.Errorf("write artifact %q from index: %w", id, err)
			}
			b.logger.Info("moved index cookies to artifact file", "account", id)
		case err != nil:
			return fmt.Errorf("stat artifact %q: %w", id, err)
		}
		e.Cookies = nil
		idx[id] = e
	}
	return nil
}

func (b *FileBackend) removeArtifact(accountID string) error {
	if err := os.Remove(b.ArtifactPath(accountID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact %q: %w", accountID, err)
	}
	return nil
}

func sortedEntries(idx map[string]indexEntry) []Entry {
	entries := make([]Entry, 0, len(idx))
	for id, e := range idx {
		entries = append(entries, Entry{AccountID: id, UpdatedAt: e.UpdatedAt})
	}
	sortEntries(entries)
	return entries
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UpdatedAt != entries[j].UpdatedAt {
			return entries[i].UpdatedAt > entries[j].UpdatedAt
		}
		return entries[i].AccountID < entries[j].AccountID
	})
}

// Verify Backend interface compliance.
var _ Backend = (*FileBackend)(nil)
