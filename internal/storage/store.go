package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pinsession/pinsession/internal/observability"
	"github.com/pinsession/pinsession/internal/security"
)

// Store is the session store handle shared by every consumer in a process.
type Store struct {
	backend Backend
	logger  *observability.Logger
	metrics *observability.Metrics
	sealer  *security.Sealer
	now     func() time.Time
	id      string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *observability.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics records operation metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithSealer seals artifacts before they reach the backend.
func WithSealer(sl *security.Sealer) Option {
	return func(s *Store) { s.sealer = sl }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps a backend.
func New(b Backend, opts ...Option) *Store {
	s := &Store{
		backend: b,
		now:     time.Now,
		id:      uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.Discard()
	}
	s.logger = s.logger.With("store_id", s.id)
	return s
}

// ID identifies this store instance in logs.
func (s *Store) ID() string { return s.id }

// Backend returns the underlying adapter.
func (s *Store) Backend() Backend { return s.backend }

// Logger returns the store's logger.
func (s *Store) Logger() *observability.Logger { return s.logger }

// Save upserts the artifact for accountID and stamps it with the current
// time. artifact may be raw JSON (Artifact, json.RawMessage, []byte) or any
// value encoding/json can marshal. On error the previous record, if any, is
// left as it was.
func (s *Store) Save(ctx context.Context, accountID string, artifact any) error {
	if err := ValidateAccountID(accountID); err != nil {
		return err
	}
	start := time.Now()

	data, err := encodeArtifact(artifact)
	if err != nil {
		s.metrics.Observe("save", start, observability.ResultError)
		return fmt.Errorf("encode artifact for %q: %w", accountID, err)
	}
	stored := data
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(data)
		if err != nil {
			s.metrics.Observe("save", start, observability.ResultError)
			return fmt.Errorf("seal artifact for %q: %w", accountID, err)
		}
		if stored, err = json.Marshal(sealed); err != nil {
			s.metrics.Observe("save", start, observability.ResultError)
			return fmt.Errorf("encode sealed artifact for %q: %w", accountID, err)
		}
	}

	rec := Record{
		AccountID: accountID,
		Artifact:  stored,
		UpdatedAt: s.now().UnixMilli(),
	}
	if err := s.backend.Put(ctx, rec); err != nil {
		s.metrics.Observe("save", start, observability.ResultError)
		s.logger.Error("save failed", "account", accountID, "error", err)
		return err
	}

	s.metrics.Observe("save", start, observability.ResultOK)
	s.logger.Info("saved", "account", accountID, "cookies", countElements(data))
	return nil
}

// Lookup returns the typed outcome for accountID. Read failures are returned
// as errors; unparseable or unsealable artifacts are reported as Corrupt.
func (s *Store) Lookup(ctx context.Context, accountID string) (LoadResult, error) {
	if err := ValidateAccountID(accountID); err != nil {
		return LoadResult{}, err
	}

	rec, err := s.backend.Get(ctx, accountID)
	if err != nil {
		return LoadResult{}, err
	}
	if rec == nil {
		return LoadResult{Status: NotFound}, nil
	}

	data, reason := s.decodeStored(rec.Artifact)
	if reason != "" {
		return LoadResult{Status: Corrupt, UpdatedAt: rec.UpdatedAt, Reason: reason}, nil
	}
	return LoadResult{Status: Found, Artifact: data, UpdatedAt: rec.UpdatedAt}, nil
}

// Load returns the stored artifact for accountID. Missing, corrupt and
// unreadable sessions all yield EmptyArtifact; the only error is
// ErrEmptyAccountID.
func (s *Store) Load(ctx context.Context, accountID string) (Artifact, error) {
	res, err := s.resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if res.Status != Found {
		return EmptyArtifact, nil
	}
	return res.Artifact, nil
}

// LoadInto decodes the stored artifact into v. It reports false, leaving v
// untouched, when no usable session exists.
func (s *Store) LoadInto(ctx context.Context, accountID string, v any) (bool, error) {
	res, err := s.resolve(ctx, accountID)
	if err != nil || res.Status != Found {
		return false, err
	}
	if err := json.Unmarshal(res.Artifact, v); err != nil {
		s.logger.Warn("load corrupt", "account", accountID, "reason", err.Error())
		return false, nil
	}
	return true, nil
}

// resolve is Lookup with logging and metrics. Read failures are folded into
// NotFound.
func (s *Store) resolve(ctx context.Context, accountID string) (LoadResult, error) {
	start := time.Now()
	res, err := s.Lookup(ctx, accountID)
	if errors.Is(err, ErrEmptyAccountID) {
		return LoadResult{}, err
	}
	if err != nil {
		s.metrics.Observe("load", start, observability.ResultError)
		s.logger.Warn("load failed", "account", accountID, "error", err)
		return LoadResult{Status: NotFound}, nil
	}

	switch res.Status {
	case Found:
		s.metrics.Observe("load", start, observability.ResultOK)
		s.logger.Info("loaded",
			"account", accountID,
			"cookies", countElements(res.Artifact),
			"age_minutes", int64(res.Age(s.now())/time.Minute),
		)
	case Corrupt:
		s.metrics.Observe("load", start, observability.ResultCorrupt)
		s.logger.Warn("load corrupt", "account", accountID, "reason", res.Reason)
	default:
		s.metrics.Observe("load", start, observability.ResultNotFound)
		s.logger.Info("load miss", "account", accountID)
	}
	return res, nil
}

// Delete removes the session for accountID. Missing sessions are not an error.
func (s *Store) Delete(ctx context.Context, accountID string) error {
	if err := ValidateAccountID(accountID); err != nil {
		return err
	}
	start := time.Now()
	if err := s.backend.Delete(ctx, accountID); err != nil {
		s.metrics.Observe("delete", start, observability.ResultError)
		s.logger.Error("delete failed", "account", accountID, "error", err)
		return err
	}
	s.metrics.Observe("delete", start, observability.ResultOK)
	s.logger.Info("deleted", "account", accountID)
	return nil
}

// ListAccounts returns every stored account id, most recently updated first.
func (s *Store) ListAccounts(ctx context.Context) ([]string, error) {
	entries, err := s.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.AccountID)
	}
	return ids, nil
}

// Entries returns the metadata of every stored record.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	return s.backend.List(ctx)
}

// Cleanup removes sessions last written more than maxAgeDays ago. A
// non-positive maxAgeDays means DefaultRetentionDays.
func (s *Store) Cleanup(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultRetentionDays
	}
	start := time.Now()
	cutoff := s.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour).UnixMilli()

	n, err := s.backend.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.metrics.Observe("cleanup", start, observability.ResultError)
		s.logger.Error("cleanup failed", "max_age_days", maxAgeDays, "error", err)
		return n, err
	}
	s.metrics.Observe("cleanup", start, observability.ResultOK)
	if n > 0 {
		s.logger.Info("cleanup", "removed", n, "max_age_days", maxAgeDays)
	}
	if st, err := s.backend.Stats(ctx); err == nil {
		s.metrics.SetEntries(st.EntryCount)
	}
	return n, nil
}

// Stats reports the record count and approximate storage footprint.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st, err := s.backend.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.metrics.SetEntries(st.EntryCount)
	return st, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// decodeStored unseals and validates a stored artifact. A non-empty reason
// means the artifact is corrupt.
func (s *Store) decodeStored(stored []byte) (Artifact, string) {
	if !json.Valid(stored) {
		return nil, "invalid JSON"
	}

	var sealed string
	if json.Unmarshal(stored, &sealed) != nil || !security.IsSealed(sealed) {
		return Artifact(stored), ""
	}
	if s.sealer == nil {
		return nil, "artifact is sealed but no encryption key is configured"
	}
	data, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, err.Error()
	}
	if !json.Valid(data) {
		return nil, "invalid JSON after unsealing"
	}
	return Artifact(data), ""
}

func encodeArtifact(artifact any) ([]byte, error) {
	var raw []byte
	switch v := artifact.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		return json.Marshal(artifact)
	}
	if !json.Valid(raw) {
		return nil, errors.New("artifact is not valid JSON")
	}
	return raw, nil
}

// countElements returns the length of a JSON array, or -1 for other values.
func countElements(data []byte) int {
	var items []json.RawMessage
	if json.Unmarshal(data, &items) != nil {
		return -1
	}
	return len(items)
}
