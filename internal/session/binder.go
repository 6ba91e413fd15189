package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pinsession/pinsession/internal/observability"
	"github.com/pinsession/pinsession/internal/storage"
)

// DefaultSaveTimeout bounds a single cookie write from the update callback.
const DefaultSaveTimeout = 10 * time.Second

// Binder opens sessions for named credentials.
type Binder struct {
	store       *storage.Store
	resolver    CredentialResolver
	logger      *observability.Logger
	saveTimeout time.Duration
	now         func() time.Time
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithBinderLogger sets the logger. The default is the store's logger.
func WithBinderLogger(l *observability.Logger) BinderOption {
	return func(b *Binder) { b.logger = l }
}

// WithSaveTimeout bounds each callback write.
func WithSaveTimeout(d time.Duration) BinderOption {
	return func(b *Binder) { b.saveTimeout = d }
}

// WithBinderClock overrides time.Now for expiry checks.
func WithBinderClock(now func() time.Time) BinderOption {
	return func(b *Binder) { b.now = now }
}

// NewBinder creates a Binder over store and resolver.
func NewBinder(store *storage.Store, resolver CredentialResolver, opts ...BinderOption) *Binder {
	b := &Binder{
		store:       store,
		resolver:    resolver,
		saveTimeout: DefaultSaveTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = store.Logger().Named("session")
	}
	return b
}

// Open resolves the named credentials and restores their stored cookies.
// Missing or unusable cookies are not an error: the binding starts empty and
// the client logs in.
func (b *Binder) Open(ctx context.Context, credentialName string) (*Binding, error) {
	creds, err := b.resolver.Resolve(ctx, credentialName)
	if err != nil {
		return nil, err
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("credential %q: %w", credentialName, err)
	}

	raw, err := b.store.Load(ctx, creds.AccountID())
	if err != nil {
		return nil, err
	}
	cookies, err := DecodeCookies(raw)
	if err != nil {
		b.logger.Warn("stored artifact is not a cookie list, starting fresh",
			"account", creds.AccountID(), "error", err)
		cookies = nil
	}

	binding := &Binding{
		binder:      b,
		credentials: creds,
		restored:    cookies,
	}
	b.logger.Info("session opened",
		"account", creds.AccountID(),
		"restored", len(cookies),
		"live", len(Live(cookies, b.now())),
		"can_login", creds.CanLogin(),
	)
	return binding, nil
}

// Binding ties one credential set to its stored session.
type Binding struct {
	binder      *Binder
	credentials Credentials

	mu       sync.Mutex
	restored []Cookie
	saves    atomic.Int64
	failures atomic.Int64
}

// Credentials returns the resolved credential set.
func (s *Binding) Credentials() Credentials {
	return s.credentials
}

// AccountID is the key cookies are stored under.
func (s *Binding) AccountID() string {
	return s.credentials.AccountID()
}

// Cookies returns the cookies restored on Open or last reported through
// OnCookiesUpdate.
func (s *Binding) Cookies() []Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Cookie, len(s.restored))
	copy(out, s.restored)
	return out
}

// HasSession reports whether any unexpired cookie is available.
func (s *Binding) HasSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(Live(s.restored, s.binder.now())) > 0
}

// OnCookiesUpdate persists a cookie refresh. It never returns an error: a
// failed write is logged and counted, and the client keeps working with the
// cookies it holds in memory.
func (s *Binding) OnCookiesUpdate(cookies []Cookie) {
	if cookies == nil {
		cookies = []Cookie{}
	}
	s.persist(append([]Cookie(nil), cookies...), cookies)
}

// OnRawCookiesUpdate persists a cookie refresh given as a JSON array. Fields
// outside Cookie are stored as reported.
func (s *Binding) OnRawCookiesUpdate(raw json.RawMessage) {
	cookies, err := DecodeCookies(raw)
	if err != nil {
		s.failures.Add(1)
		s.binder.logger.Warn("cookie update is not a cookie list", "account", s.AccountID(), "error", err)
		return
	}
	s.persist(cookies, raw)
}

func (s *Binding) persist(cookies []Cookie, artifact any) {
	s.mu.Lock()
	s.restored = cookies
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.binder.saveTimeout)
	defer cancel()

	if err := s.binder.store.Save(ctx, s.AccountID(), artifact); err != nil {
		s.failures.Add(1)
		s.binder.logger.Warn("cookie update not persisted",
			"account", s.AccountID(), "cookies", len(cookies), "error", err)
		return
	}
	s.saves.Add(1)
}

// Saves returns how many updates were persisted.
func (s *Binding) Saves() int64 {
	return s.saves.Load()
}

// SaveFailures returns how many updates could not be persisted.
func (s *Binding) SaveFailures() int64 {
	return s.failures.Load()
}

// Forget drops the stored session, typically after the stored cookies failed
// to authenticate and a fresh login also failed.
func (s *Binding) Forget(ctx context.Context) error {
	s.mu.Lock()
	s.restored = nil
	s.mu.Unlock()
	if err := s.binder.store.Delete(ctx, s.AccountID()); err != nil {
		return fmt.Errorf("forget %q: %w", s.AccountID(), err)
	}
	return nil
}
