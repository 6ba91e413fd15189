// Package session binds Pinterest credentials to their persisted browser
// cookies.
//
// A Binder resolves a named credential set, restores the cookies stored for
// its email, and hands back a Binding whose OnCookiesUpdate method is the
// callback given to the browser automation client. Every cookie refresh the
// client reports is written back to the store, so the next run can skip the
// login flow.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// blankPasswordPrefix marks a password field that was cleared in the
// workflow editor. Such a value means "no password".
const blankPasswordPrefix = "__n8n_BLANK_VALUE_"

var (
	// ErrCredentialNotFound is returned by a resolver for an unknown name.
	ErrCredentialNotFound = errors.New("session: credential not found")

	// ErrMissingEmail is returned when credentials carry no email.
	ErrMissingEmail = errors.New("session: credential email is required")
)

// Credentials holds one Pinterest credential set.
type Credentials struct {
	Email               string `json:"email"`
	Password            string `json:"password"`
	Headless            bool   `json:"headless"`
	UseFingerprintSuite bool   `json:"useFingerprintSuite"`
	ProxyServer         string `json:"proxyServer,omitempty"`
	ProxyUsername       string `json:"proxyUsername,omitempty"`
	ProxyPassword       string `json:"proxyPassword,omitempty"`
}

// Proxy is the proxy configuration handed to the automation client.
type Proxy struct {
	Server   string `json:"server"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AccountID is the key the session is stored under.
func (c Credentials) AccountID() string {
	return c.Email
}

// Validate checks the fields a session cannot do without.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Email) == "" {
		return ErrMissingEmail
	}
	return nil
}

// EffectivePassword returns the password, or "" when the field holds the
// editor's blank placeholder.
func (c Credentials) EffectivePassword() string {
	if strings.HasPrefix(c.Password, blankPasswordPrefix) {
		return ""
	}
	return c.Password
}

// CanLogin reports whether a fresh login is possible. Without a password the
// client relies on stored cookies alone.
func (c Credentials) CanLogin() bool {
	return c.EffectivePassword() != ""
}

// Proxy returns the proxy settings, or nil when no proxy server is set.
func (c Credentials) Proxy() *Proxy {
	if c.ProxyServer == "" {
		return nil
	}
	return &Proxy{
		Server:   c.ProxyServer,
		Username: c.ProxyUsername,
		Password: c.ProxyPassword,
	}
}

// CredentialResolver looks up credential sets by name.
type CredentialResolver interface {
	Resolve(ctx context.Context, name string) (Credentials, error)
}

// StaticResolver serves credentials from memory.
type StaticResolver struct {
	mu    sync.RWMutex
	creds map[string]Credentials
}

// NewStaticResolver creates a resolver seeded with creds.
func NewStaticResolver(creds map[string]Credentials) *StaticResolver {
	r := &StaticResolver{creds: make(map[string]Credentials, len(creds))}
	for name, c := range creds {
		r.creds[name] = c
	}
	return r
}

// Set adds or replaces a credential set.
func (r *StaticResolver) Set(name string, c Credentials) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[name] = c
}

// Names returns the registered names in sorted order.
func (r *StaticResolver) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.creds))
	for name := range r.creds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve implements CredentialResolver.
func (r *StaticResolver) Resolve(_ context.Context, name string) (Credentials, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[name]
	if !ok {
		return Credentials{}, fmt.Errorf("%w: %q", ErrCredentialNotFound, name)
	}
	return c, nil
}

// Verify interface compliance.
var _ CredentialResolver = (*StaticResolver)(nil)
