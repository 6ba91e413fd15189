package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinsession/pinsession/internal/observability"
	"github.com/pinsession/pinsession/internal/storage"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*storage.Store, *storage.SQLiteBackend) {
	t.Helper()
	b, err := storage.NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	s := storage.New(b, storage.WithClock(func() time.Time { return testNow }))
	t.Cleanup(func() { s.Close() })
	return s, b
}

func testResolver() *StaticResolver {
	return NewStaticResolver(map[string]Credentials{
		"main": {Email: "pin@example.com", Password: "hunter22", Headless: true},
	})
}

func liveCookie(name string) Cookie {
	return Cookie{
		Name:    name,
		Value:   "v-" + name,
		Domain:  ".pinterest.com",
		Path:    "/",
		Expires: float64(testNow.Add(24 * time.Hour).Unix()),
		Secure:  true,
	}
}

func TestCredentials_EffectivePassword(t *testing.T) {
	tests := []struct {
		password string
		want     string
		canLogin bool
	}{
		{"secret", "secret", true},
		{"", "", false},
		{"__n8n_BLANK_VALUE_e5362baf-c777-4d57-a609-6eaf1f9e87f6", "", false},
	}
	for _, tt := range tests {
		c := Credentials{Email: "a@x.com", Password: tt.password}
		assert.Equal(t, tt.want, c.EffectivePassword(), tt.password)
		assert.Equal(t, tt.canLogin, c.CanLogin(), tt.password)
	}
}

func TestCredentials_Validate(t *testing.T) {
	assert.NoError(t, Credentials{Email: "a@x.com"}.Validate())
	assert.ErrorIs(t, Credentials{}.Validate(), ErrMissingEmail)
	assert.ErrorIs(t, Credentials{Email: "   "}.Validate(), ErrMissingEmail)
}

func TestCredentials_Proxy(t *testing.T) {
	assert.Nil(t, Credentials{}.Proxy())

	p := Credentials{ProxyServer: "http://proxy:8080", ProxyUsername: "u", ProxyPassword: "p"}.Proxy()
	require.NotNil(t, p)
	assert.Equal(t, Proxy{Server: "http://proxy:8080", Username: "u", Password: "p"}, *p)
}

func TestStaticResolver(t *testing.T) {
	r := testResolver()
	ctx := context.Background()

	c, err := r.Resolve(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "pin@example.com", c.AccountID())

	_, err = r.Resolve(ctx, "other")
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	r.Set("other", Credentials{Email: "o@x.com"})
	assert.Equal(t, []string{"main", "other"}, r.Names())
}

func TestCookie_Expiry(t *testing.T) {
	c := liveCookie("a")
	assert.False(t, c.Expired(testNow))

	exp, ok := c.ExpiresAt()
	require.True(t, ok)
	assert.True(t, exp.Equal(testNow.Add(24*time.Hour)), exp)

	c.Expires = float64(testNow.Unix())
	assert.True(t, c.Expired(testNow), "expiry at now counts as expired")

	session := Cookie{Name: "s", Expires: -1, Session: true}
	assert.False(t, session.Expired(testNow.Add(1000*time.Hour)))
	_, ok = session.ExpiresAt()
	assert.False(t, ok)
}

func TestLive(t *testing.T) {
	stale := liveCookie("stale")
	stale.Expires = float64(testNow.Add(-time.Hour).Unix())
	got := Live([]Cookie{liveCookie("a"), stale, {Name: "s", Expires: -1}}, testNow)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "s", got[1].Name)
}

func TestCookie_JSONShape(t *testing.T) {
	data, err := json.Marshal(Cookie{Name: "n", Value: "v", HTTPOnly: true, SameSite: "Lax"})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, true, m["httpOnly"])
	assert.Equal(t, "Lax", m["sameSite"])
	assert.NotContains(t, m, "size")
}

func TestBinder_OpenWithoutStoredSession(t *testing.T) {
	s, _ := newTestStore(t)
	b := NewBinder(s, testResolver(), WithBinderClock(func() time.Time { return testNow }))

	binding, err := b.Open(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, "pin@example.com", binding.AccountID())
	assert.Empty(t, binding.Cookies())
	assert.False(t, binding.HasSession())
}

func TestBinder_RestoresStoredCookies(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "pin@example.com", []Cookie{liveCookie("_pinterest_sess")}))

	b := NewBinder(s, testResolver(), WithBinderClock(func() time.Time { return testNow }))
	binding, err := b.Open(ctx, "main")
	require.NoError(t, err)

	require.Len(t, binding.Cookies(), 1)
	assert.Equal(t, "v-_pinterest_sess", binding.Cookies()[0].Value)
	assert.True(t, binding.HasSession())
	assert.True(t, binding.Credentials().Headless)
}

func TestBinder_ExpiredCookiesAreNoSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	old := liveCookie("_pinterest_sess")
	old.Expires = float64(testNow.Add(-time.Minute).Unix())
	require.NoError(t, s.Save(ctx, "pin@example.com", []Cookie{old}))

	b := NewBinder(s, testResolver(), WithBinderClock(func() time.Time { return testNow }))
	binding, err := b.Open(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, binding.Cookies(), 1)
	assert.False(t, binding.HasSession())
}

func TestBinder_NonListArtifactStartsFresh(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "pin@example.com", map[string]string{"not": "a list"}))

	binding, err := NewBinder(s, testResolver()).Open(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, binding.Cookies())
}

func TestBinder_UnknownCredential(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := NewBinder(s, testResolver()).Open(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestBinder_CredentialWithoutEmail(t *testing.T) {
	s, _ := newTestStore(t)
	r := NewStaticResolver(map[string]Credentials{"bad": {Password: "x"}})
	_, err := NewBinder(s, r).Open(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrMissingEmail)
}

func TestBinding_OnCookiesUpdatePersists(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	binding, err := NewBinder(s, testResolver()).Open(ctx, "main")
	require.NoError(t, err)

	binding.OnCookiesUpdate([]Cookie{liveCookie("a"), liveCookie("b")})
	assert.EqualValues(t, 1, binding.Saves())
	assert.Zero(t, binding.SaveFailures())

	var stored []Cookie
	ok, err := s.LoadInto(ctx, "pin@example.com", &stored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []Cookie{liveCookie("a"), liveCookie("b")}, stored)

	// A second binding for the same credentials sees the refreshed cookies.
	again, err := NewBinder(s, testResolver()).Open(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, again.Cookies(), 2)
}

func TestBinding_OnCookiesUpdateNil(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	binding, err := NewBinder(s, testResolver()).Open(ctx, "main")
	require.NoError(t, err)

	binding.OnCookiesUpdate(nil)

	res, err := s.Lookup(ctx, "pin@example.com")
	require.NoError(t, err)
	assert.Equal(t, storage.Found, res.Status)
	assert.JSONEq(t, "[]", string(res.Artifact))
}

func TestBinding_OnRawCookiesUpdateKeepsUnknownFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	binding, err := NewBinder(s, testResolver()).Open(ctx, "main")
	require.NoError(t, err)

	raw := json.RawMessage(`[{"name":"a","value":"1","priority":"High","sameParty":false}]`)
	binding.OnRawCookiesUpdate(raw)

	got, err := s.Load(ctx, "pin@example.com")
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(got))
	assert.Equal(t, "a", binding.Cookies()[0].Name)

	binding.OnRawCookiesUpdate(json.RawMessage(`{"x":1}`))
	assert.EqualValues(t, 1, binding.SaveFailures())
}

func TestBinding_SaveFailureDoesNotPropagate(t *testing.T) {
	var logs bytes.Buffer
	s, b := newTestStore(t)
	ctx := context.Background()
	binder := NewBinder(s, testResolver(),
		WithBinderLogger(observability.NewLogger("session", &logs, "info")),
		WithSaveTimeout(time.Second),
	)
	binding, err := binder.Open(ctx, "main")
	require.NoError(t, err)

	require.NoError(t, b.Close())

	assert.NotPanics(t, func() {
		binding.OnCookiesUpdate([]Cookie{liveCookie("a")})
	})
	assert.EqualValues(t, 1, binding.SaveFailures())
	assert.Zero(t, binding.Saves())
	assert.Len(t, binding.Cookies(), 1, "in-memory cookies still updated")
	assert.Contains(t, logs.String(), "cookie update not persisted")
	assert.NotContains(t, logs.String(), "v-a")
}

func TestBinding_Forget(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "pin@example.com", []Cookie{liveCookie("a")}))

	binding, err := NewBinder(s, testResolver(), WithBinderClock(func() time.Time { return testNow })).Open(ctx, "main")
	require.NoError(t, err)
	require.True(t, binding.HasSession())

	require.NoError(t, binding.Forget(ctx))
	assert.False(t, binding.HasSession())

	ids, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBinding_ForgetClosedStore(t *testing.T) {
	s, b := newTestStore(t)
	ctx := context.Background()
	binding, err := NewBinder(s, testResolver()).Open(ctx, "main")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	err = binding.Forget(ctx)
	assert.True(t, errors.Is(err, storage.ErrClosed), err)
}
