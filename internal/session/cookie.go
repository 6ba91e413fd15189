package session

import (
	"encoding/json"
	"math"
	"time"
)

// Cookie is one browser cookie as reported by the automation client.
// Expires is in Unix seconds; -1 marks a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Size     int     `json:"size,omitempty"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	Session  bool    `json:"session"`
	SameSite string  `json:"sameSite,omitempty"`
}

// ExpiresAt returns the expiry time. ok is false for session cookies.
func (c Cookie) ExpiresAt() (t time.Time, ok bool) {
	if c.Session || c.Expires <= 0 {
		return time.Time{}, false
	}
	sec, frac := math.Modf(c.Expires)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

// Expired reports whether the cookie expired at or before now. Session
// cookies never expire here; the browser drops them on exit.
func (c Cookie) Expired(now time.Time) bool {
	t, ok := c.ExpiresAt()
	return ok && !t.After(now)
}

// DecodeCookies parses a stored artifact. An artifact that is not a cookie
// array yields an error.
func DecodeCookies(data []byte) ([]Cookie, error) {
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, err
	}
	return cookies, nil
}

// Live returns the cookies that have not expired at now.
func Live(cookies []Cookie, now time.Time) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if !c.Expired(now) {
			out = append(out, c)
		}
	}
	return out
}
