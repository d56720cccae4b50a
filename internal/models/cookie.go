package models

import (
	"net/http"
	"time"
)

// Cookie represents a browser cookie captured from an authenticated session.
// Field layout mirrors the CDP cookie representation so captured cookies
// survive a round trip through storage without loss.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  int64  `json:"expires"` // Unix seconds, 0 = session cookie
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httpOnly"`
	SameSite string `json:"sameSite"`
}

// ToHTTPCookie converts a captured cookie to a standard HTTP cookie
func (c *Cookie) ToHTTPCookie() *http.Cookie {
	cookie := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}

	if c.Expires > 0 {
		cookie.Expires = time.Unix(c.Expires, 0)
	}

	switch c.SameSite {
	case "Strict", "strict":
		cookie.SameSite = http.SameSiteStrictMode
	case "Lax", "lax":
		cookie.SameSite = http.SameSiteLaxMode
	case "None", "none":
		cookie.SameSite = http.SameSiteNoneMode
	default:
		cookie.SameSite = http.SameSiteDefaultMode
	}

	return cookie
}

// IsExpired reports whether the cookie carries an expiry in the past.
// Session cookies (Expires == 0) never expire by this check.
func (c *Cookie) IsExpired(now time.Time) bool {
	return c.Expires > 0 && time.Unix(c.Expires, 0).Before(now)
}
