package models

import (
	"net/http"
	"time"
)

// SessionArtifact is the set of cookies, local storage entries and optional
// bearer token that together represent an authenticated session with the
// target site. Produced once per successful login and persisted as a single
// unit - a partial artifact is never valid.
type SessionArtifact struct {
	Cookies      []*Cookie         `json:"cookies"`
	LocalStorage map[string]string `json:"local_storage,omitempty"`
	BearerToken  string            `json:"bearer_token,omitempty"`
	BaseURL      string            `json:"base_url"`
	UserAgent    string            `json:"user_agent,omitempty"`
	ExtractedAt  int64             `json:"extracted_at"` // Unix seconds
}

// GetHTTPCookies converts all captured cookies to HTTP cookie format
func (a *SessionArtifact) GetHTTPCookies() []*http.Cookie {
	cookies := make([]*http.Cookie, len(a.Cookies))
	for i, c := range a.Cookies {
		cookies[i] = c.ToHTTPCookie()
	}
	return cookies
}

// Age returns how long ago the artifact was extracted
func (a *SessionArtifact) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(a.ExtractedAt, 0))
}

// EarliestExpiry returns the earliest cookie expiry carried by the artifact,
// or the zero time when every cookie is a session cookie.
func (a *SessionArtifact) EarliestExpiry() time.Time {
	var earliest time.Time
	for _, c := range a.Cookies {
		if c.Expires <= 0 {
			continue
		}
		t := time.Unix(c.Expires, 0)
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	return earliest
}
