package httpclient

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// NewDefaultClient creates a simple HTTP client with a timeout
func NewDefaultClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewClientFromArtifact creates an HTTP client that authenticates as the
// captured session: a cookie jar populated from the artifact's cookies,
// grouped by domain so the jar accepts each cookie under its declared domain,
// plus a bearer-token transport when the artifact carries one.
func NewClientFromArtifact(artifact *models.SessionArtifact, timeout time.Duration) (*http.Client, error) {
	if artifact == nil {
		return NewDefaultClient(timeout), nil
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	client := &http.Client{
		Jar:     jar,
		Timeout: timeout,
	}

	baseURL, err := url.Parse(artifact.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	// Group cookies by domain so the jar accepts them under a matching URL
	cookiesByDomain := make(map[string][]*http.Cookie)
	for _, c := range artifact.Cookies {
		// A zero or long-past expiry becomes a session cookie; the jar
		// rejects cookies with invalid timestamps outright.
		var expires time.Time
		if c.Expires > 0 {
			expires = time.Unix(c.Expires, 0)
			if expires.Before(time.Now().Add(-24 * time.Hour)) {
				expires = time.Time{}
			}
		}

		httpCookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}

		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" {
			domain = baseURL.Host
		}

		cookiesByDomain[domain] = append(cookiesByDomain[domain], httpCookie)
	}

	for domain, domainCookies := range cookiesByDomain {
		domainURL, err := url.Parse(fmt.Sprintf("https://%s/", domain))
		if err != nil {
			continue
		}
		client.Jar.SetCookies(domainURL, domainCookies)
	}

	if artifact.BearerToken != "" || artifact.UserAgent != "" {
		client.Transport = &headerTransport{
			base:      http.DefaultTransport,
			bearer:    artifact.BearerToken,
			userAgent: artifact.UserAgent,
		}
	}

	return client, nil
}

// headerTransport injects the artifact's bearer token and user agent on
// every request without touching caller-set headers.
type headerTransport struct {
	base      http.RoundTripper
	bearer    string
	userAgent string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if t.bearer != "" && clone.Header.Get("Authorization") == "" {
		clone.Header.Set("Authorization", "Bearer "+t.bearer)
	}
	if t.userAgent != "" && clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(clone)
}
