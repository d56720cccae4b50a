package auth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// bearerTokenKeys are the localStorage keys checked, in order, for a bearer
// token. Sites keep their API token under one of a handful of names.
var bearerTokenKeys = []string{
	"access_token",
	"accessToken",
	"auth_token",
	"authToken",
	"id_token",
	"token",
	"bearer",
}

// extractArtifact captures cookies, localStorage and any bearer token from
// the authenticated browser. The artifact is a single atomic unit: no cookies
// means no artifact.
func (s *Service) extractArtifact(ctx context.Context, browser interfaces.Browser) (*models.SessionArtifact, error) {
	cookies, err := browser.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture session cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%w: no session cookies present after login", ErrAuthFailed)
	}

	// localStorage is best effort; some origins block access
	localStorage, err := browser.LocalStorage(ctx)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Msg("Failed to read localStorage, artifact will carry cookies only")
		localStorage = nil
	}

	currentURL, err := browser.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read post-login URL: %w", err)
	}

	artifact := &models.SessionArtifact{
		Cookies:      cookies,
		LocalStorage: localStorage,
		BearerToken:  bearerFromLocalStorage(localStorage),
		BaseURL:      originOf(currentURL),
		ExtractedAt:  time.Now().Unix(),
	}

	return artifact, nil
}

// bearerFromLocalStorage returns the first well-known token entry, if any
func bearerFromLocalStorage(entries map[string]string) string {
	for _, key := range bearerTokenKeys {
		if v, ok := entries[key]; ok && v != "" {
			return v
		}
	}
	return ""
}

// originOf reduces a URL to scheme://host
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}
