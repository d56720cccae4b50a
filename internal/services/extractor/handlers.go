package extractor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/batch"
)

// RegisterHandlers installs the automation scripts batch items run inside
// pool workers. Called once by the composition root before the pool starts
// taking work.
func (s *Service) RegisterHandlers() {
	s.pool.RegisterHandler(models.TaskKindExtract, s.extractPage)
}

// extractPage fetches one page as the user's authenticated session: inject
// the stored cookies, navigate, wait for the page's marker element, return
// the visible text.
func (s *Service) extractPage(ctx context.Context, browser interfaces.Browser, payload []byte) ([]byte, error) {
	var req models.ExtractRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid extract request: %w", err)
	}
	if req.UserID == "" || req.URL == "" {
		return nil, fmt.Errorf("extract request needs user_id and url")
	}

	artifact, _, err := s.store.LoadArtifact(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return nil, fmt.Errorf("%w: no stored session for %s", batch.ErrReauthRequired, req.UserID)
	}

	if err := browser.SetCookies(ctx, artifact.Cookies); err != nil {
		return nil, fmt.Errorf("failed to inject session cookies: %w", err)
	}

	if err := browser.Navigate(ctx, req.URL); err != nil {
		return nil, err
	}
	if req.WaitSelector != "" {
		if err := browser.WaitVisible(ctx, req.WaitSelector); err != nil {
			return nil, fmt.Errorf("page marker %q never appeared: %w", req.WaitSelector, err)
		}
	}

	text, err := browser.PageText(ctx)
	if err != nil {
		return nil, err
	}

	// A bounce back to the login page means the injected session is dead
	if currentURL, urlErr := browser.CurrentURL(ctx); urlErr == nil && s.authSurface(currentURL) {
		return nil, fmt.Errorf("%w: %s redirected to %s", batch.ErrReauthRequired, req.URL, currentURL)
	}

	return []byte(text), nil
}

// authSurface reports whether the URL looks like a login page
func (s *Service) authSurface(url string) bool {
	return s.auth != nil && s.auth.OnLoginSurface(url)
}
