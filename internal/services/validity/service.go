// Package validity decides whether a stored session artifact can still be
// used against the target site without re-authenticating. The decision is a
// freshness heuristic backed by live HTTP probes - never a new login, since
// this package holds no plaintext secrets.
package validity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/httpclient"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// defaultLoginSurfaces are URL fragments that identify a login page. A probe
// that lands on one of these proved the session is gone regardless of status.
var defaultLoginSurfaces = []string{
	"/login",
	"/signin",
	"/sign-in",
	"/sign_in",
	"/auth/login",
	"/sso/",
}

// Verdict is the outcome of a validity check
type Verdict struct {
	Valid  bool
	Reason string
}

// Service evaluates stored artifacts against the freshness window and the
// configured live probes.
type Service struct {
	store  interfaces.CredentialStore
	config common.ValidityConfig
	logger arbor.ILogger
}

// NewService creates the validity checker
func NewService(store interfaces.CredentialStore, config common.ValidityConfig, logger arbor.ILogger) *Service {
	if config.FreshnessWindow <= 0 {
		config.FreshnessWindow = common.Duration(5 * time.Minute)
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = common.Duration(15 * time.Second)
	}
	if len(config.LoginSurfaces) == 0 {
		config.LoginSurfaces = defaultLoginSurfaces
	}
	return &Service{
		store:  store,
		config: config,
		logger: logger,
	}
}

// IsValid reports whether the artifact is still usable. Artifacts inside the
// freshness window pass without any network traffic; stale artifacts are
// checked for expired cookies and then verified with the configured probes.
func (s *Service) IsValid(ctx context.Context, artifact *models.SessionArtifact, extractedAt time.Time) Verdict {
	if artifact == nil {
		return Verdict{Valid: false, Reason: "no stored artifact"}
	}

	now := time.Now()

	if age := now.Sub(extractedAt); age < s.config.FreshnessWindow.Duration() {
		s.logger.Debug().
			Str("age", age.Round(time.Second).String()).
			Msg("Artifact inside freshness window, skipping probes")
		return Verdict{Valid: true, Reason: "within freshness window"}
	}

	if expiry := artifact.EarliestExpiry(); !expiry.IsZero() && expiry.Before(now) {
		return Verdict{
			Valid:  false,
			Reason: fmt.Sprintf("session cookie expired at %s", expiry.Format(time.RFC3339)),
		}
	}

	return s.probe(ctx, artifact)
}

// probe runs the configured probes in order against the artifact's base URL
func (s *Service) probe(ctx context.Context, artifact *models.SessionArtifact) Verdict {
	if len(s.config.Probes) == 0 {
		// Nothing to verify against; stale but not provably dead
		return Verdict{Valid: true, Reason: "stale but no probes configured"}
	}

	client, err := httpclient.NewClientFromArtifact(artifact, s.config.ProbeTimeout.Duration())
	if err != nil {
		return Verdict{Valid: false, Reason: fmt.Sprintf("failed to build probe client: %v", err)}
	}

	for _, probe := range s.config.Probes {
		verdict := s.runProbe(ctx, client, artifact.BaseURL, probe)
		if !verdict.Valid {
			if probe.Required {
				return verdict
			}
			s.logger.Warn().
				Str("path", probe.Path).
				Str("reason", verdict.Reason).
				Msg("Optional probe failed, continuing")
		}
	}

	return Verdict{Valid: true, Reason: "all probes passed"}
}

// runProbe issues one GET and classifies the result. A network failure counts
// as invalid: an unreachable site cannot prove the session alive, and the
// safe answer for the caller is to re-authenticate.
func (s *Service) runProbe(ctx context.Context, client *http.Client, baseURL string, probe common.ProbeConfig) Verdict {
	probeURL := strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(probe.Path, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return Verdict{Valid: false, Reason: fmt.Sprintf("invalid probe URL %s: %v", probeURL, err)}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Verdict{Valid: false, Reason: fmt.Sprintf("probe %s failed: %v", probe.Path, err)}
	}
	defer resp.Body.Close()

	// Redirect chains are followed by the client; the final URL tells us
	// whether the site bounced us back to its login surface
	if finalURL := resp.Request.URL.String(); s.landedOnLoginSurface(finalURL) {
		return Verdict{
			Valid:  false,
			Reason: fmt.Sprintf("probe %s redirected to login surface %s", probe.Path, finalURL),
		}
	}

	if !statusAccepted(resp.StatusCode, probe.ExpectStatuses) {
		return Verdict{
			Valid:  false,
			Reason: fmt.Sprintf("probe %s returned unexpected status %d", probe.Path, resp.StatusCode),
		}
	}

	return Verdict{Valid: true}
}

func (s *Service) landedOnLoginSurface(finalURL string) bool {
	lowered := strings.ToLower(finalURL)
	for _, surface := range s.config.LoginSurfaces {
		if strings.Contains(lowered, strings.ToLower(surface)) {
			return true
		}
	}
	return false
}

// statusAccepted applies the probe's status rule: an explicit list wins,
// otherwise any 2xx passes. 403 can be listed where the endpoint denies the
// action but still proves the session is authenticated.
func statusAccepted(status int, expected []int) bool {
	if len(expected) == 0 {
		return status >= 200 && status < 300
	}
	for _, want := range expected {
		if status == want {
			return true
		}
	}
	return false
}

// EnsureValid loads the stored artifact for the user and evaluates it.
// Returns false without error when no artifact exists or the artifact failed
// its checks; the caller decides whether to start a fresh login.
func (s *Service) EnsureValid(ctx context.Context, userID string) (bool, error) {
	artifact, extractedAt, err := s.store.LoadArtifact(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load artifact for %s: %w", userID, err)
	}
	if artifact == nil {
		s.logger.Debug().
			Str("user_id", userID).
			Msg("No stored artifact, re-authentication required")
		return false, nil
	}

	verdict := s.IsValid(ctx, artifact, extractedAt)
	if !verdict.Valid {
		s.logger.Info().
			Str("user_id", userID).
			Str("reason", verdict.Reason).
			Msg("Stored artifact no longer valid")
	}
	return verdict.Valid, nil
}
