// Package extractor is the produced surface of the data-extraction core. It
// composes the login state machine, session manager, validity checker, worker
// pool and batch orchestrator behind the operations route-layer callers use.
package extractor

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/auth"
	"github.com/ternarybob/colligo/internal/services/batch"
	"github.com/ternarybob/colligo/internal/services/session"
	"github.com/ternarybob/colligo/internal/services/validity"
	"github.com/ternarybob/colligo/internal/worker"
)

// SessionStatus describes a pending challenge session
type SessionStatus struct {
	Active    bool      `json:"active"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service wires the extraction subsystems together. All collaborators are
// constructed by the composition root and injected here; the facade owns no
// lifecycle of its own.
type Service struct {
	auth          *auth.Service
	sessions      *session.Manager
	validity      *validity.Service
	pool          *worker.Pool
	orchestrator  *batch.Orchestrator
	store         interfaces.CredentialStore
	submitTimeout time.Duration
	logger        arbor.ILogger
}

// NewService creates the extraction facade. submitTimeout caps how long one
// batch item may wait in the pool queue plus run; zero disables the cap.
func NewService(
	authService *auth.Service,
	sessions *session.Manager,
	validityService *validity.Service,
	pool *worker.Pool,
	orchestrator *batch.Orchestrator,
	store interfaces.CredentialStore,
	submitTimeout time.Duration,
	logger arbor.ILogger,
) *Service {
	return &Service{
		auth:          authService,
		sessions:      sessions,
		validity:      validityService,
		pool:          pool,
		orchestrator:  orchestrator,
		store:         store,
		submitTimeout: submitTimeout,
		logger:        logger,
	}
}

// StartLogin begins an interactive login for the user. When the site answers
// directly the returned result carries the artifact, already persisted; when
// a challenge is required the result carries the session ID for
// SubmitChallenge and nothing is persisted yet.
func (s *Service) StartLogin(ctx context.Context, userID, secret string) (*auth.LoginResult, error) {
	result, err := s.auth.Login(ctx, userID, secret)
	if err != nil {
		return result, err
	}

	if result.Artifact != nil {
		if err := s.store.SaveArtifact(ctx, userID, result.Artifact); err != nil {
			return result, fmt.Errorf("login succeeded but artifact could not be stored: %w", err)
		}
	}

	return result, nil
}

// SubmitChallenge completes a pending login with the verification code and
// persists the resulting artifact. The session is consumed whatever the
// outcome; an unknown or expired ID fails with session.ErrNotFound.
func (s *Service) SubmitChallenge(ctx context.Context, sessionID, code string) (*models.SessionArtifact, error) {
	// Capture the owning user before the submit consumes the session
	pending, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	userID := pending.UserID

	artifact, err := s.auth.SubmitChallenge(ctx, sessionID, code)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveArtifact(ctx, userID, artifact); err != nil {
		return nil, fmt.Errorf("challenge succeeded but artifact could not be stored: %w", err)
	}

	return artifact, nil
}

// CancelSession abandons a pending challenge session and releases its browser
func (s *Service) CancelSession(sessionID string) {
	s.auth.CancelSession(sessionID)
}

// GetSessionStatus reports on a pending session, or session.ErrNotFound for
// unknown and expired IDs.
func (s *Service) GetSessionStatus(sessionID string) (*SessionStatus, error) {
	pending, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionStatus{
		Active:    true,
		UserID:    pending.UserID,
		CreatedAt: pending.CreatedAt,
		ExpiresAt: pending.ExpiresAt,
	}, nil
}

// EnsureValid reports whether the user's stored artifact is still usable
func (s *Service) EnsureValid(ctx context.Context, userID string) (bool, error) {
	return s.validity.EnsureValid(ctx, userID)
}

// RunBatch processes the items as the user's authenticated session, routing
// each item through the worker pool under the orchestrator's rate limits.
// concurrency overrides the configured group size for this run when above
// zero. The stored artifact is verified up front: a dead session fails the
// batch with ErrReauthRequired before any browser work starts.
func (s *Service) RunBatch(ctx context.Context, userID string, items []models.Task, concurrency int, onProgress batch.ProgressFunc) ([]batch.Result, error) {
	valid, err := s.validity.EnsureValid(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, fmt.Errorf("%w: no usable session for %s", batch.ErrReauthRequired, userID)
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("items", len(items)).
		Msg("Starting authenticated batch run")

	return s.orchestrator.Process(ctx, items, func(itemCtx context.Context, item models.Task) ([]byte, error) {
		if s.submitTimeout > 0 {
			var cancel context.CancelFunc
			itemCtx, cancel = context.WithTimeout(itemCtx, s.submitTimeout)
			defer cancel()
		}
		return s.pool.Submit(itemCtx, item)
	}, concurrency, onProgress)
}
