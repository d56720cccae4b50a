// Package auth drives a single interactive login attempt through credential
// submission, challenge detection, challenge-response submission and session
// artifact extraction.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/session"
)

var (
	// ErrAuthFailed indicates the target site rejected the credentials or challenge code
	ErrAuthFailed = errors.New("authentication failed")
	// ErrChallengeRequired indicates a challenge response was needed but not provided
	ErrChallengeRequired = errors.New("challenge response required")
)

// State names one step of a login attempt
type State string

const (
	StateInit                 State = "INIT"
	StateCredentialsSubmitted State = "CREDENTIALS_SUBMITTED"
	StateChallengeRequired    State = "CHALLENGE_REQUIRED"
	StateChallengeSubmitted   State = "CHALLENGE_SUBMITTED"
	StateAuthenticated        State = "AUTHENTICATED"
	StateFailed               State = "FAILED"
)

// LoginResult is the outcome of an initiated login attempt. Either the
// attempt finished with an artifact, or a challenge is pending and SessionID
// is the handle for the follow-up SubmitChallenge call.
type LoginResult struct {
	State             State
	RequiresChallenge bool
	SessionID         string
	Artifact          *models.SessionArtifact
}

// Service is the authentication state machine
type Service struct {
	factory  interfaces.BrowserFactory
	sessions *session.Manager
	detector interfaces.ChallengeDetector
	config   common.AuthConfig
	settle   time.Duration
	logger   arbor.ILogger
}

// NewService creates the authentication state machine
func NewService(
	factory interfaces.BrowserFactory,
	sessions *session.Manager,
	detector interfaces.ChallengeDetector,
	config common.AuthConfig,
	settleWait time.Duration,
	logger arbor.ILogger,
) *Service {
	if settleWait <= 0 {
		settleWait = 3 * time.Second
	}
	return &Service{
		factory:  factory,
		sessions: sessions,
		detector: detector,
		config:   config,
		settle:   settleWait,
		logger:   logger,
	}
}

// Login drives a fresh browser through the login form. When the site answers
// with a challenge page the browser is handed to the session manager and the
// returned session ID is the caller's handle for SubmitChallenge; otherwise
// the artifact is extracted and the browser closed before returning.
//
// Callers must not race two Login calls for the same user; the credential
// store upserts by user so the last writer wins, but concurrent attempts
// waste a browser each.
func (s *Service) Login(ctx context.Context, identity, secret string) (*LoginResult, error) {
	browser, err := s.factory.NewBrowser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch login browser: %w", err)
	}

	result, err := s.submitCredentials(ctx, browser, identity, secret)
	if err != nil || !result.RequiresChallenge {
		// Browser ownership stays here unless a challenge session took it
		browser.Close()
	}
	return result, err
}

// submitCredentials runs INIT through CHALLENGE_REQUIRED/AUTHENTICATED
func (s *Service) submitCredentials(ctx context.Context, browser interfaces.Browser, identity, secret string) (*LoginResult, error) {
	s.logger.Info().
		Str("user_id", identity).
		Str("state", string(StateInit)).
		Msg("Starting login attempt")

	if err := browser.Navigate(ctx, s.config.LoginURL); err != nil {
		return &LoginResult{State: StateFailed}, err
	}
	if err := browser.WaitVisible(ctx, s.config.IdentitySelector); err != nil {
		return &LoginResult{State: StateFailed}, fmt.Errorf("login form not found: %w", err)
	}
	if err := browser.SendKeys(ctx, s.config.IdentitySelector, identity); err != nil {
		return &LoginResult{State: StateFailed}, err
	}
	if err := browser.SendKeys(ctx, s.config.SecretSelector, secret); err != nil {
		return &LoginResult{State: StateFailed}, err
	}
	if err := browser.Click(ctx, s.config.SubmitSelector); err != nil {
		return &LoginResult{State: StateFailed}, err
	}

	s.logger.Debug().
		Str("user_id", identity).
		Str("state", string(StateCredentialsSubmitted)).
		Msg("Credentials submitted")

	if err := s.waitSettle(ctx); err != nil {
		return &LoginResult{State: StateFailed}, err
	}

	currentURL, pageText, err := s.inspect(ctx, browser)
	if err != nil {
		return &LoginResult{State: StateFailed}, err
	}

	if s.detector.LooksLikeChallenge(currentURL, pageText) {
		sessionID := s.sessions.Create(browser, identity)
		s.logger.Info().
			Str("user_id", identity).
			Str("session_id", sessionID).
			Str("state", string(StateChallengeRequired)).
			Msg("Challenge detected, awaiting verification code")
		return &LoginResult{
			State:             StateChallengeRequired,
			RequiresChallenge: true,
			SessionID:         sessionID,
		}, nil
	}

	if s.stillOnLoginPage(currentURL) {
		s.logger.Warn().
			Str("user_id", identity).
			Str("state", string(StateFailed)).
			Msg("Login rejected by target site")
		return &LoginResult{State: StateFailed}, fmt.Errorf("%w: credentials rejected", ErrAuthFailed)
	}

	artifact, err := s.extractArtifact(ctx, browser)
	if err != nil {
		return &LoginResult{State: StateFailed}, err
	}

	s.logger.Info().
		Str("user_id", identity).
		Str("state", string(StateAuthenticated)).
		Int("cookie_count", len(artifact.Cookies)).
		Msg("Login authenticated without challenge")

	return &LoginResult{State: StateAuthenticated, Artifact: artifact}, nil
}

// SubmitChallenge submits the verification code for a pending session. The
// session is closed on every path, success or failure - a second call for
// the same ID fails with session.ErrNotFound since the browser state is not
// recoverable.
func (s *Service) SubmitChallenge(ctx context.Context, sessionID, code string) (*models.SessionArtifact, error) {
	pending, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.sessions.Close(sessionID)

	browser := pending.Browser

	s.logger.Info().
		Str("session_id", sessionID).
		Str("user_id", pending.UserID).
		Str("state", string(StateChallengeSubmitted)).
		Msg("Submitting challenge response")

	if err := browser.WaitVisible(ctx, s.config.ChallengeSelector); err != nil {
		return nil, fmt.Errorf("challenge form not found: %w", err)
	}
	if err := browser.SendKeys(ctx, s.config.ChallengeSelector, code); err != nil {
		return nil, err
	}
	if err := browser.Click(ctx, s.config.ChallengeSubmit); err != nil {
		return nil, err
	}
	if err := s.waitSettle(ctx); err != nil {
		return nil, err
	}

	currentURL, pageText, err := s.inspect(ctx, browser)
	if err != nil {
		return nil, err
	}

	// Still on a challenge surface means the code was rejected
	if s.detector.LooksLikeChallenge(currentURL, pageText) || s.stillOnLoginPage(currentURL) {
		s.logger.Warn().
			Str("session_id", sessionID).
			Str("user_id", pending.UserID).
			Msg("Challenge code rejected")
		return nil, fmt.Errorf("%w: challenge code rejected", ErrAuthFailed)
	}

	artifact, err := s.extractArtifact(ctx, browser)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("user_id", pending.UserID).
		Str("state", string(StateAuthenticated)).
		Int("cookie_count", len(artifact.Cookies)).
		Msg("Challenge accepted, session artifact extracted")

	return artifact, nil
}

// CancelSession closes a pending session when the user abandons the flow
func (s *Service) CancelSession(sessionID string) {
	s.sessions.Close(sessionID)
}

// waitSettle gives the page a bounded period to finish navigating after a
// form submission
func (s *Service) waitSettle(ctx context.Context) error {
	timer := time.NewTimer(s.settle)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// inspect reads the post-submission URL and visible text
func (s *Service) inspect(ctx context.Context, browser interfaces.Browser) (string, string, error) {
	currentURL, err := browser.CurrentURL(ctx)
	if err != nil {
		return "", "", err
	}
	pageText, err := browser.PageText(ctx)
	if err != nil {
		return "", "", err
	}
	return currentURL, pageText, nil
}

// OnLoginSurface reports whether the URL is the configured login page.
// Extraction uses this to recognize a dead session bouncing back to login.
func (s *Service) OnLoginSurface(currentURL string) bool {
	return s.stillOnLoginPage(currentURL)
}

// stillOnLoginPage reports whether the browser never left the login surface
func (s *Service) stillOnLoginPage(currentURL string) bool {
	loginURL, err := url.Parse(s.config.LoginURL)
	if err != nil {
		return false
	}
	current, err := url.Parse(currentURL)
	if err != nil {
		return false
	}
	return current.Host == loginURL.Host &&
		strings.TrimSuffix(current.Path, "/") == strings.TrimSuffix(loginURL.Path, "/")
}
