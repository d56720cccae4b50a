// Package session tracks in-flight interactive login sessions awaiting a
// challenge response. Each session exclusively owns a live browser handle;
// the session ID is the only external handle to that resource.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// ErrNotFound is returned for unknown or expired session IDs
var ErrNotFound = errors.New("session not found")

// Session is one pending login attempt bound to a live browser
type Session struct {
	ID        string
	UserID    string
	Browser   interfaces.Browser
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Manager owns all pending auth sessions. Sessions expire after a fixed TTL;
// a periodic sweep closes expired sessions nobody came back for, and Get
// applies lazy expiry so staleness is never observable to callers.
type Manager struct {
	sessions map[string]*Session
	ttl      time.Duration
	mu       sync.Mutex
	logger   arbor.ILogger

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepOnce     sync.Once
	shutdownOnce  sync.Once
}

// NewManager creates a session manager. Call Start to begin the sweep.
func NewManager(ttl, sweepInterval time.Duration, logger arbor.ILogger) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if sweepInterval <= 0 || sweepInterval > ttl {
		sweepInterval = ttl
	}

	return &Manager{
		sessions:      make(map[string]*Session),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
		logger:        logger,
	}
}

// Start launches the background expiry sweep
func (m *Manager) Start() {
	m.sweepOnce.Do(func() {
		go m.sweepLoop()
	})
}

// Create registers a new session owning the browser and returns its ID
func (m *Manager) Create(browser interfaces.Browser, userID string) string {
	now := time.Now()
	session := &Session{
		ID:        common.NewSessionID(),
		UserID:    userID,
		Browser:   browser,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	active := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info().
		Str("session_id", session.ID).
		Str("user_id", userID).
		Int("active_sessions", active).
		Msg("Auth session created")

	return session.ID
}

// Get returns the session for the ID. An expired-but-not-yet-swept session
// is closed here and reported as not found (lazy expiry).
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok && time.Now().After(session.ExpiresAt) {
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		m.release(session, "expired")
		return nil, ErrNotFound
	}
	m.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	return session, nil
}

// Close removes the session and releases its browser. Idempotent; a release
// failure is logged, never returned.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if ok {
		m.release(session, "closed")
	}
}

// ActiveCount returns the number of live sessions
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session and halts the sweep. Process teardown only.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.stopSweep)
	})

	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		remaining = append(remaining, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range remaining {
		m.release(s, "shutdown")
	}

	if len(remaining) > 0 {
		m.logger.Info().
			Int("closed_sessions", len(remaining)).
			Msg("Session manager shut down")
	}
}

// release closes the session's browser outside the manager lock
func (m *Manager) release(session *Session, reason string) {
	if session.Browser != nil {
		if err := session.Browser.Close(); err != nil {
			m.logger.Warn().
				Err(err).
				Str("session_id", session.ID).
				Str("reason", reason).
				Msg("Failed to release session browser")
			return
		}
	}
	m.logger.Debug().
		Str("session_id", session.ID).
		Str("reason", reason).
		Msg("Auth session released")
}

// sweepLoop periodically closes expired sessions nobody came back for
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()
	var expired []*Session
	for id, session := range m.sessions {
		if now.After(session.ExpiresAt) {
			expired = append(expired, session)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, session := range expired {
		m.release(session, "expired")
	}

	if len(expired) > 0 {
		m.logger.Info().
			Int("expired_sessions", len(expired)).
			Msg("Swept expired auth sessions")
	}
}
