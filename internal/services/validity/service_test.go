package validity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func testArtifact(baseURL string) *models.SessionArtifact {
	return &models.SessionArtifact{
		Cookies: []*models.Cookie{
			{Name: "sid", Value: "abc123", Path: "/"},
		},
		BaseURL:     baseURL,
		ExtractedAt: time.Now().Unix(),
	}
}

func TestIsValid_FreshnessShortCircuit(t *testing.T) {
	var probeCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probeCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(nil, common.ValidityConfig{
		FreshnessWindow: common.Duration(5 * time.Minute),
		Probes:          []common.ProbeConfig{{Path: "/api/me", Required: true}},
	}, arbor.NewLogger())

	verdict := svc.IsValid(context.Background(), testArtifact(server.URL), time.Now())
	assert.True(t, verdict.Valid)
	assert.Equal(t, int32(0), probeCalls.Load(), "fresh artifact must not trigger probes")
}

func TestIsValid_NilArtifact(t *testing.T) {
	svc := NewService(nil, common.ValidityConfig{}, arbor.NewLogger())

	verdict := svc.IsValid(context.Background(), nil, time.Now())
	assert.False(t, verdict.Valid)
}

func TestIsValid_ExpiredCookie(t *testing.T) {
	svc := NewService(nil, common.ValidityConfig{FreshnessWindow: common.Duration(time.Minute)}, arbor.NewLogger())

	artifact := testArtifact("https://example.com")
	artifact.Cookies[0].Expires = time.Now().Add(-time.Hour).Unix()

	verdict := svc.IsValid(context.Background(), artifact, time.Now().Add(-time.Hour))
	assert.False(t, verdict.Valid)
	assert.Contains(t, verdict.Reason, "expired")
}

func TestIsValid_StaleWithoutProbes(t *testing.T) {
	svc := NewService(nil, common.ValidityConfig{FreshnessWindow: common.Duration(time.Minute)}, arbor.NewLogger())

	verdict := svc.IsValid(context.Background(), testArtifact("https://example.com"), time.Now().Add(-time.Hour))
	assert.True(t, verdict.Valid, "stale artifact with no probes configured is not provably dead")
}

func TestIsValid_ProbesPass(t *testing.T) {
	var probeCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probeCalls.Add(1)
		if r.URL.Path == "/api/me" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	svc := NewService(nil, common.ValidityConfig{
		FreshnessWindow: common.Duration(time.Minute),
		Probes: []common.ProbeConfig{
			{Path: "/api/me", Required: true},
			{Path: "/api/admin", ExpectStatuses: []int{403}, Required: true},
		},
	}, arbor.NewLogger())

	verdict := svc.IsValid(context.Background(), testArtifact(server.URL), time.Now().Add(-time.Hour))
	assert.True(t, verdict.Valid)
	assert.Equal(t, int32(2), probeCalls.Load())
}

func TestIsValid_RequiredProbeUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := NewService(nil, common.ValidityConfig{
		FreshnessWindow: common.Duration(time.Minute),
		Probes:          []common.ProbeConfig{{Path: "/api/me", Required: true}},
	}, arbor.NewLogger())

	verdict := svc.IsValid(context.Background(), testArtifact(server.URL), time.Now().Add(-time.Hour))
	assert.False(t, verdict.Valid)
	assert.Contains(t, verdict.Reason, "unexpected status 500")
}

func TestIsValid_OptionalProbeFailureTolerated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/flaky" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(nil, common.ValidityConfig{
		FreshnessWindow: common.Duration(time.Minute),
		Probes: []common.ProbeConfig{
			{Path: "/api/flaky"},
			{Path: "/api/me", Required: true},
		},
	}, arbor.NewLogger())

	verdict := svc.IsValid(context.Background(), testArtifact(server.URL), time.Now().Add(-time.Hour))
	assert.True(t, verdict.Valid)
}

func TestIsValid_RedirectToLoginSurface(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	defer server.Close()

	svc := NewService(nil, common.ValidityConfig{
		FreshnessWindow: common.Duration(time.Minute),
		Probes:          []common.ProbeConfig{{Path: "/api/me", Required: true}},
	}, arbor.NewLogger())

	verdict := svc.IsValid(context.Background(), testArtifact(server.URL), time.Now().Add(-time.Hour))
	assert.False(t, verdict.Valid)
	assert.Contains(t, verdict.Reason, "login surface")
}

func TestIsValid_NetworkErrorInvalidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close() // probe target gone

	svc := NewService(nil, common.ValidityConfig{
		FreshnessWindow: common.Duration(time.Minute),
		ProbeTimeout:    common.Duration(2 * time.Second),
		Probes:          []common.ProbeConfig{{Path: "/api/me", Required: true}},
	}, arbor.NewLogger())

	verdict := svc.IsValid(context.Background(), testArtifact(baseURL), time.Now().Add(-time.Hour))
	assert.False(t, verdict.Valid)
}

// memoryStore is an in-memory CredentialStore for EnsureValid tests
type memoryStore struct {
	artifacts map[string]*models.SessionArtifact
	extracted map[string]time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		artifacts: make(map[string]*models.SessionArtifact),
		extracted: make(map[string]time.Time),
	}
}

func (s *memoryStore) SaveArtifact(ctx context.Context, userID string, artifact *models.SessionArtifact) error {
	s.artifacts[userID] = artifact
	s.extracted[userID] = time.Now()
	return nil
}

func (s *memoryStore) LoadArtifact(ctx context.Context, userID string) (*models.SessionArtifact, time.Time, error) {
	return s.artifacts[userID], s.extracted[userID], nil
}

func (s *memoryStore) DeleteArtifact(ctx context.Context, userID string) error {
	delete(s.artifacts, userID)
	delete(s.extracted, userID)
	return nil
}

func (s *memoryStore) ListUserIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.artifacts))
	for id := range s.artifacts {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestEnsureValid_MissingArtifact(t *testing.T) {
	svc := NewService(newMemoryStore(), common.ValidityConfig{}, arbor.NewLogger())

	valid, err := svc.EnsureValid(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestEnsureValid_FreshStoredArtifact(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, store.SaveArtifact(context.Background(), "alice", testArtifact("https://example.com")))

	svc := NewService(store, common.ValidityConfig{FreshnessWindow: common.Duration(5 * time.Minute)}, arbor.NewLogger())

	valid, err := svc.EnsureValid(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, valid)
}
