package httpclient

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/models"
)

func TestNewClientFromArtifact_NilArtifact(t *testing.T) {
	client, err := NewClientFromArtifact(nil, 10*time.Second)
	require.NoError(t, err)
	assert.Nil(t, client.Jar)
	assert.Equal(t, 10*time.Second, client.Timeout)
}

func TestNewClientFromArtifact_CookiesInJar(t *testing.T) {
	artifact := &models.SessionArtifact{
		BaseURL: "https://app.example.com",
		Cookies: []*models.Cookie{
			{Name: "session", Value: "abc", Domain: "app.example.com", Path: "/", Expires: time.Now().Add(time.Hour).Unix()},
			{Name: "pref", Value: "1", Domain: ".example.com", Path: "/"},
		},
	}

	client, err := NewClientFromArtifact(artifact, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, client.Jar)

	u, _ := url.Parse("https://app.example.com/")
	cookies := client.Jar.Cookies(u)

	names := make(map[string]string)
	for _, c := range cookies {
		names[c.Name] = c.Value
	}
	assert.Equal(t, "abc", names["session"])
	assert.Equal(t, "1", names["pref"], "parent-domain cookie should apply to subdomain")
}

func TestNewClientFromArtifact_StaleExpiryBecomesSessionCookie(t *testing.T) {
	artifact := &models.SessionArtifact{
		BaseURL: "https://app.example.com",
		Cookies: []*models.Cookie{
			{Name: "old", Value: "x", Domain: "app.example.com", Path: "/", Expires: time.Now().Add(-48 * time.Hour).Unix()},
		},
	}

	client, err := NewClientFromArtifact(artifact, 10*time.Second)
	require.NoError(t, err)

	u, _ := url.Parse("https://app.example.com/")
	cookies := client.Jar.Cookies(u)
	require.Len(t, cookies, 1, "stale expiry should fall back to a session cookie, not be dropped")
	assert.Equal(t, "old", cookies[0].Name)
}

func TestNewClientFromArtifact_BearerToken(t *testing.T) {
	var gotAuth, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	artifact := &models.SessionArtifact{
		BaseURL:     srv.URL,
		BearerToken: "tok123",
		UserAgent:   "Colligo/1.0",
	}

	client, err := NewClientFromArtifact(artifact, 10*time.Second)
	require.NoError(t, err)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, "Colligo/1.0", gotAgent)
}

func TestNewClientFromArtifact_InvalidBaseURL(t *testing.T) {
	artifact := &models.SessionArtifact{BaseURL: "://bad"}
	_, err := NewClientFromArtifact(artifact, time.Second)
	assert.Error(t, err)
}
