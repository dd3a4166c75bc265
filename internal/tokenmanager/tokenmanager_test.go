package tokenmanager

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenResponse(w http.ResponseWriter, accessToken string, expiresIn int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	})
}

func TestTokenFetchesAndCaches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		tokenResponse(w, "tok-abcdefghijklmnop", 3600)
	}))
	defer srv.Close()

	m := New(Config{WorkspaceHost: srv.URL, ClientID: "id", ClientSecret: "secret"}, nil)

	tok, err := m.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "tok-abcdefghijklmnop", tok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Second call within freshness window must not hit the network again.
	tok2, err := m.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, tok, tok2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTokenRefreshesWhenStale(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		tokenResponse(w, fmt.Sprintf("tok-%d-abcdefgh", n), 1)
	}))
	defer srv.Close()

	m := New(Config{WorkspaceHost: srv.URL, ClientID: "id", ClientSecret: "secret"}, nil)

	_, err := m.Token(t.Context())
	require.NoError(t, err)

	// Force the cached token stale regardless of the 60s skew window.
	m.mu.Lock()
	m.token.expiresAt = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	tok2, err := m.Token(t.Context())
	require.NoError(t, err)
	assert.Contains(t, tok2, "tok-2-")
}

func TestTokenFallsBackToAlternatePath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oidc/v1/token", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	mux.HandleFunc("/oidc/oauth2/v1/token", func(w http.ResponseWriter, r *http.Request) {
		tokenResponse(w, "fallback-tok-abcdefgh", 3600)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := New(Config{WorkspaceHost: srv.URL, ClientID: "id", ClientSecret: "secret"}, nil)

	tok, err := m.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "fallback-tok-abcdefgh", tok)
}

func TestTokenFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := New(Config{WorkspaceHost: srv.URL, ClientID: "id", ClientSecret: "bad"}, nil)

	_, err := m.Token(t.Context())
	assert.Error(t, err)
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		tokenResponse(w, "shared-tok-abcdefgh", 3600)
	}))
	defer srv.Close()

	m := New(Config{WorkspaceHost: srv.URL, ClientID: "id", ClientSecret: "secret"}, nil)

	const n = 10
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			tok, err := m.Token(t.Context())
			require.NoError(t, err)
			results <- tok
		}()
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, "shared-tok-abcdefgh", <-results)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScopedAuthorizationDetailsIncludesTarget(t *testing.T) {
	var gotDetails string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotDetails = r.Form.Get("authorization_details")
		tokenResponse(w, "scoped-tok-abcdefgh", 3600)
	}))
	defer srv.Close()

	m := New(Config{
		WorkspaceHost: srv.URL, ClientID: "id", ClientSecret: "secret",
		Catalog: "main", Schema: "ot", Table: "telemetry", Scoped: true,
	}, nil)

	_, err := m.Token(t.Context())
	require.NoError(t, err)
	assert.Contains(t, gotDetails, "telemetry")
	assert.Contains(t, gotDetails, "TABLE:MODIFY")
}

func TestPreviewMasksToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenResponse(w, "tok-abcdefghijklmnop", 3600)
	}))
	defer srv.Close()

	m := New(Config{WorkspaceHost: srv.URL, ClientID: "id", ClientSecret: "secret"}, nil)
	assert.Equal(t, "", m.Preview())

	_, err := m.Token(t.Context())
	require.NoError(t, err)
	assert.NotEqual(t, "", m.Preview())
	assert.NotContains(t, m.Preview(), "ijklmnop")
}
