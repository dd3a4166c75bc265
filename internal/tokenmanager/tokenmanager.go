// Package tokenmanager implements the Token Manager (spec §4.7): an
// OAuth2 client-credentials token cache for the sink stream, with
// single-flight-guarded refresh so concurrent callers never stampede
// the identity provider.
package tokenmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/edgebridge/otgw/internal/credstore"
	"github.com/edgebridge/otgw/internal/errkind"
)

// freshnessSkew is subtracted from expires_at when deciding whether a
// cached token is still usable (spec §4.7: "fresh if now < expires_at - 60s").
const freshnessSkew = 60 * time.Second

// Config configures the workspace identity provider endpoint and the
// target table's authorization_details (spec §4.7, §6).
type Config struct {
	WorkspaceHost string
	ClientID      string
	ClientSecret  string
	Catalog       string
	Schema        string
	Table         string
	Scoped        bool // include authorization_details for the target table
}

// tokenURL returns the primary OIDC token endpoint (spec §6); refresh
// falls back to the alternate path when the primary request fails for
// any reason.
func (c Config) tokenURL() string {
	return fmt.Sprintf("%s/oidc/v1/token", c.WorkspaceHost)
}

func (c Config) fallbackTokenURL() string {
	return fmt.Sprintf("%s/oidc/oauth2/v1/token", c.WorkspaceHost)
}

type cachedToken struct {
	accessToken string
	obtainedAt  time.Time
	expiresAt   time.Time
}

func (t cachedToken) fresh(now time.Time) bool {
	return !t.expiresAt.IsZero() && now.Before(t.expiresAt.Add(-freshnessSkew))
}

// Manager caches a client-credentials token and refreshes it through a
// single-flight lock (spec §4.7 Caching).
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	token cachedToken

	group singleflight.Group
	flow  *clientcredentials.Config
}

// New constructs a Manager. The client secret is resolved by the caller
// (typically via config.ResolveReferences against a credstore.Store)
// before it reaches here.
func New(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	endpointParams := map[string][]string{"scope": {"all-apis"}}
	if cfg.Scoped && cfg.Catalog != "" {
		endpointParams["authorization_details"] = []string{scopedAuthorizationDetails(cfg)}
	}

	m := &Manager{
		cfg:    cfg,
		logger: logger,
		flow: &clientcredentials.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			TokenURL:       cfg.tokenURL(),
			EndpointParams: endpointParams,
		},
	}
	return m
}

// scopedAuthorizationDetails builds the table-scoped grant payload
// (spec §4.7: CATALOG:USE, SCHEMA:USE, TABLE:SELECT+MODIFY).
func scopedAuthorizationDetails(cfg Config) string {
	return fmt.Sprintf(
		`{"catalog":%q,"schema":%q,"table":%q,"privileges":["CATALOG:USE","SCHEMA:USE","TABLE:SELECT","TABLE:MODIFY"]}`,
		cfg.Catalog, cfg.Schema, cfg.Table,
	)
}

// Token returns a bearer token, synchronously for a fresh cache hit, or
// via a single-flight-guarded refresh otherwise (spec §4.7 get_headers()).
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.RLock()
	tok := m.token
	m.mu.RUnlock()

	if tok.fresh(time.Now()) {
		return tok.accessToken, nil
	}

	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Headers returns the authorization header for the current token (spec
// §4.4, §6). The table-name header lives outside this package since it
// is per-session, not per-token. The sink transport does not call
// Headers: it calls Token and builds its own stream metadata.
func (m *Manager) Headers(ctx context.Context) (map[string]string, error) {
	tok, err := m.Token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"authorization": "Bearer " + tok}, nil
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	t, err := m.flow.Token(ctx)
	if err != nil {
		t, err = m.refreshFallback(ctx, err)
		if err != nil {
			return "", err
		}
	}

	expiresAt := time.Now().Add(1 * time.Hour)
	if !t.Expiry.IsZero() {
		expiresAt = t.Expiry
	}

	m.mu.Lock()
	m.token = cachedToken{accessToken: t.AccessToken, obtainedAt: time.Now(), expiresAt: expiresAt}
	m.mu.Unlock()

	m.logger.Info("tokenmanager: refreshed sink token", "preview", credstore.Preview(t.AccessToken))
	return t.AccessToken, nil
}

// refreshFallback retries against the alternate OIDC path (spec §6:
// "fallback /oidc/oauth2/v1/token") before giving up.
func (m *Manager) refreshFallback(ctx context.Context, primaryErr error) (*oauth2.Token, error) {
	fallback := *m.flow
	fallback.TokenURL = m.cfg.fallbackTokenURL()
	t, err := fallback.Token(ctx)
	if err != nil {
		return nil, errkind.Wrap(errkind.SinkAuth, fmt.Sprintf("token refresh failed (primary: %v)", primaryErr), err)
	}
	return t, nil
}

// Preview returns a masked view of the currently cached token, safe to
// log or surface via the admin status surface.
func (m *Manager) Preview() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token.accessToken == "" {
		return ""
	}
	return credstore.Preview(m.token.accessToken)
}
