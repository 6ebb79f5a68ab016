// Package auth resolves a valid credential for invoking the external agent
// binary, refreshing OAuth tokens as needed. Credential state is process
// wide: loaded from the durable store at startup, cleared on logout, and
// only ever read through the Token accessor.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/crewctl/crewctl/internal/debug"
	"github.com/crewctl/crewctl/internal/store"
)

// refreshWindow is how close to expiry a token may get before the accessor
// refreshes it.
const refreshWindow = 5 * time.Minute

const maxOAuthResponseBytes = 1 << 20

// Credential methods stored in the auth config.
const (
	MethodAPIKey   = "api-key"
	MethodOAuth    = "oauth"
	MethodExternal = "external"
)

// Endpoints configures the OAuth endpoints the manager talks to.
type Endpoints struct {
	DeviceCodeURL string
	TokenURL      string
	ClientID      string
}

// Summary is the user-visible description of the active credential.
type Summary struct {
	Method    string
	Detail    string
	ExpiresAt time.Time
}

// Manager owns the process-wide credential state.
type Manager struct {
	mu    sync.Mutex
	cfg   store.AuthConfig
	store *store.Store

	endpoints Endpoints
	client    *http.Client

	// inflight collapses concurrent refresh attempts into one. Non-nil
	// while a refresh is running; waiters block on it and then re-read cfg.
	inflight   chan struct{}
	refreshErr error

	// pollInterval overrides the device-flow poll spacing; tests shorten it.
	pollInterval time.Duration

	// fallbackProbe locates a platform-native credential when nothing is
	// configured. Replaceable in tests.
	fallbackProbe func() (string, bool)

	now func() time.Time
}

// NewManager loads persisted credential state and returns a ready manager.
func NewManager(s *store.Store, ep Endpoints) (*Manager, error) {
	cfg, err := s.LoadAuthConfig()
	if err != nil {
		return nil, fmt.Errorf("loading auth config: %w", err)
	}
	return &Manager{
		cfg:           *cfg,
		store:         s,
		endpoints:     ep,
		client:        &http.Client{Timeout: 30 * time.Second},
		pollInterval:  5 * time.Second,
		fallbackProbe: probeNativeCredential,
		now:           time.Now,
	}, nil
}

// Token returns a credential value valid for at least the refresh window,
// refreshing first when needed. Concurrent callers during a refresh all
// await the same outcome.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()

	switch m.cfg.Method {
	case MethodAPIKey:
		key := m.cfg.APIKey
		m.mu.Unlock()
		return key, nil

	case MethodExternal:
		tok := m.cfg.AccessToken
		m.mu.Unlock()
		return tok, nil

	case MethodOAuth:
		if m.now().Before(m.cfg.ExpiresAt.Add(-refreshWindow)) {
			tok := m.cfg.AccessToken
			m.mu.Unlock()
			return tok, nil
		}
		return m.refreshLocked(ctx)

	default:
		m.mu.Unlock()
		if value, ok := m.fallbackProbe(); ok {
			debug.Log("auth", "using platform-native fallback credential")
			return value, nil
		}
		return "", ErrAuthNotConfigured
	}
}

// refreshLocked is entered holding m.mu and returns with it released.
// The first caller performs the exchange; everyone else waits for it.
func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	if m.inflight != nil {
		wait := m.inflight
		m.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		m.mu.Lock()
		tok, err := m.cfg.AccessToken, m.refreshErr
		m.mu.Unlock()
		if err != nil {
			return "", err
		}
		return tok, nil
	}

	done := make(chan struct{})
	m.inflight = done
	refreshToken := m.cfg.RefreshToken
	m.mu.Unlock()

	pair, err := m.exchangeRefreshToken(ctx, refreshToken)

	m.mu.Lock()
	m.inflight = nil
	if err != nil {
		m.refreshErr = fmt.Errorf("%w: %v", ErrAuthExpired, err)
		err = m.refreshErr
		close(done)
		m.mu.Unlock()
		return "", err
	}
	m.refreshErr = nil
	m.cfg.AccessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		m.cfg.RefreshToken = pair.RefreshToken
	}
	m.cfg.ExpiresAt = m.now().Add(time.Duration(pair.ExpiresIn) * time.Second)
	cfg := m.cfg
	tok := m.cfg.AccessToken
	close(done)
	m.mu.Unlock()

	if err := m.store.SaveAuthConfig(&cfg); err != nil {
		debug.LogKV("auth", "persisting refreshed token failed", "err", err)
	}
	return tok, nil
}

// tokenPair is the token endpoint response shape.
type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (m *Manager) exchangeRefreshToken(ctx context.Context, refreshToken string) (*tokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("no refresh token stored")
	}

	values := url.Values{}
	values.Set("grant_type", "refresh_token")
	values.Set("client_id", m.endpoints.ClientID)
	values.Set("refresh_token", refreshToken)

	pair, _, err := m.postTokenForm(ctx, values)
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// postTokenForm POSTs a form to the token endpoint. On a non-2xx response
// it returns the decoded OAuth error code alongside the error.
func (m *Manager) postTokenForm(ctx context.Context, values url.Values) (*tokenPair, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.TokenURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body := io.LimitReader(resp.Body, maxOAuthResponseBytes)
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		var pair tokenPair
		if err := json.NewDecoder(body).Decode(&pair); err != nil {
			return nil, "", fmt.Errorf("decode token response: %w", err)
		}
		if pair.AccessToken == "" {
			return nil, "", fmt.Errorf("token response missing access token")
		}
		return &pair, "", nil
	}

	var oe oauthError
	if err := json.NewDecoder(body).Decode(&oe); err != nil || oe.Code == "" {
		return nil, "", fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}
	if oe.Description != "" {
		return nil, oe.Code, fmt.Errorf("%s: %s", oe.Code, oe.Description)
	}
	return nil, oe.Code, fmt.Errorf("%s", oe.Code)
}

// SetAPIKey switches to static API-key auth and persists it.
func (m *Manager) SetAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("api key is empty")
	}
	m.mu.Lock()
	m.cfg = store.AuthConfig{Method: MethodAPIKey, APIKey: key}
	cfg := m.cfg
	m.mu.Unlock()
	return m.store.SaveAuthConfig(&cfg)
}

// Logout clears credential state in memory and on disk, returning the user
// to an unauthenticated state.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.cfg = store.AuthConfig{}
	m.refreshErr = nil
	m.mu.Unlock()
	return m.store.SaveAuthConfig(&store.AuthConfig{})
}

// Summary describes the active credential for display. It never exposes
// secret material.
func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.cfg.Method {
	case MethodAPIKey:
		return Summary{Method: MethodAPIKey, Detail: redactKey(m.cfg.APIKey)}
	case MethodOAuth:
		return Summary{Method: MethodOAuth, Detail: "oauth token pair", ExpiresAt: m.cfg.ExpiresAt}
	case MethodExternal:
		return Summary{Method: MethodExternal, Detail: "externally-issued token"}
	default:
		if _, ok := m.fallbackProbe(); ok {
			return Summary{Method: MethodExternal, Detail: "platform-native fallback"}
		}
		return Summary{Detail: "not authenticated"}
	}
}

func redactKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "…" + key[len(key)-4:]
}
