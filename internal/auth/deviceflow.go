package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crewctl/crewctl/internal/debug"
	"github.com/crewctl/crewctl/internal/store"
)

const deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// Login describes a started device authorization the user must complete in
// a browser.
type Login struct {
	DeviceCode      string
	UserCode        string
	VerificationURL string
	ExpiresIn       int64 // seconds until the device code stops working
}

type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
}

// StartLogin requests a device code from the authorization server.
func (m *Manager) StartLogin(ctx context.Context) (*Login, error) {
	values := url.Values{}
	values.Set("client_id", m.endpoints.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.DeviceCodeURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create device code request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("request device code: status %d", resp.StatusCode)
	}

	var payload deviceCodeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxOAuthResponseBytes)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode device code response: %w", err)
	}

	verificationURL := payload.VerificationURI
	if payload.VerificationURIComplete != "" {
		verificationURL = payload.VerificationURIComplete
	}
	if payload.DeviceCode == "" || payload.UserCode == "" || verificationURL == "" {
		return nil, fmt.Errorf("device code response missing required fields")
	}
	expiresIn := payload.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 300
	}

	return &Login{
		DeviceCode:      payload.DeviceCode,
		UserCode:        payload.UserCode,
		VerificationURL: verificationURL,
		ExpiresIn:       expiresIn,
	}, nil
}

// CompleteLogin polls the token endpoint until the user approves the device
// code, the server reports it expired or denied, or expiresIn elapses. On
// success the resulting token pair becomes the active credential and is
// persisted. Transient network errors are retried on the next poll.
func (m *Manager) CompleteLogin(ctx context.Context, deviceCode string, expiresIn int64) error {
	if strings.TrimSpace(deviceCode) == "" {
		return fmt.Errorf("device code is required")
	}

	values := url.Values{}
	values.Set("grant_type", deviceCodeGrantType)
	values.Set("client_id", m.endpoints.ClientID)
	values.Set("device_code", deviceCode)

	deadline := m.now().Add(time.Duration(expiresIn) * time.Second)
	polls := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.now().After(deadline) {
			return ErrDeviceAuthExpired
		}

		polls++
		pair, code, err := m.postTokenForm(ctx, values)
		switch {
		case pair != nil:
			debug.LogKV("auth", "device login complete", "polls", polls)
			return m.adoptTokenPair(pair)

		case code == "authorization_pending" || code == "slow_down":
			// Keep polling.

		case code == "expired_token" || code == "access_denied" || code == "invalid_grant":
			return fmt.Errorf("%w: %v", ErrDeviceAuthExpired, err)

		case code != "":
			return fmt.Errorf("device login: %w", err)

		default:
			// Transport-level failure: retry on the next interval rather
			// than failing the whole login on one flaky request.
			debug.LogKV("auth", "device poll transient error", "err", err)
		}

		timer := time.NewTimer(m.pollInterval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// adoptTokenPair installs a fresh token pair as the active credential.
func (m *Manager) adoptTokenPair(pair *tokenPair) error {
	m.mu.Lock()
	m.cfg = store.AuthConfig{
		Method:       MethodOAuth,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(pair.ExpiresIn) * time.Second),
	}
	cfg := m.cfg
	m.mu.Unlock()
	return m.store.SaveAuthConfig(&cfg)
}
