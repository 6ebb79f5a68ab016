package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "crewctl-test", r.Form.Get("client_id"))
		w.Write([]byte(`{"device_code":"dev-1","user_code":"ABCD-1234","verification_uri":"https://verify.example","expires_in":600}`))
	}))
	defer srv.Close()

	m := newTestManager(t, "")
	m.endpoints.DeviceCodeURL = srv.URL

	login, err := m.StartLogin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dev-1", login.DeviceCode)
	assert.Equal(t, "ABCD-1234", login.UserCode)
	assert.Equal(t, "https://verify.example", login.VerificationURL)
	assert.EqualValues(t, 600, login.ExpiresIn)
}

// The fixture reports "pending" for the first 2 polls and returns a token
// pair on the 3rd; CompleteLogin succeeds after exactly 3 poll attempts.
func TestCompleteLoginPolling(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dev-1", r.Form.Get("device_code"))
		if n < 3 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"authorization_pending"}`))
			return
		}
		w.Write([]byte(`{"access_token":"at-dev","refresh_token":"rt-dev","expires_in":3600}`))
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.pollInterval = 10 * time.Millisecond

	require.NoError(t, m.CompleteLogin(context.Background(), "dev-1", 30))
	assert.EqualValues(t, 3, polls.Load())

	// Token pair became the active credential and was persisted.
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-dev", tok)
	cfg, err := m.store.LoadAuthConfig()
	require.NoError(t, err)
	assert.Equal(t, MethodOAuth, cfg.Method)
	assert.Equal(t, "rt-dev", cfg.RefreshToken)
}

func TestCompleteLoginExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"expired_token"}`))
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.pollInterval = 10 * time.Millisecond

	err := m.CompleteLogin(context.Background(), "dev-1", 30)
	assert.ErrorIs(t, err, ErrDeviceAuthExpired)
}

func TestCompleteLoginDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"authorization_pending"}`))
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.pollInterval = 5 * time.Millisecond

	err := m.CompleteLogin(context.Background(), "dev-1", 0)
	assert.ErrorIs(t, err, ErrDeviceAuthExpired)
}

// A flaky network request is retried on the next poll instead of failing
// the login.
func TestCompleteLoginTransientErrorRetries(t *testing.T) {
	var polls atomic.Int64
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		if n == 1 {
			// Drop the connection mid-response.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600}`))
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.pollInterval = 10 * time.Millisecond

	require.NoError(t, m.CompleteLogin(context.Background(), "dev-1", 30))
	assert.EqualValues(t, 2, polls.Load())
}

func TestCompleteLoginCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"authorization_pending"}`))
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.pollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := m.CompleteLogin(ctx, "dev-1", 300)
	assert.ErrorIs(t, err, context.Canceled)
}
