package recaptcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"biosite/internal/metrics"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	metrics.Init()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	if cfg.Secret == "" {
		cfg.Secret = "test-secret"
	}
	cfg.VerifyURL = srv.URL
	return New(cfg, zap.NewNop())
}

func respond(t *testing.T, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "test-secret", r.PostForm.Get("secret"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestVerifyPasses(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, respond(t, `{"success":true,"score":0.9,"action":"contact_submit"}`), Config{})
	require.True(t, c.Verify(context.Background(), "token", "contact_submit"))
}

func TestVerifyEmptyTokenSkipsNetwork(t *testing.T) {
	t.Parallel()

	called := false
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) { called = true }, Config{})
	require.False(t, c.Verify(context.Background(), "", "contact_submit"))
	require.False(t, called, "empty token must fail closed without a network call")
}

func TestVerifyMissingSecretSkipsNetwork(t *testing.T) {
	t.Parallel()

	metrics.Init()
	c := New(Config{VerifyURL: "http://127.0.0.1:1"}, zap.NewNop())
	require.False(t, c.Verify(context.Background(), "token", "contact_submit"))
}

func TestVerifyTransportError(t *testing.T) {
	t.Parallel()

	metrics.Init()
	// Nothing listens here; the request errors immediately.
	c := New(Config{Secret: "test-secret", VerifyURL: "http://127.0.0.1:1"}, zap.NewNop())
	require.False(t, c.Verify(context.Background(), "token", "contact_submit"))
}

func TestVerifyNonOKStatus(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, Config{})
	require.False(t, c.Verify(context.Background(), "token", "contact_submit"))
}

func TestVerifyMalformedPayload(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}, Config{})
	require.False(t, c.Verify(context.Background(), "token", "contact_submit"))
}

func TestVerifyUnsuccessful(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, respond(t, `{"success":false,"error-codes":["invalid-input-response"]}`), Config{})
	require.False(t, c.Verify(context.Background(), "token", "contact_submit"))
}

func TestVerifyMissingScoreFailsClosed(t *testing.T) {
	t.Parallel()

	// success=true without a score signals a non-v3 key.
	c := newTestClient(t, respond(t, `{"success":true,"action":"contact_submit"}`), Config{})
	require.False(t, c.Verify(context.Background(), "token", "contact_submit"))
}

func TestVerifyActionMismatch(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, respond(t, `{"success":true,"score":0.9,"action":"login"}`), Config{})
	require.False(t, c.Verify(context.Background(), "token", "contact_submit"))
}

func TestVerifyAbsentActionIsAccepted(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, respond(t, `{"success":true,"score":0.9}`), Config{})
	require.True(t, c.Verify(context.Background(), "token", "contact_submit"))
}

func TestVerifyLowScoreDespiteSuccess(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, respond(t, `{"success":true,"score":0.3,"action":"contact_submit"}`), Config{})
	require.False(t, c.Verify(context.Background(), "token", "contact_submit"))
}

func TestVerifyScoreAtThresholdPasses(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, respond(t, `{"success":true,"score":0.5,"action":"contact_submit"}`), Config{MinScore: 0.5})
	require.True(t, c.Verify(context.Background(), "token", "contact_submit"))
}

func TestVerifyZeroScoreIsStillPresent(t *testing.T) {
	t.Parallel()

	// score:0 must be treated as present-but-too-low, not missing.
	c := newTestClient(t, respond(t, `{"success":true,"score":0,"action":"contact_submit"}`), Config{})
	require.False(t, c.Verify(context.Background(), "token", "contact_submit"))
}
