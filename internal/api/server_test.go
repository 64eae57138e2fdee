package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"biosite/internal/clock/system"
	"biosite/internal/config"
	"biosite/internal/contact"
	"biosite/internal/ratelimit"
	"biosite/internal/storage/postgres"
)

type fakeVerifier struct {
	result bool
	calls  int
}

func (f *fakeVerifier) Verify(_ context.Context, _, _ string) bool {
	f.calls++
	return f.result
}

type fakeSink struct {
	records []contact.Record
	err     error
}

func (f *fakeSink) Save(_ context.Context, record contact.Record) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.records = append(f.records, record)
	return int64(len(f.records)), nil
}

type fakeLister struct {
	contacts []postgres.StoredContact
	err      error
}

func (f *fakeLister) List(_ context.Context) ([]postgres.StoredContact, error) {
	return f.contacts, f.err
}

type serverOptions struct {
	recaptchaEnabled bool
	verifier         *fakeVerifier
	sink             *fakeSink
	lister           ContactLister
	auth             config.AuthConfig
}

func newTestServer(t *testing.T, opts serverOptions) (*Server, *fakeSink) {
	t.Helper()

	if opts.sink == nil {
		opts.sink = &fakeSink{}
	}
	if opts.verifier == nil {
		opts.verifier = &fakeVerifier{result: true}
	}

	cfg := config.Config{
		Server:   config.ServerConfig{Port: 8080, TimeoutSeconds: 5},
		Site:     config.SiteConfig{Name: "Jane Doe", Title: "Software Engineer"},
		Security: config.SecurityConfig{ExcludedPrefixes: []string{"/api/", "/v1/", "/healthz", "/readyz", "/metrics"}},
		Auth:     opts.auth,
	}

	clk := system.New()
	limiter := ratelimit.New(
		ratelimit.Config{Window: time.Hour, MaxRequests: 5},
		ratelimit.NewMemoryStore(),
		clk,
	)
	svc := contact.NewService(
		contact.Config{RecaptchaEnabled: opts.recaptchaEnabled, ExpectedAction: "contact_submit"},
		limiter,
		opts.verifier,
		opts.sink,
		clk,
		zap.NewNop(),
	)

	return NewServer(svc, opts.lister, cfg, zap.NewNop()), opts.sink
}

func postContact(t *testing.T, srv *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitContactSuccess(t *testing.T) {
	t.Parallel()

	srv, sink := newTestServer(t, serverOptions{})

	rec := postContact(t, srv, `{"name":"  Jane  ","email":"Jane@Example.COM"}`, map[string]string{
		"X-Forwarded-For": "203.0.113.9, 10.0.0.1",
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		ID      int64  `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "Contact submission received", resp.Message)
	require.Equal(t, int64(1), resp.ID)

	require.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	require.Len(t, sink.records, 1)
	require.Equal(t, "Jane", sink.records[0].Name)
	require.Equal(t, "jane@example.com", sink.records[0].Email)
	require.Equal(t, "203.0.113.9", sink.records[0].IPAddress)
}

func TestSubmitContactValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		msg  string
	}{
		{"missing name", `{"email":"a@b.co"}`, "Name is required"},
		{"missing email", `{"name":"Jane"}`, "Email is required"},
		{"bad email", `{"name":"Jane","email":"not-an-email"}`, "Invalid email format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv, sink := newTestServer(t, serverOptions{})
			rec := postContact(t, srv, tc.body, nil)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.msg)
			require.Empty(t, sink.records)
		})
	}
}

func TestSubmitContactRateLimited(t *testing.T) {
	t.Parallel()

	srv, sink := newTestServer(t, serverOptions{})
	headers := map[string]string{"X-Real-IP": "198.51.100.7"}

	for i := 0; i < 5; i++ {
		rec := postContact(t, srv, fmt.Sprintf(`{"name":"Jane","email":"jane+%d@example.com"}`, i), headers)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := postContact(t, srv, `{"name":"Jane","email":"jane@example.com"}`, headers)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	require.Contains(t, rec.Body.String(), "Too many submissions")
	require.Len(t, sink.records, 5, "rejected submissions must not reach the sink")
}

func TestSubmitContactRecaptcha(t *testing.T) {
	t.Parallel()

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()

		v := &fakeVerifier{result: true}
		srv, sink := newTestServer(t, serverOptions{recaptchaEnabled: true, verifier: v})

		rec := postContact(t, srv, `{"name":"Jane","email":"jane@example.com"}`, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "reCAPTCHA verification required")
		require.Zero(t, v.calls)
		require.Empty(t, sink.records)
	})

	t.Run("failed verification", func(t *testing.T) {
		t.Parallel()

		v := &fakeVerifier{result: false}
		srv, sink := newTestServer(t, serverOptions{recaptchaEnabled: true, verifier: v})

		rec := postContact(t, srv, `{"name":"Jane","email":"jane@example.com","recaptchaToken":"tok"}`, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "reCAPTCHA verification failed")
		require.Equal(t, 1, v.calls)
		require.Empty(t, sink.records)
	})

	t.Run("disabled skips verifier", func(t *testing.T) {
		t.Parallel()

		v := &fakeVerifier{result: false}
		srv, _ := newTestServer(t, serverOptions{recaptchaEnabled: false, verifier: v})

		rec := postContact(t, srv, `{"name":"Jane","email":"jane@example.com"}`, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Zero(t, v.calls)
	})
}

func TestSubmitContactMalformedBody(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, serverOptions{})
	rec := postContact(t, srv, `{"name":`, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "Internal server error")
}

func TestSubmitContactDeliveryFailure(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{err: fmt.Errorf("connection refused")}
	srv, _ := newTestServer(t, serverOptions{sink: sink})

	rec := postContact(t, srv, `{"name":"Jane","email":"jane@example.com"}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "Internal server error")
	require.NotContains(t, rec.Body.String(), "connection refused")
}

func TestContactGetMethodNotAllowed(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, serverOptions{})
	req := httptest.NewRequest(http.MethodGet, "/api/contact", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Contains(t, rec.Body.String(), "Method not allowed")
}

func TestPageCarriesNonce(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, serverOptions{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	csp := rec.Header().Get("Content-Security-Policy")
	require.Contains(t, csp, "'nonce-")
	require.Equal(t, "max-age=63072000; includeSubDomains; preload", rec.Header().Get("Strict-Transport-Security"))

	// The nonce in the rendered markup must match the one in the policy.
	start := strings.Index(csp, "'nonce-") + len("'nonce-")
	nonce := csp[start : start+strings.Index(csp[start:], "'")]
	require.Contains(t, rec.Body.String(), `nonce="`+nonce+`"`)
	require.Contains(t, rec.Body.String(), "Jane Doe")
}

func TestAPIRoutesSkipSecurityHeaders(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, serverOptions{})
	rec := postContact(t, srv, `{"name":"Jane","email":"jane@example.com"}`, nil)

	require.Empty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestListContacts(t *testing.T) {
	t.Parallel()

	auth := config.AuthConfig{Enabled: true, APIKey: "secret"}
	lister := &fakeLister{contacts: []postgres.StoredContact{
		{ID: 7, Name: "Jane", Email: "jane@example.com", CreatedAt: time.Unix(1700000000, 0).UTC()},
	}}

	t.Run("requires api key", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, serverOptions{lister: lister, auth: auth})
		req := httptest.NewRequest(http.MethodGet, "/v1/contacts", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("returns rows", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, serverOptions{lister: lister, auth: auth})
		req := httptest.NewRequest(http.MethodGet, "/v1/contacts", nil)
		req.Header.Set("X-API-Key", "secret")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Contacts []postgres.StoredContact `json:"contacts"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Contacts, 1)
		require.Equal(t, int64(7), resp.Contacts[0].ID)
	})

	t.Run("unavailable without store", func(t *testing.T) {
		t.Parallel()

		srv, _ := newTestServer(t, serverOptions{auth: auth})
		req := httptest.NewRequest(http.MethodGet, "/v1/contacts", nil)
		req.Header.Set("X-API-Key", "secret")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, serverOptions{})
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, serverOptions{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
