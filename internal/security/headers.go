// Package security issues per-request CSP nonces and hardening headers.
package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// NonceHeader carries the nonce to downstream rendering so inline resources
// can emit matching nonce attributes.
const NonceHeader = "X-Nonce"

const nonceBytes = 16

// cspTemplate interpolates the per-request nonce into script-src and
// style-src. Scripts propagate trust via strict-dynamic; the only external
// origins are the reCAPTCHA widget and Google Fonts. No unsafe-inline, no
// unsafe-eval.
const cspTemplate = "default-src 'self'; " +
	"script-src 'self' 'nonce-%[1]s' 'strict-dynamic' https://www.google.com/recaptcha/ https://www.gstatic.com/recaptcha/; " +
	"style-src 'self' 'nonce-%[1]s' https://fonts.googleapis.com; " +
	"img-src 'self' blob: data: https:; " +
	"font-src 'self' https://fonts.gstatic.com; " +
	"frame-src https://www.google.com/recaptcha/ https://recaptcha.google.com/recaptcha/; " +
	"connect-src 'self' https://www.google.com; " +
	"object-src 'none'; " +
	"base-uri 'self'; " +
	"form-action 'self'; " +
	"frame-ancestors 'none'; " +
	"upgrade-insecure-requests"

var hardeningHeaders = map[string]string{
	"Strict-Transport-Security": "max-age=63072000; includeSubDomains; preload",
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
	"Permissions-Policy":        "camera=(), microphone=(), geolocation=(), browsing-topics=()",
	"X-DNS-Prefetch-Control":    "on",
}

type nonceKey struct{}

// NonceFromContext returns the nonce issued for the current request.
func NonceFromContext(ctx context.Context) (string, bool) {
	nonce, ok := ctx.Value(nonceKey{}).(string)
	return nonce, ok
}

// Config controls which requests receive headers.
type Config struct {
	// ExcludedPrefixes lists path prefixes (API routes, static assets) that
	// skip nonce issuance.
	ExcludedPrefixes []string
}

// Headers returns a middleware that issues a fresh nonce per page request,
// assembles the CSP, and sets the hardening header set on the response. The
// nonce travels on the forwarded request (header and context) so rendering
// can attach it to inline resources.
func Headers(cfg Config, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip(cfg, r) {
				next.ServeHTTP(w, r)
				return
			}

			nonce, err := newNonce()
			if err != nil {
				// crypto/rand failing means the process is unusable; serving
				// the page without a nonce would silently weaken the policy.
				logger.Error("nonce generation failed", zap.Error(err))
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			csp := fmt.Sprintf(cspTemplate, nonce)

			r = r.WithContext(context.WithValue(r.Context(), nonceKey{}, nonce))
			r.Header.Set(NonceHeader, nonce)
			r.Header.Set("Content-Security-Policy", csp)

			h := w.Header()
			h.Set("Content-Security-Policy", csp)
			for k, v := range hardeningHeaders {
				h.Set(k, v)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func newNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func skip(cfg Config, r *http.Request) bool {
	for _, prefix := range cfg.ExcludedPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	// Prefetch requests never render, so header churn is wasted on them.
	if strings.EqualFold(r.Header.Get("Purpose"), "prefetch") {
		return true
	}
	if strings.Contains(strings.ToLower(r.Header.Get("Sec-Purpose")), "prefetch") {
		return true
	}
	return false
}
