// Package recaptcha verifies client assertion tokens against the reCAPTCHA
// v3 siteverify endpoint. Every ambiguous or failing condition resolves to
// "not verified"; the verifier never surfaces an error to request handling.
package recaptcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"biosite/internal/metrics"
)

// DefaultMinScore is Google's recommended threshold for v3 keys.
const DefaultMinScore = 0.5

// verifyResponse mirrors the siteverify JSON payload. Score and action are
// only present on successful v3 verifications.
type verifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	Action     string   `json:"action"`
	ErrorCodes []string `json:"error-codes"`
}

// Config holds verifier configuration.
type Config struct {
	Secret   string
	MinScore float64
	// VerifyURL overrides the Google endpoint, primarily for tests.
	VerifyURL string
	Timeout   time.Duration
}

// Client calls the external verification service.
type Client struct {
	secret    string
	minScore  float64
	verifyURL string
	http      *http.Client
	logger    *zap.Logger
}

// New creates a verification Client.
func New(cfg Config, logger *zap.Logger) *Client {
	minScore := cfg.MinScore
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	verifyURL := cfg.VerifyURL
	if verifyURL == "" {
		verifyURL = "https://www.google.com/recaptcha/api/siteverify"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		secret:    cfg.Secret,
		minScore:  minScore,
		verifyURL: verifyURL,
		http:      &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// Verify checks the token with the verification service. It returns true
// only when the transport call succeeds, the service reports success, a
// numeric score is present, the action (when reported) matches
// expectedAction, and the score clears the threshold. Everything else fails
// closed with the reason logged.
func (c *Client) Verify(ctx context.Context, token, expectedAction string) bool {
	if c.secret == "" {
		// Configuration error, logged distinctly for operators.
		c.logger.Error("recaptcha secret is not configured")
		metrics.ObserveVerification("config_error")
		return false
	}
	if token == "" {
		c.logger.Warn("recaptcha token missing")
		metrics.ObserveVerification("missing_token")
		return false
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		c.logger.Error("build recaptcha request", zap.Error(err))
		metrics.ObserveVerification("error")
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("recaptcha request failed", zap.Error(err))
		metrics.ObserveVerification("error")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("recaptcha API returned non-OK status",
			zap.Int("status", resp.StatusCode))
		metrics.ObserveVerification("error")
		return false
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.Error("decode recaptcha response", zap.Error(err))
		metrics.ObserveVerification("error")
		return false
	}

	if !result.Success {
		c.logger.Warn("recaptcha verification rejected",
			zap.Strings("error_codes", result.ErrorCodes))
		metrics.ObserveVerification("rejected")
		return false
	}

	// v3 responses always carry a score; its absence means the site key is
	// not a v3 key and the result cannot be trusted.
	if result.Score == nil {
		c.logger.Error("recaptcha response missing score, check key version")
		metrics.ObserveVerification("no_score")
		return false
	}

	if result.Action != "" && result.Action != expectedAction {
		c.logger.Warn("recaptcha action mismatch",
			zap.String("expected", expectedAction),
			zap.String("got", result.Action))
		metrics.ObserveVerification("action_mismatch")
		return false
	}

	if *result.Score < c.minScore {
		c.logger.Info(fmt.Sprintf("recaptcha score too low: %.2f < %.2f", *result.Score, c.minScore))
		metrics.ObserveVerification("low_score")
		return false
	}

	c.logger.Debug("recaptcha passed", zap.Float64("score", *result.Score))
	metrics.ObserveVerification("passed")
	return true
}
