package contact

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"biosite/internal/clock"
	"biosite/internal/metrics"
	"biosite/internal/ratelimit"
)

// emailPattern is a structural local@domain.tld check, deliberately not full
// RFC 5322.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Config toggles verification for the intake pipeline.
type Config struct {
	RecaptchaEnabled bool
	ExpectedAction   string
}

// Service coordinates the submission pipeline: rate limit, validation,
// bot-score verification, then delegation to the sink.
type Service struct {
	cfg      Config
	limiter  *ratelimit.Limiter
	verifier Verifier
	sink     Sink
	clk      clock.Clock
	logger   *zap.Logger
}

// NewService wires the intake pipeline.
func NewService(
	cfg Config,
	limiter *ratelimit.Limiter,
	verifier Verifier,
	sink Sink,
	clk clock.Clock,
	logger *zap.Logger,
) *Service {
	return &Service{
		cfg:      cfg,
		limiter:  limiter,
		verifier: verifier,
		sink:     sink,
		clk:      clk,
		logger:   logger,
	}
}

// Limit exposes the per-window maximum for response headers.
func (s *Service) Limit() int {
	return s.limiter.Limit()
}

// Submit runs the intake pipeline, short-circuiting on the first failure.
// The rate limit result is returned whenever a decision was made so the
// caller can attach quota headers regardless of outcome.
func (s *Service) Submit(ctx context.Context, in Input) (Ack, ratelimit.Result, error) {
	identifier := in.ClientIP
	if identifier == "" {
		identifier = "unknown"
	}

	res := s.limiter.Check(identifier)
	if !res.Allowed {
		s.logger.Warn("submission rate limited",
			zap.String("identifier", identifier),
			zap.Time("reset_at", res.ResetAt))
		metrics.ObserveSubmission("rate_limited")
		return Ack{}, res, &RateLimitedError{Result: res}
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		metrics.ObserveSubmission("invalid_input")
		return Ack{}, res, &ValidationError{Field: "name", Message: "Name is required"}
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		metrics.ObserveSubmission("invalid_input")
		return Ack{}, res, &ValidationError{Field: "email", Message: "Email is required"}
	}
	if !emailPattern.MatchString(email) {
		metrics.ObserveSubmission("invalid_input")
		return Ack{}, res, &ValidationError{Field: "email", Message: "Invalid email format"}
	}

	if s.cfg.RecaptchaEnabled {
		if in.Token == "" {
			metrics.ObserveSubmission("missing_token")
			return Ack{}, res, ErrMissingToken
		}
		if !s.verifier.Verify(ctx, in.Token, s.cfg.ExpectedAction) {
			metrics.ObserveSubmission("verification_failed")
			return Ack{}, res, ErrVerificationFailed
		}
	}

	record := Record{
		Name:      name,
		Email:     strings.ToLower(email),
		IPAddress: in.ClientIP,
		UserAgent: in.UserAgent,
		CreatedAt: s.clk.Now(),
	}

	id, err := s.sink.Save(ctx, record)
	if err != nil {
		s.logger.Error("submission delivery failed",
			zap.String("identifier", identifier),
			zap.Error(err))
		metrics.ObserveSubmission("delivery_failed")
		return Ack{}, res, &DeliveryError{Cause: err}
	}

	s.logger.Info("contact submission accepted",
		zap.String("identifier", identifier),
		zap.Int64("id", id))
	metrics.ObserveSubmission("accepted")
	return Ack{ID: id, Message: "Contact submission received"}, res, nil
}

// ResolveIdentifier extracts the client identifier from proxy headers: the
// first hop of X-Forwarded-For, else X-Real-IP, else "unknown".
func ResolveIdentifier(forwardedFor, realIP string) string {
	if forwardedFor != "" {
		first := forwardedFor
		if idx := strings.IndexByte(forwardedFor, ','); idx >= 0 {
			first = forwardedFor[:idx]
		}
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP != "" {
		return realIP
	}
	return "unknown"
}
