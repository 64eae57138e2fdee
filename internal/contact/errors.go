package contact

import (
	"errors"
	"fmt"

	"biosite/internal/ratelimit"
)

// Bot-check failures share one generic client message so the response never
// reveals scores or internal reasoning.
var (
	ErrMissingToken       = errors.New("reCAPTCHA verification required")
	ErrVerificationFailed = errors.New("reCAPTCHA verification failed. Please try again.")
)

// ValidationError names the field a client needs to correct.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// RateLimitedError rejects a submission whose window quota is exhausted.
type RateLimitedError struct {
	Result ratelimit.Result
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.Result.ResetAt.UTC().Format("15:04:05 MST"))
}

// DeliveryError wraps a sink failure. The cause is logged server-side; the
// client sees a generic message.
type DeliveryError struct {
	Cause error
}

func (e *DeliveryError) Error() string {
	return "failed to deliver submission"
}

func (e *DeliveryError) Unwrap() error {
	return e.Cause
}
