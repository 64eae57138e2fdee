// Package contact implements the contact submission intake pipeline.
package contact

import (
	"context"
	"time"
)

// Input is the raw submission as received from the HTTP layer.
type Input struct {
	Name      string
	Email     string
	Token     string
	ClientIP  string
	UserAgent string
}

// Record is the normalized submission handed to the sink.
type Record struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ack acknowledges an accepted submission. ID is zero when the sink does not
// produce one (email, pubsub).
type Ack struct {
	ID      int64
	Message string
}

// Sink receives accepted submissions. Exactly one Save call happens per
// successful pipeline run.
type Sink interface {
	Save(ctx context.Context, record Record) (int64, error)
}

// Verifier checks a client assertion token against a bot-scoring service.
type Verifier interface {
	Verify(ctx context.Context, token, expectedAction string) bool
}
