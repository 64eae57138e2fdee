// Package pubsub publishes contact submissions to a Google Cloud Pub/Sub
// topic for downstream notification workers.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"biosite/internal/contact"
	uuidgen "biosite/internal/id/uuid"
)

// Sink wraps a Pub/Sub publisher client and implements contact.Sink.
type Sink struct {
	publisher *pubsub.Publisher
	ids       *uuidgen.Generator
}

// New creates a Sink for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Sink {
	return &Sink{
		publisher: publisher,
		ids:       uuidgen.NewUUIDGenerator(),
	}
}

// Save marshals the submission to JSON and publishes it. Pub/Sub assigns a
// string message ID, so the returned submission ID is always zero; a UUIDv7
// attribute lets consumers correlate and order submissions instead.
func (s *Sink) Save(ctx context.Context, record contact.Record) (int64, error) {
	if s.publisher == nil {
		return 0, fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("marshal submission: %w", err)
	}
	submissionID, err := s.ids.NewID()
	if err != nil {
		return 0, fmt.Errorf("generate submission id: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event":         "contact.submitted",
			"submission_id": submissionID,
		},
	}
	result := s.publisher.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return 0, fmt.Errorf("publish submission: %w", err)
	}
	return 0, nil
}
