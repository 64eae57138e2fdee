// Package memory contains an in-memory sink implementation for tests and
// local development.
package memory

import (
	"context"
	"sync"

	"biosite/internal/contact"
)

// Sink stores received submissions for inspection.
type Sink struct {
	mu      sync.RWMutex
	records []contact.Record
}

// New returns a memory Sink.
func New() *Sink {
	return &Sink{}
}

// Save records the submission and returns a sequential pseudo ID.
func (s *Sink) Save(_ context.Context, record contact.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return int64(len(s.records)), nil
}

// Records returns the recorded submissions.
func (s *Sink) Records() []contact.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contact.Record, len(s.records))
	copy(out, s.records)
	return out
}
