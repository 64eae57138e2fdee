package ratelimit

import (
	"sync"
	"time"
)

// Entry tracks one identifier's submission count within the current window.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Store holds rate limit entries keyed by client identifier. Implementations
// must be safe for concurrent use. The memory store is the default; the seam
// exists so a shared store can replace it for multi-instance deployments.
type Store interface {
	Get(identifier string) (Entry, bool)
	Set(identifier string, entry Entry)
	Len() int
	// Sweep removes entries whose window expired before now and reports how
	// many were removed.
	Sweep(now time.Time) int
}

// MemoryStore is a process-local, volatile Store. State does not survive a
// restart and is not shared across instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Get returns the entry for the identifier, if present.
func (s *MemoryStore) Get(identifier string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[identifier]
	return e, ok
}

// Set stores the entry for the identifier.
func (s *MemoryStore) Set(identifier string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[identifier] = entry
}

// Len returns the number of tracked identifiers.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops expired entries. Full scan, no eviction ordering; entries are
// small enough that this only matters past the sweep threshold.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if now.After(e.ResetAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
