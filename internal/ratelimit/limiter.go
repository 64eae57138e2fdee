// Package ratelimit implements a fixed-window counter limiting contact
// submissions per client identifier.
package ratelimit

import (
	"sync"
	"time"

	"biosite/internal/clock"
	"biosite/internal/metrics"
)

// Result carries the admission decision plus the metadata needed for
// X-RateLimit-* response headers.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	Window         time.Duration
	MaxRequests    int
	SweepThreshold int
}

// Limiter admits or rejects requests per identifier using a fixed window.
type Limiter struct {
	mu    sync.Mutex
	store Store
	clk   clock.Clock
	cfg   Config
}

// New creates a Limiter backed by the given store and clock.
func New(cfg Config, store Store, clk clock.Clock) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.SweepThreshold <= 0 {
		cfg.SweepThreshold = 10000
	}
	return &Limiter{
		store: store,
		clk:   clk,
		cfg:   cfg,
	}
}

// Limit returns the configured per-window maximum.
func (l *Limiter) Limit() int {
	return l.cfg.MaxRequests
}

// Check records a request attempt for the identifier and decides admission.
// The check-then-increment runs under a single lock so two concurrent
// requests can never both observe count < max and both pass.
func (l *Limiter) Check(identifier string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()

	if l.store.Len() > l.cfg.SweepThreshold {
		l.store.Sweep(now)
	}

	entry, ok := l.store.Get(identifier)

	// First request from this identifier, or a stale window.
	if !ok || now.After(entry.ResetAt) {
		resetAt := now.Add(l.cfg.Window)
		l.store.Set(identifier, Entry{Count: 1, ResetAt: resetAt})
		return Result{
			Allowed:   true,
			Remaining: l.cfg.MaxRequests - 1,
			ResetAt:   resetAt,
		}
	}

	// Exhausted windows do not consume quota and keep their reset time.
	if entry.Count >= l.cfg.MaxRequests {
		metrics.ObserveRateLimitRejection()
		return Result{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   entry.ResetAt,
		}
	}

	entry.Count++
	l.store.Set(identifier, entry)
	return Result{
		Allowed:   true,
		Remaining: l.cfg.MaxRequests - entry.Count,
		ResetAt:   entry.ResetAt,
	}
}
