package main

import (
	"sync"
	"time"
)

// rateLimiter enforces a minimum interval between accepted emissions of the
// same Action. Different actions are independent.
//
// Thread-safe: any reader goroutine may call TryAcquire for any kind.
// The clock is read while holding the lock, so concurrent callers are
// serialized in time order and exactly one of them wins at a boundary.
type rateLimiter struct {
	mu       sync.Mutex
	now      func() time.Time
	interval map[Action]time.Duration
	last     map[Action]time.Time
}

// RateLimitConfig holds the minimum spacing per action kind.
type RateLimitConfig struct {
	Increase   time.Duration
	Decrease   time.Duration
	ToggleMute time.Duration
}

// newRateLimiter creates a limiter using the wall clock (monotonic readings).
func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	return newRateLimiterWithClock(cfg, time.Now)
}

// newRateLimiterWithClock creates a limiter driven by an injectable clock.
func newRateLimiterWithClock(cfg RateLimitConfig, now func() time.Time) *rateLimiter {
	if now == nil {
		now = time.Now
	}
	return &rateLimiter{
		now: now,
		interval: map[Action]time.Duration{
			ActionIncrease:   cfg.Increase,
			ActionDecrease:   cfg.Decrease,
			ActionToggleMute: cfg.ToggleMute,
		},
		last: make(map[Action]time.Time, len(allActions)),
	}
}

// TryAcquire reports whether an emission of kind may proceed now.
// On success the acceptance time is recorded; on failure nothing changes and
// the caller drops the occurrence silently.
func (r *rateLimiter) TryAcquire(kind Action) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	last, fired := r.last[kind]
	if fired && now.Sub(last) < r.interval[kind] {
		return false
	}
	r.last[kind] = now
	return true
}

// IntervalsMS returns the minimum spacing per action name, in milliseconds.
func (r *rateLimiter) IntervalsMS() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.interval))
	for kind, d := range r.interval {
		out[kind.String()] = d.Milliseconds()
	}
	return out
}
