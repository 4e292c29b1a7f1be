package realtime

import (
	"sync"
	"time"
)

// RateLimiter admits at most limit messages within a sliding window.
// Admission timestamps are recorded only for admitted messages, so
// rejected traffic cannot extend a sender's penalty.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
}

// NewRateLimiter builds a limiter admitting limit messages per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
	}
}

// Allow prunes timestamps that have aged out of the window and admits
// the message if capacity remains. The timestamp is recorded on
// admission only.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	keep := 0
	for keep < len(r.stamps) && !r.stamps[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		n := copy(r.stamps, r.stamps[keep:])
		r.stamps = r.stamps[:n]
	}

	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}
