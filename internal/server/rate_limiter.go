package server

import (
	"sync"
	"time"
)

// rateLimiter is a fixed-window counter keyed by caller. Entries from
// windows two generations old are pruned on write so the map stays
// bounded by the active caller set.
type rateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	items  map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		items:  make(map[string]*rateLimitEntry),
	}
}

func (r *rateLimiter) Allow(key string) bool {
	if key == "" {
		return false
	}

	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.items[key]
	if entry == nil || now.Sub(entry.windowStart) > r.window {
		entry = &rateLimitEntry{windowStart: now}
		r.items[key] = entry
		r.pruneLocked(now)
	}

	if entry.count >= r.limit {
		return false
	}

	entry.count++
	return true
}

func (r *rateLimiter) pruneLocked(now time.Time) {
	if len(r.items) < 1024 {
		return
	}
	cutoff := now.Add(-2 * r.window)
	for key, entry := range r.items {
		if entry.windowStart.Before(cutoff) {
			delete(r.items, key)
		}
	}
}
