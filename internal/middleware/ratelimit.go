package middleware

import (
	"sync"
	"time"
)

// RateLimiter implements a per-identity sliding-window rate limiter.
// The key is the verified email only, so a client cannot bypass
// throttling by rotating sessions or devices.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
}

// NewRateLimiter creates a new rate limiter and starts the background
// eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Close stops the eviction goroutine.
func (r *RateLimiter) Close() {
	close(r.done)
}

// startEviction runs a background goroutine that periodically removes
// expired keys from the requests map, preventing unbounded memory growth.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.mu.Lock()
				cutoff := time.Now().Add(-r.window)
				for key, times := range r.requests {
					var fresh []time.Time
					for _, t := range times {
						if t.After(cutoff) {
							fresh = append(fresh, t)
						}
					}
					if len(fresh) == 0 {
						delete(r.requests, key)
					} else {
						r.requests[key] = fresh
					}
				}
				r.mu.Unlock()
			}
		}
	}()
}
