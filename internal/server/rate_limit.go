package server

import (
	"sync"
	"time"
)

// JobRateLimiter restricts how frequently a single client
// can submit print jobs via WebSocket. Clients are keyed by host, so the
// history survives reconnects and only ages out with the window.
type JobRateLimiter struct {
	mu        sync.Mutex
	attempts  map[string][]time.Time
	maxPerMin int
	now       func() time.Time
	lastSweep time.Time
}

// NewJobRateLimiter creates a limiter allowing maxPerMinute jobs per client.
// A non-positive limit disables limiting.
func NewJobRateLimiter(maxPerMinute int) *JobRateLimiter {
	return &JobRateLimiter{
		attempts:  make(map[string][]time.Time),
		maxPerMin: maxPerMinute,
		now:       time.Now,
	}
}

// Allow returns true if the client has not exceeded the rate limit.
func (rl *JobRateLimiter) Allow(client string) bool {
	if rl.maxPerMin <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-time.Minute)
	if now.Sub(rl.lastSweep) >= time.Minute {
		rl.sweep(cutoff)
		rl.lastSweep = now
	}

	recent := rl.attempts[client][:0]
	for _, t := range rl.attempts[client] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.maxPerMin {
		rl.attempts[client] = recent
		return false
	}

	rl.attempts[client] = append(recent, now)
	return true
}

// sweep drops clients with no attempt inside the window. Caller holds mu.
func (rl *JobRateLimiter) sweep(cutoff time.Time) {
	for client, times := range rl.attempts {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(rl.attempts, client)
		}
	}
}
