// Package server implements per-connection message throttling that protects
// the hub from abuse.
package server

import (
	"sync"
	"time"
)

// rateLimiter grants a connection RateLimitConfig.Burst messages per
// RefillInterval. The budget resets in full at each window boundary; unspent
// messages do not carry over. Degenerate configurations are clamped to one
// message per second.
type rateLimiter struct {
	mu        sync.Mutex
	tokens    int
	burst     int
	interval  time.Duration
	windowEnd time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		tokens:    burst,
		burst:     burst,
		interval:  interval,
		windowEnd: time.Now().Add(interval),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now := time.Now(); !now.Before(rl.windowEnd) {
		rl.tokens = rl.burst
		rl.windowEnd = now.Add(rl.interval)
	}

	if rl.tokens == 0 {
		return false
	}
	rl.tokens--
	return true
}
