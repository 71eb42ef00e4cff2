package ratelimit

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by client address.
type RateLimiter struct {
	requests map[string][]time.Time
	lock     sync.Mutex
	window   time.Duration
	max      int
	now      func() time.Time
}

func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		max:      max,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.lock.Lock()
	defer rl.lock.Unlock()
	now := rl.now()

	validRequests := recent(rl.requests[key], now.Add(-rl.window))
	if len(validRequests) >= rl.max {
		rl.requests[key] = validRequests
		return false
	}

	rl.requests[key] = append(validRequests, now)
	return true
}

// Prune forgets keys with no request inside the window.
func (rl *RateLimiter) Prune() int {
	rl.lock.Lock()
	defer rl.lock.Unlock()
	windowStart := rl.now().Add(-rl.window)

	removed := 0
	for key, times := range rl.requests {
		if valid := recent(times, windowStart); len(valid) == 0 {
			delete(rl.requests, key)
			removed++
		} else {
			rl.requests[key] = valid
		}
	}
	return removed
}

func recent(times []time.Time, windowStart time.Time) []time.Time {
	var valid []time.Time
	for _, t := range times {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	return valid
}
