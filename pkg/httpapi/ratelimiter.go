package httpapi

import (
	"sync"
	"time"
)

const (
	rateLimitWindow        = time.Minute
	rateLimitSweepInterval = 5 * time.Minute
)

// RateLimiter applies a per-client sliding-window limit. Each client IP
// keeps the timestamps of its requests within the window; a request is
// allowed while fewer than the configured maximum remain.
type RateLimiter struct {
	mu      sync.RWMutex
	windows map[string][]time.Time
	max     int
	now     func() time.Time
	done    chan struct{}
}

// NewRateLimiter creates a limiter allowing maxRequestsPerMinute per client
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		windows: make(map[string][]time.Time),
		max:     maxRequestsPerMinute,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	go rl.sweepLoop()

	return rl
}

// CheckLimit records a request for the client and reports whether it is
// within the limit. Denied requests are not recorded.
func (rl *RateLimiter) CheckLimit(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	window := pruneWindow(rl.windows[clientIP], rl.now())
	if len(window) >= rl.max {
		rl.windows[clientIP] = window
		return false
	}

	rl.windows[clientIP] = append(window, rl.now())
	return true
}

// GetRetryAfter returns whole seconds until the client's oldest recorded
// request falls out of the window, rounded up. Zero means retry now.
func (rl *RateLimiter) GetRetryAfter(clientIP string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	window := rl.windows[clientIP]
	if len(window) == 0 {
		return 0
	}

	remaining := rateLimitWindow - rl.now().Sub(window[0])
	if remaining <= 0 {
		return 0
	}

	return int((remaining + time.Second - 1) / time.Second)
}

// pruneWindow drops timestamps that have aged out, in place
func pruneWindow(window []time.Time, now time.Time) []time.Time {
	kept := window[:0]
	for _, ts := range window {
		if now.Sub(ts) < rateLimitWindow {
			kept = append(kept, ts)
		}
	}
	return kept
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rateLimitSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.done:
			return
		}
	}
}

// sweep forgets clients whose every request has aged out of the window
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for clientIP, window := range rl.windows {
		window = pruneWindow(window, now)
		if len(window) == 0 {
			delete(rl.windows, clientIP)
		} else {
			rl.windows[clientIP] = window
		}
	}
}

// Stop ends the background sweep goroutine
func (rl *RateLimiter) Stop() {
	close(rl.done)
}
