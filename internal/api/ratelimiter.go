package api

import (
	"sync"
	"time"
)

// rateLimitState tracks recent request timestamps for one client.
type rateLimitState struct {
	requests []int64
}

// RateLimiter implements per-IP rate limiting with a sliding window.
type RateLimiter struct {
	limits          map[string]*rateLimitState
	maxPerWindow    int
	window          time.Duration
	mu              sync.Mutex
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a rate limiter allowing maxPerSecond requests
// per client IP. A non-positive limit disables limiting.
func NewRateLimiter(maxPerSecond int) *RateLimiter {
	rl := &RateLimiter{
		limits:          make(map[string]*rateLimitState),
		maxPerWindow:    maxPerSecond,
		window:          time.Second,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go rl.startCleanup()

	return rl
}

// CheckLimit checks if a request from the given IP is allowed.
func (rl *RateLimiter) CheckLimit(ip string) bool {
	if rl.maxPerWindow <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()

	state, exists := rl.limits[ip]
	if !exists {
		state = &rateLimitState{}
		rl.limits[ip] = state
	}

	state.requests = rl.prune(state.requests, now)

	if len(state.requests) >= rl.maxPerWindow {
		return false
	}

	state.requests = append(state.requests, now)
	return true
}

// RetryAfter returns the number of seconds until the limit resets.
func (rl *RateLimiter) RetryAfter(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, exists := rl.limits[ip]
	if !exists || len(state.requests) == 0 {
		return 0
	}

	now := time.Now().UnixMilli()
	oldest := state.requests[0]

	retryAfterMs := rl.window.Milliseconds() - (now - oldest)
	if retryAfterMs < 0 {
		return 0
	}

	// Round up to whole seconds
	return int((retryAfterMs + 999) / 1000)
}

// prune drops timestamps that fell out of the window.
func (rl *RateLimiter) prune(requests []int64, now int64) []int64 {
	windowMs := rl.window.Milliseconds()
	valid := requests[:0]
	for _, reqTime := range requests {
		if now-reqTime < windowMs {
			valid = append(valid, reqTime)
		}
	}
	return valid
}

// startCleanup periodically removes idle client entries.
func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes clients with no requests inside the window.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()

	for ip, state := range rl.limits {
		state.requests = rl.prune(state.requests, now)
		if len(state.requests) == 0 {
			delete(rl.limits, ip)
		}
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
