// Package ratelimit provides fixed-window rate limiting for outbound
// platform requests and inbound subscriber connections.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a fixed-window rate limiter for a single entity.
type Limiter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	rate        int
	window      time.Duration
}

// New creates a Limiter that allows rate requests per window.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{
		rate:        rate,
		window:      window,
		windowStart: time.Now(),
	}
}

// Allow returns true if the request is within the rate limit.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.windowStart) > l.window {
		l.count = 0
		l.windowStart = now
	}
	l.count++
	return l.count <= l.rate
}

// Wait blocks until the next window opens or the deadline passes, then
// consumes a slot. Returns false if the deadline passed first.
func (l *Limiter) Wait(deadline time.Time) bool {
	for {
		if l.Allow() {
			return true
		}
		l.mu.Lock()
		sleep := l.window - time.Since(l.windowStart)
		l.mu.Unlock()
		if sleep < 10*time.Millisecond {
			sleep = 10 * time.Millisecond
		}
		if time.Now().Add(sleep).After(deadline) {
			return false
		}
		time.Sleep(sleep)
	}
}

// Keyed tracks one Limiter per key, for per-host or per-connection limits.
type Keyed struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	rate     int
	window   time.Duration
}

// NewKeyed creates a registry of per-key limiters sharing one rate.
func NewKeyed(rate int, window time.Duration) *Keyed {
	return &Keyed{
		limiters: make(map[string]*Limiter),
		rate:     rate,
		window:   window,
	}
}

func (k *Keyed) get(key string) *Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.limiters[key]
	if !ok {
		l = New(k.rate, k.window)
		k.limiters[key] = l
	}
	return l
}

// Allow returns true if the request for the given key is within its limit.
func (k *Keyed) Allow(key string) bool {
	return k.get(key).Allow()
}

// Wait blocks on the key's limiter until a slot opens or the deadline
// passes.
func (k *Keyed) Wait(key string, deadline time.Time) bool {
	return k.get(key).Wait(deadline)
}

// Forget drops the limiter for a key, releasing its state.
func (k *Keyed) Forget(key string) {
	k.mu.Lock()
	delete(k.limiters, key)
	k.mu.Unlock()
}
