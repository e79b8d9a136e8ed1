package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket creates a bucket refilling at rate tokens/second up to capacity.
func NewTokenBucket(rate, capacity int) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.lastUsed = now
	tokensToAdd := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) idleSince(cutoff time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastUsed.Before(cutoff)
}

// ConnLimiter bounds the rate of accepted connections, globally and per
// source address. Source keys are remote IPs, so buckets are created on
// demand and swept once idle.
type ConnLimiter struct {
	mu        sync.Mutex
	global    *TokenBucket
	perSource map[string]*TokenBucket
	rate      int
	burst     int
}

// NewConnLimiter creates a limiter. A rate of 0 disables the corresponding
// dimension entirely.
func NewConnLimiter(globalRate, perSourceRate, burst int) *ConnLimiter {
	cl := &ConnLimiter{
		perSource: make(map[string]*TokenBucket),
		rate:      perSourceRate,
		burst:     burst,
	}
	if globalRate > 0 {
		cl.global = NewTokenBucket(globalRate, burst)
	}
	return cl
}

// Allow reports whether a connection from source may be accepted, consuming
// tokens from the global and per-source buckets.
func (cl *ConnLimiter) Allow(source string) bool {
	if cl.global != nil && !cl.global.Allow() {
		return false
	}
	if cl.rate <= 0 {
		return true
	}
	cl.mu.Lock()
	bucket, exists := cl.perSource[source]
	if !exists {
		bucket = NewTokenBucket(cl.rate, cl.burst)
		cl.perSource[source] = bucket
	}
	cl.mu.Unlock()
	return bucket.Allow()
}

// Sweep drops per-source buckets idle for longer than maxIdle and returns how
// many were removed.
func (cl *ConnLimiter) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	cl.mu.Lock()
	defer cl.mu.Unlock()
	removed := 0
	for source, bucket := range cl.perSource {
		if bucket.idleSince(cutoff) {
			delete(cl.perSource, source)
			removed++
		}
	}
	return removed
}
