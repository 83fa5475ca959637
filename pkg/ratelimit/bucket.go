package ratelimit

import (
	"math"
	"time"
)

// tokenBucket is a lazily refilled token bucket. It has no timer: every
// consume or inspect call first credits tokens for the wall-clock time
// elapsed since the last refill, capped at capacity.
type tokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	lastAccess time.Time
}

func newTokenBucket(capacity int, refillRate float64, now time.Time) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now,
		lastAccess: now,
	}
}

func (b *tokenBucket) refill(now time.Time) {
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}
	b.lastAccess = now
}

// consume refills for elapsed time and tries to take n tokens. On shortfall
// it reports how long until enough tokens accrue.
func (b *tokenBucket) consume(n float64, now time.Time) (bool, time.Duration) {
	b.refill(now)
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	retryAfter := time.Duration((n - b.tokens) / b.refillRate * float64(time.Second))
	return false, retryAfter
}

// available reports current tokens after crediting elapsed time
func (b *tokenBucket) available(now time.Time) float64 {
	b.refill(now)
	return b.tokens
}
