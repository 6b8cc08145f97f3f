package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket allows bursts up to Burst and refills at RequestsPerSecond.
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket returns a full bucket.
func NewTokenBucket(cfg Config) *TokenBucket {
	cfg = withDefaults(cfg)
	tb := &TokenBucket{
		rate:     cfg.RequestsPerSecond,
		capacity: float64(cfg.Burst),
		now:      time.Now,
	}
	tb.tokens = tb.capacity
	tb.lastRefill = tb.now()
	return tb
}

// Wait takes a token, sleeping for the refill when the bucket is empty.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait := tb.take()
		if wait == 0 {
			return nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Allow takes a token if one is available right now.
func (tb *TokenBucket) Allow() bool {
	return tb.take() == 0
}

// Reserve reports how long until a token is available without taking it.
func (tb *TokenBucket) Reserve() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	return tb.deficitLocked()
}

// Reset refills the bucket.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens = tb.capacity
	tb.lastRefill = tb.now()
}

func (tb *TokenBucket) take() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	if tb.tokens >= 1 {
		tb.tokens--
		return 0
	}
	return tb.deficitLocked()
}

func (tb *TokenBucket) deficitLocked() time.Duration {
	if tb.tokens >= 1 {
		return 0
	}
	// +1ns so a caller that sleeps exactly this long finds a whole token.
	return time.Duration((1-tb.tokens)/tb.rate*float64(time.Second)) + time.Nanosecond
}

func (tb *TokenBucket) refillLocked() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed.Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}
