package ratelimit

import (
	"context"
	"sync"
	"time"
)

// FixedDelay spaces consecutive requests at least Delay apart.
type FixedDelay struct {
	mu    sync.Mutex
	delay time.Duration
	next  time.Time
	now   func() time.Time
}

// NewFixedDelay returns a limiter whose first request is immediate.
func NewFixedDelay(cfg Config) *FixedDelay {
	cfg = withDefaults(cfg)
	return &FixedDelay{delay: cfg.Delay, now: time.Now}
}

// Wait claims the next slot and sleeps until it arrives.
func (fd *FixedDelay) Wait(ctx context.Context) error {
	fd.mu.Lock()
	now := fd.now()
	slot := now
	if fd.next.After(now) {
		slot = fd.next
	}
	fd.next = slot.Add(fd.delay)
	fd.mu.Unlock()

	return sleep(ctx, slot.Sub(now))
}

// Allow claims the slot only when no wait is needed.
func (fd *FixedDelay) Allow() bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	now := fd.now()
	if fd.next.After(now) {
		return false
	}
	fd.next = now.Add(fd.delay)
	return true
}

// Reserve reports the wait before the next slot.
func (fd *FixedDelay) Reserve() time.Duration {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if wait := fd.next.Sub(fd.now()); wait > 0 {
		return wait
	}
	return 0
}

// Reset forgets the previous request.
func (fd *FixedDelay) Reset() {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.next = time.Time{}
}
