package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Limiter paces requests made by a single client.
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	Reserve() time.Duration
	Reset()
}

// Strategy selects a Limiter implementation.
type Strategy string

const (
	StrategyTokenBucket Strategy = "token_bucket"
	StrategyFixedDelay  Strategy = "fixed_delay"
	StrategyNone        Strategy = "none"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyTokenBucket, StrategyFixedDelay, StrategyNone, "":
		return true
	default:
		return false
	}
}

// New builds the limiter named by cfg.Strategy.
func New(cfg Config) (Limiter, error) {
	cfg = withDefaults(cfg)
	switch cfg.Strategy {
	case StrategyTokenBucket:
		return NewTokenBucket(cfg), nil
	case StrategyFixedDelay:
		return NewFixedDelay(cfg), nil
	case StrategyNone:
		return Unlimited{}, nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", cfg.Strategy)
	}
}

// Unlimited never waits.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (Unlimited) Allow() bool                    { return true }
func (Unlimited) Reserve() time.Duration         { return 0 }
func (Unlimited) Reset()                         {}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
