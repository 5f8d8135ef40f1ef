// Package ratelimit paces private REST requests against exchange rate
// limits. Exceeding an exchange limit risks an IP or account ban, so the
// dispatcher acquires a token from a Budget before every signed call and
// blocks until one is available rather than firing early.
//
// The implementation wraps Uber's token-bucket limiter. A single Budget may
// be shared between sessions that target the same exchange account; all
// methods are safe for concurrent use.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/ratelimit"
)

// Rate describes a limit of Limit operations per Interval.
type Rate struct {
	Limit    int
	Interval time.Duration
}

// PerSecond is a convenience constructor for n operations per second.
func PerSecond(n int) Rate {
	return Rate{Limit: n, Interval: time.Second}
}

func (r Rate) perSecond() int {
	rps := float64(r.Limit) / r.Interval.Seconds()
	if rps < 1 {
		return 1
	}
	return int(rps)
}

// Budget is a shared token budget consumed before each rate-limited
// operation.
type Budget interface {
	// Wait blocks until a token is available or ctx is cancelled.
	Wait(ctx context.Context) error

	// SetLimit replaces the current rate. The new rate applies to
	// subsequent Wait calls; waiters already blocked finish under the
	// old schedule.
	SetLimit(rate Rate) error
}

type tokenBucket struct {
	mu      sync.Mutex
	limiter ratelimit.Limiter
	rate    Rate
}

// NewBudget creates a token-bucket budget with the given rate.
func NewBudget(rate Rate) Budget {
	return &tokenBucket{
		limiter: ratelimit.New(rate.perSecond()),
		rate:    rate,
	}
}

func (b *tokenBucket) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	b.mu.Lock()
	limiter := b.limiter
	b.mu.Unlock()

	// Take blocks without honoring ctx, so run it aside and race the
	// context. An abandoned Take still consumes its token, which only
	// makes the budget more conservative.
	done := make(chan struct{})
	go func() {
		limiter.Take()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
	}
}

func (b *tokenBucket) SetLimit(rate Rate) error {
	if rate.Limit <= 0 || rate.Interval <= 0 {
		return fmt.Errorf("invalid rate limit: %+v", rate)
	}
	b.mu.Lock()
	b.limiter = ratelimit.New(rate.perSecond())
	b.rate = rate
	b.mu.Unlock()
	return nil
}
