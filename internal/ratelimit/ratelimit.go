// Package ratelimit gates remote calls behind a shared permit window.
// Every remote invocation takes exactly one permit, retries of a
// failed invocation reuse the permit already taken.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded is returned in non-blocking mode when the
// current window has no permits left. It is never retried.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Spec declares a permit window. MaxCount of zero or less disables
// the gate entirely.
type Spec struct {
	MaxCount int
	Interval time.Duration
	Block    bool
}

// DefaultSpec keeps integrations well below the API throttling
// ceilings out of the box.
var DefaultSpec = Spec{MaxCount: 2, Interval: time.Second, Block: true}

func (s Spec) limit() rate.Limit {
	if s.MaxCount <= 0 || s.Interval <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(s.MaxCount) / s.Interval.Seconds())
}

// Limiter is a reconfigurable permit gate safe for concurrent use.
type Limiter struct {
	mu   sync.Mutex
	spec Spec
	rl   *rate.Limiter
}

func New(spec Spec) *Limiter {
	l := &Limiter{}
	l.applyLocked(spec)
	return l
}

func (l *Limiter) applyLocked(spec Spec) {
	l.spec = spec
	if spec.MaxCount <= 0 {
		l.rl = nil
		return
	}
	l.rl = rate.NewLimiter(spec.limit(), spec.MaxCount)
}

// Acquire takes one permit. In blocking mode it waits for the window
// to admit the caller or for ctx to end. In non-blocking mode a
// drained window fails with ErrRateLimitExceeded.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	rl, spec := l.rl, l.spec
	l.mu.Unlock()

	if rl == nil {
		return nil
	}
	if spec.Block {
		return rl.Wait(ctx)
	}
	if !rl.Allow() {
		return fmt.Errorf("%d per %s: %w", spec.MaxCount, spec.Interval, ErrRateLimitExceeded)
	}
	return nil
}

// SetMaxCount resizes the window capacity. Reconfiguring restarts the
// window, previously spent permits are forgotten.
func (l *Limiter) SetMaxCount(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	spec := l.spec
	spec.MaxCount = n
	l.applyLocked(spec)
}

// SetSpec swaps the whole permit window.
func (l *Limiter) SetSpec(spec Spec) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyLocked(spec)
}

// Spec returns the active window configuration.
func (l *Limiter) Spec() Spec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spec
}
