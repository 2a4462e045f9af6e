// Package awsretry retries remote calls rejected by provider side
// throttling. Anything else propagates immediately.
package awsretry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var ErrInvalidPolicy = errors.New("retry policy requires at least one attempt")

// throttleMarkers cover the spelling variants AWS services use when
// shedding load. Keep the list lowercase, matching is case folded.
var throttleMarkers = []string{
	"throttling",
	"rate exceeded",
	"limitexceeded",
}

// IsThrottle reports whether err renders like a provider side
// throttling rejection. The rendered text of the whole chain is
// inspected because throttling surfaces under many error codes.
func IsThrottle(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range throttleMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Policy shapes the linear backoff between throttled attempts.
// MaxRetries is the total number of attempts including the first,
// the n-th completed retry sleeps Base + n*Growth before running.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Growth     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 5,
		Base:       500 * time.Millisecond,
		Growth:     500 * time.Millisecond,
	}
}

// NewLinear returns a BackOff whose waits grow arithmetically,
// base, base+growth, base+2*growth and so on.
func NewLinear(base, growth time.Duration) backoff.BackOff {
	return &linearBackOff{base: base, growth: growth}
}

type linearBackOff struct {
	base    time.Duration
	growth  time.Duration
	retries int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	d := b.base + time.Duration(b.retries)*b.growth
	b.retries++
	return d
}

func (b *linearBackOff) Reset() {
	b.retries = 0
}

// Retryer runs operations under one throttling policy. The zero value
// is not usable, construct with New.
type Retryer struct {
	policy Policy
	log    *zap.Logger
}

func New(policy Policy) *Retryer {
	return &Retryer{policy: policy, log: zap.NewNop()}
}

func (r *Retryer) WithLogger(log *zap.Logger) *Retryer {
	r.log = log
	return r
}

// Do runs op, retrying throttled failures until the policy is spent.
// The final failure is returned verbatim. Non throttling errors are
// returned from the attempt that produced them.
func (r *Retryer) Do(ctx context.Context, op backoff.Operation) error {
	if r.policy.MaxRetries < 1 {
		return fmt.Errorf("max retries %d: %w", r.policy.MaxRetries, ErrInvalidPolicy)
	}

	lin := NewLinear(r.policy.Base, r.policy.Growth)
	b := backoff.WithContext(backoff.WithMaxRetries(lin, uint64(r.policy.MaxRetries-1)), ctx)

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !IsThrottle(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		r.log.Warn("remote call throttled, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	return backoff.RetryNotify(wrapped, b, notify)
}
