package retry

import (
	"context"
	"time"
)

// Policy of Backoff.
type Policy struct {
	// Initial interval, and the interval after success.
	Initial time.Duration

	// Max is the upper bound of interval. Values smaller than Initial mean Initial.
	Max time.Duration

	// Multiplier of interval on backing off. Values not greater than 1 mean 2.
	Multiplier float64

	// Tolerance is how many consecutive failures are tolerated at an interval
	// before backing off. Values smaller than 1 mean 1.
	Tolerance int
}

// Backoff tracks intervals of retries against consecutive failures.
//
// Backoff is not goroutine-safe.
type Backoff struct {
	policy   Policy
	current  time.Duration
	failures int
}

func New(p Policy) *Backoff {
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	if p.Tolerance < 1 {
		p.Tolerance = 1
	}
	return &Backoff{policy: p, current: p.Initial}
}

// Interval returns the current interval.
func (b *Backoff) Interval() time.Duration {
	return b.current
}

// Failures returns the count of consecutive failures.
func (b *Backoff) Failures() int {
	return b.failures
}

// Fail records a failure, and returns the interval to wait before the next try.
//
// For every Tolerance consecutive failures, the interval is multiplied, up to Max.
func (b *Backoff) Fail() time.Duration {
	b.failures += 1
	if b.failures%b.policy.Tolerance == 0 {
		next := time.Duration(float64(b.current) * b.policy.Multiplier)
		if next > b.policy.Max || next < b.current {
			next = b.policy.Max
		}
		b.current = next
	}
	return b.current
}

// Succeed resets the interval and the failure count.
func (b *Backoff) Succeed() time.Duration {
	b.failures = 0
	b.current = b.policy.Initial
	return b.current
}

// Wait blocks for d, or until ctx is done.
//
// It returns ctx.Err() when ctx is done first, and nil otherwise.
func Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
