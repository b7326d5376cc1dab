// Package context gives contexts bound to tests.
package context

import (
	"context"
	"testing"
	"time"
)

// WithTest wraps ctx with a deadline 1 second before the test's deadline,
// leaving time to stop goroutines of the testee.
//
// Cancel is registered to t.Cleanup, too.
func WithTest(ctx context.Context, t *testing.T) (context.Context, func()) {
	t.Helper()
	cancel := func() {}
	if deadline, ok := t.Deadline(); ok {
		ctx, cancel = context.WithDeadline(ctx, deadline.Add(-time.Second))
	}
	t.Cleanup(cancel)
	return ctx, cancel
}

// WithTimeout is WithTest, also bounded by d.
func WithTimeout(ctx context.Context, t *testing.T, d time.Duration) (context.Context, func()) {
	t.Helper()
	ctx, cancelTest := WithTest(ctx, t)
	ctx, cancel := context.WithTimeout(ctx, d)
	t.Cleanup(cancel)
	return ctx, func() {
		cancel()
		cancelTest()
	}
}
