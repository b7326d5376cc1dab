// Package loop runs a task repeatedly, one at a time, until it breaks or its context is done.
package loop

import (
	"context"
	"fmt"
	"time"
)

// Next tells the loop what to do after a task.
type Next struct {
	// if not nil, breaks with error
	err error

	// if quit == true and err == nil, breaks without error
	quit bool

	// otherwise, continue loop after interval.
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}
	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Continue runs the task again after interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break stops the loop. err can be nil.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task receives the value the last task returned, and returns a new value and Next.
//
// The zero value of Next is Continue(0).
type Task[T any] func(context.Context, T) (T, Next)

// Start runs task in loop, beginning with init.
//
// The first task runs immediately. Tasks never run concurrently;
// the next one starts after the interval from when the last one finished.
//
// Example: count up every second until 10.
//
//	loop.Start(ctx, 0, func(_ context.Context, n int) (int, loop.Next) {
//		if 10 <= n+1 {
//			return n + 1, loop.Break(nil)
//		}
//		return n + 1, loop.Continue(time.Second)
//	})
//
// # Returns
//
// - T: the value the last task returned. It is returned with error also.
//
// - error: the error passed to Break, or ctx.Err() when ctx is done while waiting.
func Start[T any](ctx context.Context, init T, task Task[T], options ...LoopOption) (T, error) {
	select {
	case <-ctx.Done():
		return init, ctx.Err()
	default:
	}

	value := init
	for {
		lc := &loopConfig{ctx: ctx}
		for _, opt := range options {
			lc = opt(lc)
		}

		v, n := func() (T, Next) {
			if lc.deferred != nil {
				defer lc.deferred()
			}
			return task(lc.ctx, value)
		}()

		if n.err != nil {
			return v, n.err
		} else if n.quit {
			return v, nil
		}
		value = v

		timer := time.NewTimer(n.interval)
		select {
		case <-ctx.Done():
			// ctx comes first. drain the timer if it has fired meanwhile.
			if !timer.Stop() {
				<-timer.C
			}
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}

type loopConfig struct {
	ctx      context.Context
	deferred func()
}

type LoopOption func(*loopConfig) *loopConfig

// WithTimeout sets a timeout on the context passed to each task.
func WithTimeout(d time.Duration) LoopOption {
	return func(lc *loopConfig) *loopConfig {
		ctx, cancel := context.WithTimeout(lc.ctx, d)
		return &loopConfig{
			ctx: ctx,
			deferred: func() {
				if lc.deferred != nil {
					defer lc.deferred()
				}
				cancel()
			},
		}
	}
}
