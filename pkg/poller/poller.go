// Package poller calls a work periodically, backing off on failures.
package poller

import (
	"context"
	"log"
	"time"

	"github.com/opst/modelsync/pkg/logger"
	"github.com/opst/modelsync/pkg/loop"
	"github.com/opst/modelsync/pkg/utils/retry"
)

type Config struct {
	// Interval between ticks, while works succeed.
	Interval time.Duration `yaml:"interval"`

	// MaxInterval is the upper bound of interval on backing off.
	MaxInterval time.Duration `yaml:"maxInterval"`

	// MaxRetries is how many consecutive failures are tolerated at an interval
	// before doubling it.
	MaxRetries int `yaml:"maxRetries"`

	// Timeout of each work. No timeout when 0.
	Timeout time.Duration `yaml:"timeout"`
}

// Default is the polling configuration for resource pages.
var Default = Config{
	Interval:    4 * time.Second,
	MaxInterval: 4001 * time.Millisecond,
	MaxRetries:  1,
}

// Work is called on each tick.
//
// Returning an error means the tick failed; the scheduler keeps polling anyway.
type Work func(context.Context) error

// Tick is a report of a finished work.
type Tick struct {
	// Err is what the work returned.
	Err error

	// Failures is the count of consecutive failures, including this tick.
	Failures int

	// Next is the interval until the next tick.
	Next time.Duration
}

type options struct {
	logger   *log.Logger
	observer func(Tick)
}

type Option func(*options) *options

func WithLogger(l *log.Logger) Option {
	return func(o *options) *options {
		o.logger = l
		return o
	}
}

// WithObserver sets a function called after each work, before waiting for the next tick.
func WithObserver(f func(Tick)) Option {
	return func(o *options) *options {
		o.observer = f
		return o
	}
}

// Scheduler is a running polling loop.
type Scheduler struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start starts polling. The first tick fires immediately.
//
// Works never overlap: the next tick is scheduled after the current work returns.
// Polling continues until Cancel is called or ctx is done; failures never stop it.
func Start(ctx context.Context, conf Config, work Work, opts ...Option) *Scheduler {
	o := &options{logger: logger.Null(), observer: func(Tick) {}}
	for _, opt := range opts {
		o = opt(o)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{cancel: cancel, done: make(chan struct{})}

	backoff := retry.New(retry.Policy{
		Initial:   conf.Interval,
		Max:       conf.MaxInterval,
		Tolerance: conf.MaxRetries,
	})

	loopOpts := []loop.LoopOption{}
	if 0 < conf.Timeout {
		loopOpts = append(loopOpts, loop.WithTimeout(conf.Timeout))
	}

	go func() {
		defer close(s.done)
		defer cancel()

		loop.Start(ctx, backoff, func(wctx context.Context, b *retry.Backoff) (*retry.Backoff, loop.Next) {
			err := work(wctx)
			if ctx.Err() != nil {
				// cancelled while working. the result is not interesting anymore.
				return b, loop.Break(nil)
			}

			var next time.Duration
			if err != nil {
				next = b.Fail()
				o.logger.Printf("polling failed (%d times in a row). retry in %s: %s", b.Failures(), next, err)
			} else {
				next = b.Succeed()
			}
			o.observer(Tick{Err: err, Failures: b.Failures(), Next: next})
			return b, loop.Continue(next)
		}, loopOpts...)
	}()

	return s
}

// Cancel stops pending and future ticks. The context passed to a running work is cancelled.
//
// It does not wait for the loop to exit; use Done for that. Calling Cancel twice or more is safe.
func (s *Scheduler) Cancel() {
	s.cancel()
}

// Done is closed when the polling loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}
