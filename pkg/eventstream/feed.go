package eventstream

import (
	"context"
	"sync"
)

// Update is a value of a Feed, or its terminal error.
//
// Err is not nil only in the last update of a feed.
type Update[T any] struct {
	Value T
	Err   error
}

// Feed is a stream of values other than watch events of resources,
// like Kubernetes events or logs of a resource.
type Feed[T any] interface {
	// Updates returns the channel of updates. It is closed when the feed ends.
	Updates() <-chan Update[T]

	// Cancel stops the feed. It can be called many times.
	Cancel()
}

// FeedPipe is a Feed fed by a producer goroutine, in the same manner as Pipe.
type FeedPipe[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan Update[T]
	once   sync.Once
}

func NewFeedPipe[T any](ctx context.Context) *FeedPipe[T] {
	ctx, cancel := context.WithCancel(ctx)
	return &FeedPipe[T]{ctx: ctx, cancel: cancel, ch: make(chan Update[T])}
}

func (p *FeedPipe[T]) Context() context.Context {
	return p.ctx
}

// Send passes a value to the consumer. It returns false if the feed is cancelled before that.
func (p *FeedPipe[T]) Send(v T) bool {
	return p.send(Update[T]{Value: v})
}

// Fail sends the terminal error. The producer should Close after that.
func (p *FeedPipe[T]) Fail(err error) bool {
	return p.send(Update[T]{Err: err})
}

func (p *FeedPipe[T]) send(u Update[T]) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}

	select {
	case <-p.ctx.Done():
		return false
	case p.ch <- u:
		return true
	}
}

// Close closes the update channel. Only the producer may call it.
func (p *FeedPipe[T]) Close() {
	p.once.Do(func() {
		close(p.ch)
		p.cancel()
	})
}

func (p *FeedPipe[T]) Updates() <-chan Update[T] {
	return p.ch
}

func (p *FeedPipe[T]) Cancel() {
	p.cancel()
}
