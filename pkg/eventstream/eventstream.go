// Package eventstream defines streams of watch events, shared by sources
// (SSE, cluster watch, fan-in of namespaces) and their consumers.
package eventstream

import (
	"context"
	"sync"

	"github.com/opst/modelsync/pkg/api/types/resources"
)

// Message is an event, or a terminal error of a stream.
//
// Err is not nil only in the last message of a stream.
type Message struct {
	Event resources.WatchEvent
	Err   error
}

type Stream interface {
	// Messages returns the channel of messages. It is closed when the stream ends.
	Messages() <-chan Message

	// Cancel stops the stream and releases its connection.
	//
	// It can be called many times.
	Cancel()
}

// Opener opens a stream of events in a namespace.
type Opener func(ctx context.Context, namespace string) (Stream, error)

// Pipe is a Stream fed by a producer goroutine.
//
// The producer calls Send for each message and Close when it finishes.
// The consumer reads Messages and calls Cancel when it is no longer interested.
type Pipe struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan Message
	once   sync.Once
}

var _ Stream = &Pipe{}

func NewPipe(ctx context.Context) *Pipe {
	ctx, cancel := context.WithCancel(ctx)
	return &Pipe{ctx: ctx, cancel: cancel, ch: make(chan Message)}
}

// Context is done when the pipe is cancelled. Producers should stop then.
func (p *Pipe) Context() context.Context {
	return p.ctx
}

// Send passes a message to the consumer.
//
// It blocks until the consumer receives it, and returns false if the pipe is cancelled before that.
func (p *Pipe) Send(m Message) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}

	select {
	case <-p.ctx.Done():
		return false
	case p.ch <- m:
		return true
	}
}

// Fail sends the terminal error. The producer should Close after that.
func (p *Pipe) Fail(err error) bool {
	return p.Send(Message{Err: err})
}

// Close closes the message channel. Only the producer may call it, once it finished sending.
func (p *Pipe) Close() {
	p.once.Do(func() {
		close(p.ch)
		p.cancel()
	})
}

func (p *Pipe) Messages() <-chan Message {
	return p.ch
}

func (p *Pipe) Cancel() {
	p.cancel()
}

// Failed returns a stream which ends immediately with err.
func Failed(err error) Stream {
	p := NewPipe(context.Background())
	go func() {
		defer p.Close()
		p.Fail(err)
	}()
	return p
}
