// Package sse subscribes streams of watch events, and feeds of other values, served as text/event-stream.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/opst/modelsync/pkg/api/types/resources"
	xe "github.com/opst/modelsync/pkg/errors"
	"github.com/opst/modelsync/pkg/eventstream"
	"github.com/opst/modelsync/pkg/logger"
	"github.com/opst/modelsync/pkg/utils/retry"
)

const (
	DefaultMaxAttempts    = 3
	DefaultReconnectDelay = time.Second
)

// Dialer opens a connection to an event stream.
type Dialer interface {
	// Dial connects to endpoint and returns the body of text/event-stream.
	//
	// lastEventID is the id of the last frame received, or empty.
	Dial(ctx context.Context, endpoint string, lastEventID string) (io.ReadCloser, error)
}

// HTTPDialer dials event streams with GET requests.
type HTTPDialer struct {
	Client *http.Client

	// Prepare is called for each request before sending, to set headers for example.
	Prepare func(*http.Request) error
}

func (d HTTPDialer) Dial(ctx context.Context, endpoint string, lastEventID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	if d.Prepare != nil {
		if err := d.Prepare(req); err != nil {
			return nil, err
		}
	}

	hc := d.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, xe.Transport(fmt.Sprintf("cannot connect to %s", endpoint), err)
	}
	if resp.StatusCode < 200 || 300 <= resp.StatusCode {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, xe.New(
			fmt.Sprintf("event stream responded with status %d", resp.StatusCode),
			xe.WithKind(xe.ErrTransport),
			xe.WithStatus(resp.StatusCode),
			xe.WithDetailText(string(body)),
		)
	}
	return resp.Body, nil
}

type options struct {
	logger         *log.Logger
	maxAttempts    int
	reconnectDelay time.Duration
}

type Option func(*options) *options

func WithLogger(l *log.Logger) Option {
	return func(o *options) *options {
		o.logger = l
		return o
	}
}

// WithMaxAttempts sets how many consecutive connection failures end the subscription.
//
// The count is reset on every message delivered.
func WithMaxAttempts(n int) Option {
	return func(o *options) *options {
		if 0 < n {
			o.maxAttempts = n
		}
		return o
	}
}

// WithReconnectDelay sets the delay before reconnecting.
// A "retry:" field sent by the server overrides it.
func WithReconnectDelay(d time.Duration) Option {
	return func(o *options) *options {
		o.reconnectDelay = d
		return o
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:         logger.Null(),
		maxAttempts:    DefaultMaxAttempts,
		reconnectDelay: DefaultReconnectDelay,
	}
	for _, opt := range opts {
		o = opt(o)
	}
	return o
}

// Subscription is a Stream of watch events from a text/event-stream endpoint.
type Subscription struct {
	*eventstream.Pipe

	endpoint string
}

func (s *Subscription) Endpoint() string {
	return s.endpoint
}

// Subscribe connects to endpoint and starts delivering events.
//
// Heartbeats (frames without data) are discarded.
// When the connection is lost, it reconnects. After MaxAttempts consecutive failures
// without any message delivered in between, it sends one error of ErrTransport and ends.
// A malformed frame ends the subscription with an error of ErrDecode, without reconnecting.
func Subscribe(ctx context.Context, dialer Dialer, endpoint string, opts ...Option) *Subscription {
	s := &Subscription{Pipe: eventstream.NewPipe(ctx), endpoint: endpoint}
	c := &connection{
		endpoint: endpoint,
		dialer:   dialer,
		options:  newOptions(opts),
		deliver: func(data []byte) (bool, error) {
			ev, err := decode[resources.WatchEvent](data)
			if err != nil {
				return false, err
			}
			return s.Send(eventstream.Message{Event: ev}), nil
		},
		fail: func(err error) { s.Fail(err) },
	}
	go func() {
		defer s.Close()
		c.run(s.Context())
	}()
	return s
}

// Frame is a value carried in data of frames.
type Frame interface {
	Validate() error
}

// Feed is a Feed of values from a text/event-stream endpoint.
type Feed[T Frame] struct {
	*eventstream.FeedPipe[T]

	endpoint string
}

func (f *Feed[T]) Endpoint() string {
	return f.endpoint
}

// SubscribeFeed connects to endpoint and starts delivering values of T,
// decoded from data of each frame as JSON.
//
// Reconnection and errors are the same as Subscribe.
func SubscribeFeed[T Frame](ctx context.Context, dialer Dialer, endpoint string, opts ...Option) *Feed[T] {
	f := &Feed[T]{FeedPipe: eventstream.NewFeedPipe[T](ctx), endpoint: endpoint}
	c := &connection{
		endpoint: endpoint,
		dialer:   dialer,
		options:  newOptions(opts),
		deliver: func(data []byte) (bool, error) {
			v, err := decode[T](data)
			if err != nil {
				return false, err
			}
			return f.Send(v), nil
		},
		fail: func(err error) { f.Fail(err) },
	}
	go func() {
		defer f.Close()
		c.run(f.Context())
	}()
	return f
}

func decode[T Frame](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, xe.Decode("malformed event frame", err)
	}
	if err := v.Validate(); err != nil {
		return v, xe.Decode("malformed event frame", err)
	}
	return v, nil
}

// connection keeps reading an endpoint, reconnecting on failures.
type connection struct {
	endpoint string
	dialer   Dialer
	*options

	// deliver passes data of a frame to the consumer.
	// It returns false when the consumer has gone, or an error of ErrDecode.
	deliver func(data []byte) (bool, error)

	// fail sends the terminal error.
	fail func(error)
}

type session struct {
	attempts    int
	delay       time.Duration
	lastEventID string
}

func (c *connection) run(ctx context.Context) {
	ss := &session{delay: c.reconnectDelay}
	for {
		err := c.listen(ctx, ss)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, xe.ErrDecode) {
			c.fail(err)
			return
		}

		ss.attempts += 1
		if c.maxAttempts <= ss.attempts {
			c.fail(xe.New(
				fmt.Sprintf("event stream is lost after %d attempts", ss.attempts),
				xe.WithKind(xe.ErrTransport),
				xe.WithCause(err),
				xe.WithVerbose(c.endpoint),
			))
			return
		}

		c.logger.Printf(
			"event stream %s is interrupted (attempt %d/%d). reconnecting in %s: %s",
			c.endpoint, ss.attempts, c.maxAttempts, ss.delay, err,
		)
		if err := retry.Wait(ctx, ss.delay); err != nil {
			return
		}
	}
}

// listen reads one connection until it ends. The returned error is never nil.
func (c *connection) listen(ctx context.Context, ss *session) error {
	body, err := c.dialer.Dial(ctx, c.endpoint, ss.lastEventID)
	if err != nil {
		return err
	}
	defer body.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			body.Close()
		case <-stop:
		}
	}()

	r := NewReader(body)
	for {
		f, err := r.Next()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return xe.Transport("event stream is closed", err)
		}

		if f.HasRetry {
			ss.delay = f.Retry
		}
		if f.ID != "" {
			ss.lastEventID = f.ID
		}
		if f.Heartbeat() {
			continue
		}

		ok, err := c.deliver([]byte(f.Data))
		if err != nil {
			return err
		}
		if !ok {
			return ctx.Err()
		}
		ss.attempts = 0
	}
}
