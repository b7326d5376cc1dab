// Package syncctl keeps a collection of resources in sync with the backend,
// by streaming events or by polling, and publishes snapshots of it.
package syncctl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/collection"
	xe "github.com/opst/modelsync/pkg/errors"
	"github.com/opst/modelsync/pkg/eventstream"
	"github.com/opst/modelsync/pkg/logger"
	"github.com/opst/modelsync/pkg/metrics"
	"github.com/opst/modelsync/pkg/namespaces"
	"github.com/opst/modelsync/pkg/poller"
)

type State string

const (
	Idle      State = "idle"
	Streaming State = "streaming"
	Polling   State = "polling"
)

var (
	ErrNoSource    = errors.New("no source for the kind")
	ErrNotPolling  = errors.New("controller is not polling")
	ErrNotSyncing  = errors.New("controller is not synchronizing")
	ErrSingleScope = errors.New("a single resource can be synchronized only in a single namespace")
)

// Source provides resources of a kind.
//
// Watch and WatchOne should return without waiting for events;
// events are read from the stream in another goroutine.
type Source interface {
	Kind() resources.Kind

	List(ctx context.Context, namespace string) ([]resources.Resource, error)

	// Get returns a resource. When it is not found, the error should be ErrNotFound.
	Get(ctx context.Context, namespace, name string) (resources.Resource, error)

	// Watch opens a stream of resources in namespace.
	//
	// If the source cannot stream, it returns ErrStreamUnsupported.
	Watch(ctx context.Context, namespace string) (eventstream.Stream, error)

	// WatchOne opens a stream of a resource.
	WatchOne(ctx context.Context, namespace, name string) (eventstream.Stream, error)
}

type Config struct {
	// PreferStream makes the controller stream events when the source can.
	// Otherwise, it polls.
	PreferStream bool

	Poll poller.Config
}

// Target is what a controller is synchronizing.
type Target struct {
	Kind  resources.Kind
	Scope namespaces.Scope

	// Name of the resource, when a single resource is synchronized.
	Name string
}

func (t Target) String() string {
	if t.Name != "" {
		return fmt.Sprintf("%s %s in %s", t.Kind, t.Name, t.Scope)
	}
	return fmt.Sprintf("%s in %s", t.Kind, t.Scope)
}

// Snapshot is an immutable view of the collection.
type Snapshot struct {
	Generation uint64
	Target     Target
	State      State
	Entries    []collection.Entry
}

// Lookup returns the entry for key in the snapshot.
func (s Snapshot) Lookup(key resources.Key) (collection.Entry, bool) {
	for _, e := range s.Entries {
		if e.Key == key {
			return e, true
		}
	}
	return collection.Entry{}, false
}

type handle struct {
	generation uint64
	cancel     context.CancelFunc
}

// Controller owns a collection and at most one data source feeding it.
//
// Every data source is tagged with the generation it is started for.
// Starting another source increments the generation, and results from
// older generations are dropped.
type Controller struct {
	mux sync.Mutex

	sources map[resources.Kind]Source
	coord   *namespaces.Coordinator
	conf    Config
	logger  *log.Logger
	metrics *metrics.Metrics

	ctx        context.Context
	generation uint64
	state      State
	target     Target
	coll       *collection.Collection
	handle     *handle

	latest      Snapshot
	subscribers map[int]chan Snapshot
	nextSubId   int
}

type Option func(*Controller) *Controller

func WithLogger(l *log.Logger) Option {
	return func(c *Controller) *Controller {
		c.logger = l
		return c
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) *Controller {
		c.metrics = m
		return c
	}
}

func WithCoordinator(co *namespaces.Coordinator) Option {
	return func(c *Controller) *Controller {
		c.coord = co
		return c
	}
}

func New(conf Config, sources []Source, opts ...Option) *Controller {
	c := &Controller{
		sources:     map[resources.Kind]Source{},
		conf:        conf,
		logger:      logger.Null(),
		state:       Idle,
		subscribers: map[int]chan Snapshot{},
	}
	for _, s := range sources {
		c.sources[s.Kind()] = s
	}
	for _, o := range opts {
		c = o(c)
	}
	if c.coord == nil {
		c.coord = namespaces.NewCoordinator(namespaces.WithLogger(c.logger))
	}
	return c
}

type syncOptions struct {
	name string
}

type SyncOption func(*syncOptions) *syncOptions

// ForResource restricts synchronization to a resource.
func ForResource(name string) SyncOption {
	return func(o *syncOptions) *syncOptions {
		o.name = name
		return o
	}
}

// StartSync starts synchronizing resources of kind in scope.
//
// The current data source, if any, is cancelled, and the collection is
// replaced with an empty one under a new generation.
// Data sources live until Stop, the next StartSync, or ctx is done.
func (c *Controller) StartSync(ctx context.Context, kind resources.Kind, scope namespaces.Scope, opts ...SyncOption) error {
	so := &syncOptions{}
	for _, o := range opts {
		so = o(so)
	}

	if _, ok := c.sources[kind]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSource, kind)
	}
	if scope.IsZero() {
		return namespaces.ErrEmptyScope
	}
	if so.name != "" && scope.Mode != namespaces.Single {
		return ErrSingleScope
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	c.cancelLocked()
	c.ctx = ctx
	c.target = Target{Kind: kind, Scope: scope, Name: so.name}
	c.coll = collection.New(kind)

	if c.conf.PreferStream {
		c.startStreamLocked()
	} else {
		c.startPollLocked()
	}
	c.publishLocked()
	return nil
}

// Resubscribe switches from polling back to streaming.
func (c *Controller) Resubscribe() error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.state != Polling {
		return fmt.Errorf("%w (state: %s)", ErrNotPolling, c.state)
	}
	c.cancelLocked()
	c.startStreamLocked()
	c.publishLocked()
	return nil
}

// Stop stops synchronization and discards the collection.
func (c *Controller) Stop() {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.state == Idle {
		return
	}
	c.cancelLocked()
	c.state = Idle
	if c.coll != nil {
		c.coll = collection.New(c.coll.Kind())
	}
	c.publishLocked()
}

func (c *Controller) State() State {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.state
}

func (c *Controller) Target() Target {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.target
}

func (c *Controller) Generation() uint64 {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.generation
}

// Snapshot returns the latest snapshot.
func (c *Controller) Snapshot() Snapshot {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.latest
}

// Get returns a resource in the collection.
func (c *Controller) Get(key resources.Key) (resources.Resource, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.coll == nil {
		return resources.Resource{}, false
	}
	return c.coll.Get(key)
}

// Subscribe returns a channel of snapshots, and a function to unsubscribe.
//
// The channel holds only the latest snapshot; consumers slower than updates skip
// intermediate snapshots. The latest snapshot at subscription is sent first.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.mux.Lock()
	defer c.mux.Unlock()

	id := c.nextSubId
	c.nextSubId += 1
	ch := make(chan Snapshot, 1)
	ch <- c.latest
	c.subscribers[id] = ch

	once := sync.Once{}
	return ch, func() {
		once.Do(func() {
			c.mux.Lock()
			defer c.mux.Unlock()
			delete(c.subscribers, id)
			close(ch)
		})
	}
}

// SetPendingStatus overrides the status of a resource until the next event about it.
func (c *Controller) SetPendingStatus(key resources.Key, s resources.UIStatus) bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.coll == nil || !c.coll.SetPending(key, s) {
		return false
	}
	c.publishLocked()
	return true
}

// ClearPendingStatus removes the override set by SetPendingStatus.
func (c *Controller) ClearPendingStatus(key resources.Key) bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.coll == nil || !c.coll.ClearPending(key) {
		return false
	}
	c.publishLocked()
	return true
}

// ApplyEvent applies an event tagged with generation.
//
// It returns false when the event is dropped because generation is not current.
// ERROR events make a streaming controller fall back to polling.
func (c *Controller) ApplyEvent(generation uint64, ev resources.WatchEvent) bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.applyLocked(generation, ev)
}

func (c *Controller) applyLocked(generation uint64, evs ...resources.WatchEvent) bool {
	kind := string(c.target.Kind)
	if generation != c.generation || c.state == Idle {
		c.metrics.StaleDropped(kind)
		return false
	}

	changed := false
	for _, ev := range evs {
		if ev.Type == resources.EventError {
			c.failoverLocked(xe.New(
				fmt.Sprintf("event stream reported an error: %s", ev.Message),
				xe.WithKind(xe.ErrTransport),
			))
			break
		}
		if err := c.coll.Apply(ev); err != nil {
			c.logger.Printf("event is ignored: %s: %s", ev, err)
			continue
		}
		c.metrics.EventApplied(kind, string(ev.Type))
		changed = true
	}
	if changed {
		c.publishLocked()
	}
	return true
}

func (c *Controller) cancelLocked() {
	if c.handle != nil {
		c.handle.cancel()
		c.handle = nil
	}
	c.generation += 1
}

func (c *Controller) failoverLocked(reason error) {
	if c.state != Streaming {
		return
	}
	c.logger.Printf("streaming %s is failed. falling back to polling: %s", c.target, reason)
	c.metrics.Failover(string(c.target.Kind))
	c.cancelLocked()
	c.startPollLocked()
	c.publishLocked()
}

func (c *Controller) startStreamLocked() {
	src := c.sources[c.target.Kind]
	target := c.target
	gen := c.generation

	ctx, cancel := context.WithCancel(c.ctx)

	var stream eventstream.Stream
	var err error
	if target.Name != "" {
		ns, _ := target.Scope.Namespace()
		stream, err = src.WatchOne(ctx, ns, target.Name)
	} else {
		stream, err = c.coord.Watch(ctx, target.Scope, src.Watch)
	}
	if err != nil {
		cancel()
		if errors.Is(err, xe.ErrStreamUnsupported) {
			c.logger.Printf("%s cannot be streamed. polling.", target)
		} else {
			c.logger.Printf("cannot open event stream for %s. polling: %s", target, err)
		}
		c.startPollLocked()
		return
	}

	c.handle = &handle{generation: gen, cancel: func() {
		stream.Cancel()
		cancel()
	}}
	c.state = Streaming
	go c.consume(gen, stream)
}

func (c *Controller) consume(gen uint64, stream eventstream.Stream) {
	defer stream.Cancel()

	for m := range stream.Messages() {
		if m.Err != nil {
			c.streamFailed(gen, m.Err)
			return
		}
		if !c.ApplyEvent(gen, m.Event) {
			return
		}
	}
	c.streamFailed(gen, xe.New("event stream is closed", xe.WithKind(xe.ErrTransport)))
}

func (c *Controller) streamFailed(gen uint64, err error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if gen != c.generation {
		return
	}
	if c.ctx.Err() != nil {
		c.cancelLocked()
		c.state = Idle
		c.publishLocked()
		return
	}
	c.failoverLocked(err)
}

func (c *Controller) startPollLocked() {
	src := c.sources[c.target.Kind]
	target := c.target
	gen := c.generation

	ctx, cancel := context.WithCancel(c.ctx)
	poller.Start(
		ctx, c.conf.Poll,
		func(ctx context.Context) error { return c.poll(ctx, gen, src, target) },
		poller.WithLogger(c.logger),
	)
	c.handle = &handle{generation: gen, cancel: cancel}
	c.state = Polling
}

func (c *Controller) poll(ctx context.Context, gen uint64, src Source, target Target) error {
	events, err := c.fetch(ctx, src, target)
	if err != nil {
		c.metrics.PollFailed(string(target.Kind))
		return err
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	c.applyLocked(gen, events...)
	return nil
}

// fetch lists resources of target, as INITIAL events.
func (c *Controller) fetch(ctx context.Context, src Source, target Target) ([]resources.WatchEvent, error) {
	if target.Name != "" {
		ns, _ := target.Scope.Namespace()
		r, err := src.Get(ctx, ns, target.Name)
		if errors.Is(err, xe.ErrNotFound) {
			return []resources.WatchEvent{resources.Initial()}, nil
		}
		if err != nil {
			return nil, err
		}
		return []resources.WatchEvent{resources.Initial(r)}, nil
	}

	merged, err := c.coord.List(ctx, target.Scope, src.List)
	if err != nil {
		return nil, err
	}

	if target.Scope.Mode == namespaces.Single {
		return []resources.WatchEvent{resources.Initial(merged.Items()...)}, nil
	}

	// a failing namespace contributes nothing until it succeeds again.
	events := []resources.WatchEvent{}
	for _, ns := range merged.Namespaces {
		events = append(events, resources.InitialIn(ns, merged.ByNamespace[ns]...))
	}
	for _, f := range merged.Failures {
		events = append(events, resources.InitialIn(f.Namespace))
	}
	return events, nil
}

func (c *Controller) publishLocked() {
	entries := []collection.Entry{}
	if c.coll != nil {
		entries = c.coll.Snapshot()
	}
	snap := Snapshot{
		Generation: c.generation,
		Target:     c.target,
		State:      c.state,
		Entries:    entries,
	}
	c.latest = snap
	c.metrics.Entries(string(c.target.Kind), len(entries))

	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
