package namespaces

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/eventstream"
	"github.com/opst/modelsync/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Lister lists resources in a namespace.
type Lister func(ctx context.Context, namespace string) ([]resources.Resource, error)

// Failure is an error of a namespace in a Multi scope.
type Failure struct {
	Namespace string
	Err       error
}

func (f Failure) Error() string {
	return fmt.Sprintf("namespace %s: %s", f.Namespace, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Merged is a result of listing resources over a scope.
type Merged struct {
	// Namespaces succeeded, sorted.
	Namespaces []string

	// ByNamespace has resources for each succeeded namespace.
	ByNamespace map[string][]resources.Resource

	// Failures are namespaces which could not be listed.
	Failures []Failure
}

// Items returns all resources, ordered by namespace.
func (m Merged) Items() []resources.Resource {
	items := []resources.Resource{}
	for _, ns := range m.Namespaces {
		items = append(items, m.ByNamespace[ns]...)
	}
	return items
}

// Coordinator fans requests and streams out to namespaces.
type Coordinator struct {
	limit  int
	logger *log.Logger
}

type Option func(*Coordinator) *Coordinator

// WithConcurrency limits requests in flight at once. Values smaller than 1 mean no limit.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) *Coordinator {
		c.limit = n
		return c
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) *Coordinator {
		c.logger = l
		return c
	}
}

func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{limit: 8, logger: logger.Null()}
	for _, o := range opts {
		c = o(c)
	}
	return c
}

// List lists resources in every namespace of scope.
//
// For a Single scope, an error of the lister is returned as is.
//
// For a Multi scope, namespaces are listed concurrently. A failing namespace
// is reported in Merged.Failures and contributes nothing; List returns an error
// only when all namespaces failed.
//
// Resources without namespace are tagged with the namespace they were listed in.
func (c *Coordinator) List(ctx context.Context, scope Scope, lister Lister) (Merged, error) {
	if scope.IsZero() {
		return Merged{}, ErrEmptyScope
	}

	namespaces := scope.List()
	results := make([][]resources.Resource, len(namespaces))
	errs := make([]error, len(namespaces))

	if scope.Mode == Single {
		items, err := lister(ctx, namespaces[0])
		if err != nil {
			return Merged{}, err
		}
		results[0] = items
	} else {
		g := errgroup.Group{}
		if 0 < c.limit {
			g.SetLimit(c.limit)
		}
		for nth, ns := range namespaces {
			g.Go(func() error {
				items, err := lister(ctx, ns)
				if err != nil {
					errs[nth] = err
					return nil
				}
				results[nth] = items
				return nil
			})
		}
		g.Wait()
	}

	merged := Merged{ByNamespace: map[string][]resources.Resource{}}
	for nth, ns := range namespaces {
		if errs[nth] != nil {
			c.logger.Printf("cannot list resources in namespace %s: %s", ns, errs[nth])
			merged.Failures = append(merged.Failures, Failure{Namespace: ns, Err: errs[nth]})
			continue
		}
		items := make([]resources.Resource, len(results[nth]))
		for i, r := range results[nth] {
			if r.Namespace == "" {
				r.Namespace = ns
			}
			items[i] = r
		}
		merged.Namespaces = append(merged.Namespaces, ns)
		merged.ByNamespace[ns] = items
	}

	if len(merged.Namespaces) == 0 {
		failures := make([]error, len(merged.Failures))
		for i := range merged.Failures {
			failures[i] = merged.Failures[i]
		}
		return merged, fmt.Errorf("all namespaces failed: %w", errors.Join(failures...))
	}
	return merged, nil
}

// Watch opens a stream for each namespace of scope, and merges them into one.
//
// For a Single scope, the stream is returned as is.
//
// For a Multi scope, INITIAL events are tagged with their namespace, so that
// they replace only resources in the namespace. When any of streams ends with
// an error, the merged stream passes the error and ends; other streams are cancelled.
// If a stream cannot be opened, streams already opened are cancelled and the error is returned.
func (c *Coordinator) Watch(ctx context.Context, scope Scope, open eventstream.Opener) (eventstream.Stream, error) {
	if scope.IsZero() {
		return nil, ErrEmptyScope
	}

	if ns, ok := scope.Namespace(); ok {
		return open(ctx, ns)
	}

	out := eventstream.NewPipe(ctx)

	type opened struct {
		namespace string
		stream    eventstream.Stream
	}
	streams := []opened{}
	for _, ns := range scope.List() {
		s, err := open(out.Context(), ns)
		if err != nil {
			for _, o := range streams {
				o.stream.Cancel()
			}
			out.Cancel()
			return nil, Failure{Namespace: ns, Err: err}
		}
		streams = append(streams, opened{namespace: ns, stream: s})
	}

	wg := sync.WaitGroup{}
	once := sync.Once{}
	for _, o := range streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-out.Context().Done():
					return
				case m, ok := <-o.stream.Messages():
					if !ok {
						return
					}
					if m.Err != nil {
						once.Do(func() {
							out.Fail(Failure{Namespace: o.namespace, Err: m.Err})
							out.Cancel()
						})
						return
					}
					if m.Event.Type == resources.EventInitial {
						m.Event.Namespace = o.namespace
					}
					if !out.Send(m) {
						return
					}
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		for _, o := range streams {
			o.stream.Cancel()
		}
		out.Close()
	}()

	return out, nil
}
