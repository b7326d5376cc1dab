package namespaces_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/eventstream"
	"github.com/opst/modelsync/pkg/namespaces"
	"github.com/opst/modelsync/pkg/utils/try"
)

func named(name string) resources.Resource {
	r := resources.Resource{}
	r.Name = name
	return r
}

func TestResolveScope(t *testing.T) {
	t.Run("when one namespace is given, it is Single", func(t *testing.T) {
		s := try.To(namespaces.ResolveScope("kf", " kf ", "")).OrFatal(t)
		if s.Mode != namespaces.Single {
			t.Errorf("unexpected mode: %s", s.Mode)
		}
		if ns, ok := s.Namespace(); !ok || ns != "kf" {
			t.Errorf("unexpected namespace: %s, %v", ns, ok)
		}
	})

	t.Run("when namespaces are given, it is Multi with sorted namespaces", func(t *testing.T) {
		s := try.To(namespaces.ResolveScope("b", "a", "b")).OrFatal(t)
		if s.Mode != namespaces.Multi {
			t.Errorf("unexpected mode: %s", s.Mode)
		}
		if l := s.List(); !slices.Equal(l, []string{"a", "b"}) {
			t.Errorf("unexpected namespaces: %v", l)
		}
		if _, ok := s.Namespace(); ok {
			t.Error("Multi scope should not have the namespace")
		}
		if !s.Equal(namespaces.MustResolve("a", "b")) {
			t.Error("scopes should be equal")
		}
		if s.Equal(namespaces.MustResolve("a")) {
			t.Error("scopes should not be equal")
		}
	})

	t.Run("when no namespaces are given, it is an error", func(t *testing.T) {
		if _, err := namespaces.ResolveScope(" "); !errors.Is(err, namespaces.ErrEmptyScope) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestCoordinator_List(t *testing.T) {
	t.Run("when a namespace of Multi scope fails, others are still listed", func(t *testing.T) {
		failure := errors.New("forbidden")
		testee := namespaces.NewCoordinator()

		merged, err := testee.List(
			context.Background(),
			namespaces.MustResolve("a", "b", "c"),
			func(ctx context.Context, ns string) ([]resources.Resource, error) {
				switch ns {
				case "b":
					return nil, failure
				default:
					return []resources.Resource{named(ns + "-1"), named(ns + "-2")}, nil
				}
			},
		)
		if err != nil {
			t.Fatal(err)
		}

		names := []string{}
		for _, r := range merged.Items() {
			names = append(names, r.Namespace+"/"+r.Name)
		}
		expected := []string{"a/a-1", "a/a-2", "c/c-1", "c/c-2"}
		if !slices.Equal(names, expected) {
			t.Errorf("(actual, expected) = (%v, %v)", names, expected)
		}

		if len(merged.Failures) != 1 || merged.Failures[0].Namespace != "b" || !errors.Is(merged.Failures[0], failure) {
			t.Errorf("unexpected failures: %+v", merged.Failures)
		}
	})

	t.Run("when all namespaces fail, it is an error", func(t *testing.T) {
		failure := errors.New("unreachable")
		_, err := namespaces.NewCoordinator().List(
			context.Background(),
			namespaces.MustResolve("a", "b"),
			func(ctx context.Context, ns string) ([]resources.Resource, error) {
				return nil, failure
			},
		)
		if !errors.Is(err, failure) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("when Single scope fails, it is an error", func(t *testing.T) {
		failure := errors.New("unreachable")
		_, err := namespaces.NewCoordinator().List(
			context.Background(),
			namespaces.MustResolve("a"),
			func(ctx context.Context, ns string) ([]resources.Resource, error) {
				return nil, failure
			},
		)
		if !errors.Is(err, failure) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("it does not exceed the concurrency limit", func(t *testing.T) {
		mux := sync.Mutex{}
		running, peak := 0, 0

		_, err := namespaces.NewCoordinator(namespaces.WithConcurrency(2)).List(
			context.Background(),
			namespaces.MustResolve("a", "b", "c", "d", "e"),
			func(ctx context.Context, ns string) ([]resources.Resource, error) {
				mux.Lock()
				running += 1
				peak = max(peak, running)
				mux.Unlock()

				time.Sleep(5 * time.Millisecond)

				mux.Lock()
				running -= 1
				mux.Unlock()
				return nil, nil
			},
		)
		if err != nil {
			t.Fatal(err)
		}
		if 2 < peak {
			t.Errorf("too many requests at once: %d", peak)
		}
	})
}

func TestCoordinator_Watch(t *testing.T) {
	receive := func(t *testing.T, s eventstream.Stream) (eventstream.Message, bool) {
		t.Helper()
		select {
		case m, ok := <-s.Messages():
			return m, ok
		case <-time.After(time.Second):
			t.Fatal("no message")
			return eventstream.Message{}, false
		}
	}

	t.Run("INITIAL events are tagged with their namespace", func(t *testing.T) {
		pipes := map[string]*eventstream.Pipe{}
		mux := sync.Mutex{}

		merged := try.To(namespaces.NewCoordinator().Watch(
			context.Background(),
			namespaces.MustResolve("a", "b"),
			func(ctx context.Context, ns string) (eventstream.Stream, error) {
				p := eventstream.NewPipe(ctx)
				mux.Lock()
				defer mux.Unlock()
				pipes[ns] = p
				return p, nil
			},
		)).OrFatal(t)
		defer merged.Cancel()

		go pipes["b"].Send(eventstream.Message{Event: resources.Initial(named("m1"))})
		m, _ := receive(t, merged)
		if m.Event.Type != resources.EventInitial || m.Event.Namespace != "b" {
			t.Errorf("unexpected message: %+v", m)
		}

		added := named("m2")
		go pipes["a"].Send(eventstream.Message{Event: resources.WatchEvent{Type: resources.EventAdded, Object: &added}})
		m, _ = receive(t, merged)
		if m.Event.Type != resources.EventAdded || m.Event.Namespace != "" {
			t.Errorf("unexpected message: %+v", m)
		}
	})

	t.Run("when a stream fails, the merged stream fails and others are cancelled", func(t *testing.T) {
		pipes := map[string]*eventstream.Pipe{}
		mux := sync.Mutex{}

		merged := try.To(namespaces.NewCoordinator().Watch(
			context.Background(),
			namespaces.MustResolve("a", "b"),
			func(ctx context.Context, ns string) (eventstream.Stream, error) {
				p := eventstream.NewPipe(ctx)
				mux.Lock()
				defer mux.Unlock()
				pipes[ns] = p
				return p, nil
			},
		)).OrFatal(t)
		defer merged.Cancel()

		failure := errors.New("lost")
		go func() {
			defer pipes["a"].Close()
			pipes["a"].Fail(failure)
		}()

		m, _ := receive(t, merged)
		if !errors.Is(m.Err, failure) {
			t.Errorf("unexpected message: %+v", m)
		}
		if _, ok := receive(t, merged); ok {
			t.Error("merged stream is not closed")
		}

		select {
		case <-pipes["b"].Context().Done():
		case <-time.After(time.Second):
			t.Error("other stream is not cancelled")
		}
	})

	t.Run("when a stream cannot be opened, opened ones are cancelled", func(t *testing.T) {
		var opened *eventstream.Pipe
		failure := errors.New("not supported")

		_, err := namespaces.NewCoordinator().Watch(
			context.Background(),
			namespaces.MustResolve("a", "b"),
			func(ctx context.Context, ns string) (eventstream.Stream, error) {
				if ns == "b" {
					return nil, failure
				}
				opened = eventstream.NewPipe(ctx)
				return opened, nil
			},
		)
		if !errors.Is(err, failure) {
			t.Fatalf("unexpected error: %v", err)
		}
		select {
		case <-opened.Context().Done():
		default:
			t.Error("opened stream is not cancelled")
		}
	})
}
