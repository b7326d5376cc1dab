// Package mock provides rest.Client and rest.ResourceClient for tests.
//
// Mocks are safe to be called from multiple goroutines. Calls are recorded;
// read them with Recorded() while other goroutines may call the mock.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/opst/modelsync/pkg/api/types/backend"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/eventstream"
	"github.com/opst/modelsync/pkg/rest"
	corev1 "k8s.io/api/core/v1"
)

// ErrNotReady is returned when a method without implementation is called.
var ErrNotReady = errors.New("mock: method is not ready to be called")

type NamespacedName struct {
	Namespace string
	Name      string
}

type WriteArgs struct {
	Namespace string
	Name      string
	Resource  resources.Resource
}

type ResourceClientCalls struct {
	List     []string
	Get      []NamespacedName
	Create   []WriteArgs
	Update   []WriteArgs
	Delete   []NamespacedName
	Events   []NamespacedName
	Watch    []string
	WatchOne []NamespacedName

	WatchEvents []NamespacedName
	WatchLogs   []WatchLogsArgs
}

type WatchLogsArgs struct {
	Namespace  string
	Name       string
	Components []string
}

type MockResourceClient struct {
	t    *testing.T
	kind resources.Kind
	mu   sync.Mutex

	Impl struct {
		List     func(ctx context.Context, namespace string) ([]resources.Resource, error)
		Get      func(ctx context.Context, namespace, name string) (resources.Resource, error)
		Create   func(ctx context.Context, namespace string, resource resources.Resource) error
		Update   func(ctx context.Context, namespace, name string, resource resources.Resource) error
		Delete   func(ctx context.Context, namespace, name string) error
		Events   func(ctx context.Context, namespace, name string) ([]corev1.Event, error)
		Watch    func(ctx context.Context, namespace string) (eventstream.Stream, error)
		WatchOne func(ctx context.Context, namespace, name string) (eventstream.Stream, error)

		WatchEvents func(ctx context.Context, namespace, name string) (eventstream.Feed[resources.EventsUpdate], error)
		WatchLogs   func(ctx context.Context, namespace, name string, components ...string) (eventstream.Feed[resources.LogsUpdate], error)
	}

	Calls ResourceClientCalls
}

var _ rest.ResourceClient = &MockResourceClient{}

func NewResourceClient(t *testing.T, kind resources.Kind) *MockResourceClient {
	return &MockResourceClient{t: t, kind: kind}
}

// Recorded returns a copy of calls so far.
func (m *MockResourceClient) Recorded() ResourceClientCalls {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.Calls
	c.List = append([]string{}, c.List...)
	c.Get = append([]NamespacedName{}, c.Get...)
	c.Create = append([]WriteArgs{}, c.Create...)
	c.Update = append([]WriteArgs{}, c.Update...)
	c.Delete = append([]NamespacedName{}, c.Delete...)
	c.Events = append([]NamespacedName{}, c.Events...)
	c.Watch = append([]string{}, c.Watch...)
	c.WatchOne = append([]NamespacedName{}, c.WatchOne...)
	c.WatchEvents = append([]NamespacedName{}, c.WatchEvents...)
	c.WatchLogs = append([]WatchLogsArgs{}, c.WatchLogs...)
	return c
}

func (m *MockResourceClient) notReady(method string) error {
	// Errorf instead of Fatal: mocks are called from goroutines of testees.
	m.t.Errorf("%s.%s is not ready to be called", m.kind, method)
	return fmt.Errorf("%w: %s", ErrNotReady, method)
}

func (m *MockResourceClient) Kind() resources.Kind {
	return m.kind
}

func (m *MockResourceClient) List(ctx context.Context, namespace string) ([]resources.Resource, error) {
	m.mu.Lock()
	m.Calls.List = append(m.Calls.List, namespace)
	impl := m.Impl.List
	m.mu.Unlock()

	if impl == nil {
		return nil, m.notReady("List")
	}
	return impl(ctx, namespace)
}

func (m *MockResourceClient) Get(ctx context.Context, namespace, name string) (resources.Resource, error) {
	m.mu.Lock()
	m.Calls.Get = append(m.Calls.Get, NamespacedName{Namespace: namespace, Name: name})
	impl := m.Impl.Get
	m.mu.Unlock()

	if impl == nil {
		return resources.Resource{}, m.notReady("Get")
	}
	return impl(ctx, namespace, name)
}

func (m *MockResourceClient) Create(ctx context.Context, namespace string, resource resources.Resource) error {
	m.mu.Lock()
	m.Calls.Create = append(m.Calls.Create, WriteArgs{Namespace: namespace, Name: resource.Name, Resource: resource})
	impl := m.Impl.Create
	m.mu.Unlock()

	if impl == nil {
		return m.notReady("Create")
	}
	return impl(ctx, namespace, resource)
}

func (m *MockResourceClient) Update(ctx context.Context, namespace, name string, resource resources.Resource) error {
	m.mu.Lock()
	m.Calls.Update = append(m.Calls.Update, WriteArgs{Namespace: namespace, Name: name, Resource: resource})
	impl := m.Impl.Update
	m.mu.Unlock()

	if impl == nil {
		return m.notReady("Update")
	}
	return impl(ctx, namespace, name, resource)
}

func (m *MockResourceClient) Delete(ctx context.Context, namespace, name string) error {
	m.mu.Lock()
	m.Calls.Delete = append(m.Calls.Delete, NamespacedName{Namespace: namespace, Name: name})
	impl := m.Impl.Delete
	m.mu.Unlock()

	if impl == nil {
		return m.notReady("Delete")
	}
	return impl(ctx, namespace, name)
}

func (m *MockResourceClient) Events(ctx context.Context, namespace, name string) ([]corev1.Event, error) {
	m.mu.Lock()
	m.Calls.Events = append(m.Calls.Events, NamespacedName{Namespace: namespace, Name: name})
	impl := m.Impl.Events
	m.mu.Unlock()

	if impl == nil {
		return nil, m.notReady("Events")
	}
	return impl(ctx, namespace, name)
}

func (m *MockResourceClient) Watch(ctx context.Context, namespace string) (eventstream.Stream, error) {
	m.mu.Lock()
	m.Calls.Watch = append(m.Calls.Watch, namespace)
	impl := m.Impl.Watch
	m.mu.Unlock()

	if impl == nil {
		return nil, m.notReady("Watch")
	}
	return impl(ctx, namespace)
}

func (m *MockResourceClient) WatchOne(ctx context.Context, namespace, name string) (eventstream.Stream, error) {
	m.mu.Lock()
	m.Calls.WatchOne = append(m.Calls.WatchOne, NamespacedName{Namespace: namespace, Name: name})
	impl := m.Impl.WatchOne
	m.mu.Unlock()

	if impl == nil {
		return nil, m.notReady("WatchOne")
	}
	return impl(ctx, namespace, name)
}

func (m *MockResourceClient) WatchEvents(ctx context.Context, namespace, name string) (eventstream.Feed[resources.EventsUpdate], error) {
	m.mu.Lock()
	m.Calls.WatchEvents = append(m.Calls.WatchEvents, NamespacedName{Namespace: namespace, Name: name})
	impl := m.Impl.WatchEvents
	m.mu.Unlock()

	if impl == nil {
		return nil, m.notReady("WatchEvents")
	}
	return impl(ctx, namespace, name)
}

func (m *MockResourceClient) WatchLogs(ctx context.Context, namespace, name string, components ...string) (eventstream.Feed[resources.LogsUpdate], error) {
	m.mu.Lock()
	m.Calls.WatchLogs = append(m.Calls.WatchLogs, WatchLogsArgs{
		Namespace: namespace, Name: name, Components: append([]string{}, components...),
	})
	impl := m.Impl.WatchLogs
	m.mu.Unlock()

	if impl == nil {
		return nil, m.notReady("WatchLogs")
	}
	return impl(ctx, namespace, name, components...)
}

type MockClient struct {
	t *testing.T

	Impl struct {
		Config     func(ctx context.Context) (backend.AppConfig, error)
		Namespaces func(ctx context.Context) ([]string, error)
	}

	InferenceServices_ *MockResourceClient
	InferenceGraphs_   *MockResourceClient
}

var _ rest.Client = &MockClient{}

func New(t *testing.T) *MockClient {
	return &MockClient{
		t:                  t,
		InferenceServices_: NewResourceClient(t, resources.KindInferenceService),
		InferenceGraphs_:   NewResourceClient(t, resources.KindInferenceGraph),
	}
}

func (m *MockClient) Config(ctx context.Context) (backend.AppConfig, error) {
	if m.Impl.Config == nil {
		m.t.Errorf("Config is not ready to be called")
		return backend.AppConfig{}, ErrNotReady
	}
	return m.Impl.Config(ctx)
}

func (m *MockClient) Namespaces(ctx context.Context) ([]string, error) {
	if m.Impl.Namespaces == nil {
		m.t.Errorf("Namespaces is not ready to be called")
		return nil, ErrNotReady
	}
	return m.Impl.Namespaces(ctx)
}

func (m *MockClient) InferenceServices() rest.ResourceClient {
	return m.InferenceServices_
}

func (m *MockClient) InferenceGraphs() rest.ResourceClient {
	return m.InferenceGraphs_
}

func (m *MockClient) Resources(kind resources.Kind) (rest.ResourceClient, error) {
	switch kind {
	case resources.KindInferenceService:
		return m.InferenceServices_, nil
	case resources.KindInferenceGraph:
		return m.InferenceGraphs_, nil
	default:
		return nil, fmt.Errorf("unknown kind: %q", kind)
	}
}
