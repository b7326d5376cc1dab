package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/opst/modelsync/pkg/api/types/backend"
	"github.com/opst/modelsync/pkg/api/types/resources"
	xe "github.com/opst/modelsync/pkg/errors"
	"github.com/opst/modelsync/pkg/eventstream"
	"github.com/opst/modelsync/pkg/sse"
	corev1 "k8s.io/api/core/v1"
)

// ResourceClient reads and writes resources of a kind.
type ResourceClient interface {
	Kind() resources.Kind

	// List resources in namespace.
	List(ctx context.Context, namespace string) ([]resources.Resource, error)

	// Get a resource.
	//
	// # Returns
	//
	// - error: ErrNotFound when the backend does not know the resource.
	Get(ctx context.Context, namespace, name string) (resources.Resource, error)

	// Create a resource. Errors are ErrMutation.
	Create(ctx context.Context, namespace string, resource resources.Resource) error

	// Update replaces a resource. Errors are ErrMutation.
	Update(ctx context.Context, namespace, name string, resource resources.Resource) error

	// Delete a resource. Errors are ErrMutation.
	Delete(ctx context.Context, namespace, name string) error

	// Events returns Kubernetes events about a resource.
	Events(ctx context.Context, namespace, name string) ([]corev1.Event, error)

	// Watch subscribes changes of resources in namespace.
	//
	// It returns ErrStreamUnsupported when the backend has no stream for the kind.
	Watch(ctx context.Context, namespace string) (eventstream.Stream, error)

	// WatchOne subscribes changes of a resource.
	WatchOne(ctx context.Context, namespace, name string) (eventstream.Stream, error)

	// WatchEvents subscribes Kubernetes events about a resource.
	//
	// The feed starts with an INITIAL update of the events so far.
	// It returns ErrStreamUnsupported when the backend has no stream for the kind.
	WatchEvents(ctx context.Context, namespace, name string) (eventstream.Feed[resources.EventsUpdate], error)

	// WatchLogs subscribes logs of pods of a resource.
	//
	// Each UPDATE carries the latest logs of components.
	// With no components, the backend chooses them.
	// It returns ErrStreamUnsupported when the backend has no stream for the kind.
	WatchLogs(ctx context.Context, namespace, name string, components ...string) (eventstream.Feed[resources.LogsUpdate], error)
}

// MaxLogComponents is the maximum number of components which logs can be watched at once.
const MaxLogComponents = 10

type resourceClient struct {
	*client
	kind       resources.Kind
	streamable bool
}

func (rc *resourceClient) Kind() resources.Kind {
	return rc.kind
}

func (rc *resourceClient) path(namespace string, rest ...string) string {
	return rc.apipath(append([]string{"api", "namespaces", namespace, rc.kind.Plural()}, rest...)...)
}

func (rc *resourceClient) List(ctx context.Context, namespace string) ([]resources.Resource, error) {
	req, err := rc.newRequest(ctx, http.MethodGet, rc.path(namespace), nil)
	if err != nil {
		return nil, err
	}
	resp, err := rc.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	env := backend.Envelope{}
	if err := unmarshalJsonResponse(resp, &env, MessageFor{
		Status4xx: fmt.Sprintf("cannot list %s in %s (client error)", rc.kind, namespace),
		Status5xx: fmt.Sprintf("cannot list %s in %s (server error)", rc.kind, namespace),
	}); err != nil {
		return nil, err
	}
	return env.ItemsOf(rc.kind)
}

func (rc *resourceClient) Get(ctx context.Context, namespace, name string) (resources.Resource, error) {
	req, err := rc.newRequest(ctx, http.MethodGet, rc.path(namespace, name), nil)
	if err != nil {
		return resources.Resource{}, err
	}
	resp, err := rc.do(req)
	if err != nil {
		return resources.Resource{}, err
	}
	defer resp.Body.Close()

	env := backend.Envelope{}
	if err := unmarshalJsonResponse(resp, &env, MessageFor{
		Status4xx: fmt.Sprintf("cannot get %s %s/%s (client error)", rc.kind, namespace, name),
		Status5xx: fmt.Sprintf("cannot get %s %s/%s (server error)", rc.kind, namespace, name),
	}); err != nil {
		return resources.Resource{}, err
	}

	item, err := env.ItemOf(rc.kind)
	if err != nil {
		return resources.Resource{}, err
	}
	if item == nil {
		return resources.Resource{}, xe.New(
			fmt.Sprintf("%s %s/%s is not found", rc.kind, namespace, name),
			xe.WithKind(xe.ErrNotFound),
		)
	}
	return *item, nil
}

func (rc *resourceClient) mutate(ctx context.Context, method string, url string, body any, what string) error {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return xe.New(fmt.Sprintf("cannot %s", what), xe.WithKind(xe.ErrMutation), xe.WithCause(err))
		}
		payload = bytes.NewReader(buf)
	}

	req, err := rc.newRequest(ctx, method, url, payload)
	if err != nil {
		return xe.New(fmt.Sprintf("cannot %s", what), xe.WithKind(xe.ErrMutation), xe.WithCause(err))
	}

	resp, err := rc.do(req)
	if err != nil {
		return xe.New(fmt.Sprintf("cannot %s", what), xe.WithKind(xe.ErrMutation), xe.WithCause(err))
	}
	defer resp.Body.Close()

	if err := discardResponse(resp, MessageFor{
		Status4xx: fmt.Sprintf("cannot %s (client error)", what),
		Status5xx: fmt.Sprintf("cannot %s (server error)", what),
	}); err != nil {
		return xe.New(fmt.Sprintf("cannot %s", what), xe.WithKind(xe.ErrMutation), xe.WithCause(err))
	}
	return nil
}

func (rc *resourceClient) Create(ctx context.Context, namespace string, resource resources.Resource) error {
	return rc.mutate(
		ctx, http.MethodPost, rc.path(namespace), resource,
		fmt.Sprintf("create %s %s/%s", rc.kind, namespace, resource.Name),
	)
}

func (rc *resourceClient) Update(ctx context.Context, namespace, name string, resource resources.Resource) error {
	return rc.mutate(
		ctx, http.MethodPut, rc.path(namespace, name), resource,
		fmt.Sprintf("update %s %s/%s", rc.kind, namespace, name),
	)
}

func (rc *resourceClient) Delete(ctx context.Context, namespace, name string) error {
	rc.logger.Printf("deleting %s %s/%s", rc.kind, namespace, name)
	return rc.mutate(
		ctx, http.MethodDelete, rc.path(namespace, name), nil,
		fmt.Sprintf("delete %s %s/%s", rc.kind, namespace, name),
	)
}

func (rc *resourceClient) Events(ctx context.Context, namespace, name string) ([]corev1.Event, error) {
	req, err := rc.newRequest(ctx, http.MethodGet, rc.path(namespace, name, "events"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := rc.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	env := backend.Envelope{}
	if err := unmarshalJsonResponse(resp, &env, MessageFor{
		Status4xx: fmt.Sprintf("cannot get events of %s %s/%s (client error)", rc.kind, namespace, name),
		Status5xx: fmt.Sprintf("cannot get events of %s %s/%s (server error)", rc.kind, namespace, name),
	}); err != nil {
		return nil, err
	}
	if env.Events == nil {
		return []corev1.Event{}, nil
	}
	return env.Events, nil
}

func (rc *resourceClient) unsupported() error {
	return xe.New(
		fmt.Sprintf("%s cannot be watched", rc.kind),
		xe.WithKind(xe.ErrStreamUnsupported),
	)
}

func (rc *resourceClient) ssepath(namespace string, rest ...string) string {
	return rc.apipath(append([]string{"api", "sse", "namespaces", namespace, rc.kind.Plural()}, rest...)...)
}

func (rc *resourceClient) Watch(ctx context.Context, namespace string) (eventstream.Stream, error) {
	if !rc.streamable {
		return nil, rc.unsupported()
	}
	opts := append([]sse.Option{sse.WithLogger(rc.logger)}, rc.sseOptions...)
	return sse.Subscribe(ctx, rc.dialer(), rc.ssepath(namespace), opts...), nil
}

func (rc *resourceClient) WatchOne(ctx context.Context, namespace, name string) (eventstream.Stream, error) {
	if !rc.streamable {
		return nil, rc.unsupported()
	}
	opts := append([]sse.Option{sse.WithLogger(rc.logger)}, rc.sseOptions...)
	return sse.Subscribe(ctx, rc.dialer(), rc.ssepath(namespace, name), opts...), nil
}

func (rc *resourceClient) WatchEvents(ctx context.Context, namespace, name string) (eventstream.Feed[resources.EventsUpdate], error) {
	if !rc.streamable {
		return nil, rc.unsupported()
	}
	opts := append([]sse.Option{sse.WithLogger(rc.logger)}, rc.sseOptions...)
	return sse.SubscribeFeed[resources.EventsUpdate](
		ctx, rc.dialer(), rc.ssepath(namespace, name, "events"), opts...,
	), nil
}

func (rc *resourceClient) WatchLogs(ctx context.Context, namespace, name string, components ...string) (eventstream.Feed[resources.LogsUpdate], error) {
	if !rc.streamable {
		return nil, rc.unsupported()
	}
	if MaxLogComponents < len(components) {
		return nil, fmt.Errorf("too many components: %d (max %d)", len(components), MaxLogComponents)
	}

	endpoint := rc.ssepath(namespace, name, "logs")
	if 0 < len(components) {
		q := url.Values{"component": components}
		endpoint += "?" + q.Encode()
	}
	opts := append([]sse.Option{sse.WithLogger(rc.logger)}, rc.sseOptions...)
	return sse.SubscribeFeed[resources.LogsUpdate](ctx, rc.dialer(), endpoint, opts...), nil
}
