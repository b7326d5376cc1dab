// Package kube reads and writes InferenceServices and InferenceGraphs
// directly on a cluster, with the same contract as the backend client.
package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/opst/modelsync/pkg/api/types/resources"
	xe "github.com/opst/modelsync/pkg/errors"
	"github.com/opst/modelsync/pkg/eventstream"
	"github.com/opst/modelsync/pkg/logger"
	"github.com/opst/modelsync/pkg/rest"
	corev1 "k8s.io/api/core/v1"
	kerr "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	krest "k8s.io/client-go/rest"
)

const Group = "serving.kserve.io"

var (
	InferenceServices = schema.GroupVersionResource{Group: Group, Version: "v1beta1", Resource: "inferenceservices"}
	InferenceGraphs   = schema.GroupVersionResource{Group: Group, Version: "v1alpha1", Resource: "inferencegraphs"}
)

// GVR returns the resource of kind on clusters.
func GVR(kind resources.Kind) (schema.GroupVersionResource, error) {
	switch kind {
	case resources.KindInferenceService:
		return InferenceServices, nil
	case resources.KindInferenceGraph:
		return InferenceGraphs, nil
	default:
		return schema.GroupVersionResource{}, fmt.Errorf("unknown kind: %q", kind)
	}
}

type Cluster struct {
	dynamic     dynamic.Interface
	typed       kubernetes.Interface
	logger      *log.Logger
	logInterval time.Duration
}

type Option func(*Cluster) *Cluster

func WithLogger(l *log.Logger) Option {
	return func(c *Cluster) *Cluster {
		c.logger = l
		return c
	}
}

func New(dyn dynamic.Interface, typed kubernetes.Interface, opts ...Option) *Cluster {
	c := &Cluster{dynamic: dyn, typed: typed, logger: logger.Null(), logInterval: DefaultLogInterval}
	for _, o := range opts {
		c = o(c)
	}
	return c
}

func NewForConfig(conf *krest.Config, opts ...Option) (*Cluster, error) {
	dyn, err := dynamic.NewForConfig(conf)
	if err != nil {
		return nil, err
	}
	typed, err := kubernetes.NewForConfig(conf)
	if err != nil {
		return nil, err
	}
	return New(dyn, typed, opts...), nil
}

// Resources returns a client of kind.
func (c *Cluster) Resources(kind resources.Kind) (rest.ResourceClient, error) {
	gvr, err := GVR(kind)
	if err != nil {
		return nil, err
	}
	return &resourceClient{Cluster: c, kind: kind, gvr: gvr}, nil
}

type resourceClient struct {
	*Cluster
	kind resources.Kind
	gvr  schema.GroupVersionResource
}

var _ rest.ResourceClient = &resourceClient{}

func (rc *resourceClient) Kind() resources.Kind {
	return rc.kind
}

func fromUnstructured(u *unstructured.Unstructured) (resources.Resource, error) {
	buf, err := u.MarshalJSON()
	if err != nil {
		return resources.Resource{}, err
	}
	r := resources.Resource{}
	if err := json.Unmarshal(buf, &r); err != nil {
		return resources.Resource{}, err
	}
	return r, nil
}

func (rc *resourceClient) toUnstructured(r resources.Resource) (*unstructured.Unstructured, error) {
	if r.APIVersion == "" {
		r.APIVersion = rc.gvr.GroupVersion().String()
	}
	if r.Kind == "" {
		r.Kind = string(rc.kind)
	}
	buf, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	u := &unstructured.Unstructured{}
	if err := u.UnmarshalJSON(buf); err != nil {
		return nil, err
	}
	return u, nil
}

// wrap converts errors from the api server.
func (rc *resourceClient) wrap(summary string, err error) error {
	if kerr.IsNotFound(err) {
		return xe.New(summary, xe.WithKind(xe.ErrNotFound), xe.WithCause(err), xe.WithStatus(404))
	}
	if st, ok := err.(kerr.APIStatus); ok {
		return xe.New(summary, xe.WithCause(err), xe.WithStatus(int(st.Status().Code)))
	}
	return xe.Transport(summary, err)
}

func (rc *resourceClient) list(ctx context.Context, namespace string, opts metav1.ListOptions) ([]resources.Resource, string, error) {
	ul, err := rc.dynamic.Resource(rc.gvr).Namespace(namespace).List(ctx, opts)
	if err != nil {
		return nil, "", rc.wrap(fmt.Sprintf("cannot list %s in %s", rc.kind, namespace), err)
	}
	items := make([]resources.Resource, 0, len(ul.Items))
	for i := range ul.Items {
		r, err := fromUnstructured(&ul.Items[i])
		if err != nil {
			return nil, "", xe.Decode(fmt.Sprintf("malformed %s", rc.kind), err)
		}
		items = append(items, r)
	}
	return items, ul.GetResourceVersion(), nil
}

func (rc *resourceClient) List(ctx context.Context, namespace string) ([]resources.Resource, error) {
	items, _, err := rc.list(ctx, namespace, metav1.ListOptions{})
	return items, err
}

func (rc *resourceClient) Get(ctx context.Context, namespace, name string) (resources.Resource, error) {
	u, err := rc.dynamic.Resource(rc.gvr).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return resources.Resource{}, rc.wrap(fmt.Sprintf("cannot get %s %s/%s", rc.kind, namespace, name), err)
	}
	r, err := fromUnstructured(u)
	if err != nil {
		return resources.Resource{}, xe.Decode(fmt.Sprintf("malformed %s", rc.kind), err)
	}
	return r, nil
}

func (rc *resourceClient) mutationError(what string, err error) error {
	return xe.New(fmt.Sprintf("cannot %s", what), xe.WithKind(xe.ErrMutation), xe.WithCause(rc.wrap(what, err)))
}

func (rc *resourceClient) Create(ctx context.Context, namespace string, resource resources.Resource) error {
	what := fmt.Sprintf("create %s %s/%s", rc.kind, namespace, resource.Name)
	resource.Namespace = namespace
	u, err := rc.toUnstructured(resource)
	if err != nil {
		return xe.New(fmt.Sprintf("cannot %s", what), xe.WithKind(xe.ErrMutation), xe.WithCause(err))
	}
	if _, err := rc.dynamic.Resource(rc.gvr).Namespace(namespace).Create(ctx, u, metav1.CreateOptions{}); err != nil {
		return rc.mutationError(what, err)
	}
	return nil
}

func (rc *resourceClient) Update(ctx context.Context, namespace, name string, resource resources.Resource) error {
	what := fmt.Sprintf("update %s %s/%s", rc.kind, namespace, name)
	resource.Namespace = namespace
	resource.Name = name
	u, err := rc.toUnstructured(resource)
	if err != nil {
		return xe.New(fmt.Sprintf("cannot %s", what), xe.WithKind(xe.ErrMutation), xe.WithCause(err))
	}
	if _, err := rc.dynamic.Resource(rc.gvr).Namespace(namespace).Update(ctx, u, metav1.UpdateOptions{}); err != nil {
		return rc.mutationError(what, err)
	}
	return nil
}

func (rc *resourceClient) Delete(ctx context.Context, namespace, name string) error {
	rc.logger.Printf("deleting %s %s/%s", rc.kind, namespace, name)
	if err := rc.dynamic.Resource(rc.gvr).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		return rc.mutationError(fmt.Sprintf("delete %s %s/%s", rc.kind, namespace, name), err)
	}
	return nil
}

func (rc *resourceClient) eventSelector(name string) fields.Selector {
	return fields.AndSelectors(
		fields.OneTermEqualSelector("involvedObject.kind", string(rc.kind)),
		fields.OneTermEqualSelector("involvedObject.name", name),
	)
}

// involves tells ev is about the resource. The field selector is not honored by every server.
func (rc *resourceClient) involves(ev *corev1.Event, name string) bool {
	return ev.InvolvedObject.Kind == string(rc.kind) && ev.InvolvedObject.Name == name
}

func (rc *resourceClient) events(ctx context.Context, namespace, name string) ([]corev1.Event, string, error) {
	el, err := rc.typed.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{FieldSelector: rc.eventSelector(name).String()})
	if err != nil {
		return nil, "", rc.wrap(fmt.Sprintf("cannot get events of %s %s/%s", rc.kind, namespace, name), err)
	}

	events := []corev1.Event{}
	for i := range el.Items {
		if rc.involves(&el.Items[i], name) {
			events = append(events, el.Items[i])
		}
	}
	return events, el.ResourceVersion, nil
}

func (rc *resourceClient) Events(ctx context.Context, namespace, name string) ([]corev1.Event, error) {
	events, _, err := rc.events(ctx, namespace, name)
	return events, err
}

func (rc *resourceClient) Watch(ctx context.Context, namespace string) (eventstream.Stream, error) {
	return rc.watch(ctx, namespace, "")
}

func (rc *resourceClient) WatchOne(ctx context.Context, namespace, name string) (eventstream.Stream, error) {
	return rc.watch(ctx, namespace, name)
}

// watch lists resources as an INITIAL event, then follows changes after the list.
//
// When the watch is closed by the server, the stream ends with ErrTransport.
func (rc *resourceClient) watch(ctx context.Context, namespace, name string) (eventstream.Stream, error) {
	opts := metav1.ListOptions{}
	if name != "" {
		opts.FieldSelector = fields.OneTermEqualSelector("metadata.name", name).String()
	}
	matches := func(r resources.Resource) bool {
		return name == "" || r.Name == name
	}

	pipe := eventstream.NewPipe(ctx)
	go func() {
		defer pipe.Close()
		ctx := pipe.Context()

		items, rv, err := rc.list(ctx, namespace, opts)
		if err != nil {
			pipe.Fail(err)
			return
		}
		initial := []resources.Resource{}
		for _, r := range items {
			if matches(r) {
				initial = append(initial, r)
			}
		}
		if !pipe.Send(eventstream.Message{Event: resources.Initial(initial...)}) {
			return
		}

		wopts := opts
		wopts.ResourceVersion = rv
		w, err := rc.dynamic.Resource(rc.gvr).Namespace(namespace).Watch(ctx, wopts)
		if err != nil {
			pipe.Fail(rc.wrap(fmt.Sprintf("cannot watch %s in %s", rc.kind, namespace), err))
			return
		}
		defer w.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.ResultChan():
				if !ok {
					pipe.Fail(xe.New(
						fmt.Sprintf("watch of %s in %s is closed", rc.kind, namespace),
						xe.WithKind(xe.ErrTransport),
					))
					return
				}
				wev, ok, err := rc.translate(ev)
				if err != nil {
					pipe.Fail(err)
					return
				}
				if !ok {
					continue
				}
				if wev.Object != nil && !matches(*wev.Object) {
					continue
				}
				if !pipe.Send(eventstream.Message{Event: wev}) {
					return
				}
			}
		}
	}()

	return pipe, nil
}

// translate converts an event of the cluster. Bookmarks are skipped (ok = false).
func (rc *resourceClient) translate(ev watch.Event) (resources.WatchEvent, bool, error) {
	switch ev.Type {
	case watch.Bookmark:
		return resources.WatchEvent{}, false, nil
	case watch.Error:
		return resources.WatchEvent{
			Type:    resources.EventError,
			Message: kerr.FromObject(ev.Object).Error(),
		}, true, nil
	case watch.Added, watch.Modified, watch.Deleted:
		u, ok := ev.Object.(*unstructured.Unstructured)
		if !ok {
			return resources.WatchEvent{}, false, xe.New(
				fmt.Sprintf("unexpected object in watch: %T", ev.Object),
				xe.WithKind(xe.ErrDecode),
			)
		}
		r, err := fromUnstructured(u)
		if err != nil {
			return resources.WatchEvent{}, false, xe.Decode(fmt.Sprintf("malformed %s", rc.kind), err)
		}
		return resources.WatchEvent{Type: resources.EventType(ev.Type), Object: &r}, true, nil
	default:
		return resources.WatchEvent{}, false, nil
	}
}
