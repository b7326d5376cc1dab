package kube

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opst/modelsync/pkg/api/types/resources"
	xe "github.com/opst/modelsync/pkg/errors"
	"github.com/opst/modelsync/pkg/eventstream"
	"github.com/opst/modelsync/pkg/utils/retry"
	corev1 "k8s.io/api/core/v1"
	kerr "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"
	"k8s.io/apimachinery/pkg/watch"
)

const (
	// DefaultLogInterval is the interval of reading logs for WatchLogs.
	DefaultLogInterval = 3 * time.Second

	LabelInferenceService = Group + "/inferenceservice"
	LabelComponent        = "component"

	// ContainerName is the container of model servers in pods of InferenceServices.
	ContainerName = "kserve-container"
)

// WithLogInterval sets the interval of reading logs for WatchLogs.
func WithLogInterval(d time.Duration) Option {
	return func(c *Cluster) *Cluster {
		c.logInterval = d
		return c
	}
}

// WatchEvents lists events about a resource as an INITIAL update, then follows them.
//
// When the watch is closed by the server, the feed ends with ErrTransport.
func (rc *resourceClient) WatchEvents(ctx context.Context, namespace, name string) (eventstream.Feed[resources.EventsUpdate], error) {
	pipe := eventstream.NewFeedPipe[resources.EventsUpdate](ctx)
	go func() {
		defer pipe.Close()
		ctx := pipe.Context()

		items, rv, err := rc.events(ctx, namespace, name)
		if err != nil {
			pipe.Fail(err)
			return
		}
		if !pipe.Send(resources.EventsUpdate{Type: resources.EventInitial, Items: items}) {
			return
		}

		w, err := rc.typed.CoreV1().Events(namespace).Watch(ctx, metav1.ListOptions{
			FieldSelector:   rc.eventSelector(name).String(),
			ResourceVersion: rv,
		})
		if err != nil {
			pipe.Fail(rc.wrap(fmt.Sprintf("cannot watch events of %s %s/%s", rc.kind, namespace, name), err))
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
						fmt.Sprintf("watch of events of %s %s/%s is closed", rc.kind, namespace, name),
						xe.WithKind(xe.ErrTransport),
					))
					return
				}

				var u resources.EventsUpdate
				switch ev.Type {
				case watch.Error:
					u = resources.EventsUpdate{Type: resources.EventError, Message: kerr.FromObject(ev.Object).Error()}
				case watch.Added, watch.Modified, watch.Deleted:
					e, ok := ev.Object.(*corev1.Event)
					if !ok || !rc.involves(e, name) {
						continue
					}
					u = resources.EventsUpdate{Type: resources.EventType(ev.Type), Object: e}
				default:
					continue
				}
				if !pipe.Send(u) {
					return
				}
			}
		}
	}()
	return pipe, nil
}

// WatchLogs reads logs of pods of an InferenceService periodically,
// and sends them as UPDATE grouped by the component label of pods.
//
// Failures are sent as ERROR and reading goes on. It ends only when cancelled.
func (rc *resourceClient) WatchLogs(ctx context.Context, namespace, name string, components ...string) (eventstream.Feed[resources.LogsUpdate], error) {
	if rc.kind != resources.KindInferenceService {
		return nil, xe.New(
			fmt.Sprintf("logs of %s cannot be watched", rc.kind),
			xe.WithKind(xe.ErrStreamUnsupported),
		)
	}
	selector, err := podSelector(name, components)
	if err != nil {
		return nil, err
	}

	pipe := eventstream.NewFeedPipe[resources.LogsUpdate](ctx)
	go func() {
		defer pipe.Close()
		ctx := pipe.Context()

		for {
			u, err := rc.logs(ctx, namespace, selector)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				rc.logger.Printf("cannot read logs of %s %s/%s: %s", rc.kind, namespace, name, err)
				u = resources.LogsUpdate{Type: resources.EventError, Message: err.Error()}
			}
			if !pipe.Send(u) {
				return
			}
			if err := retry.Wait(ctx, rc.logInterval); err != nil {
				return
			}
		}
	}()
	return pipe, nil
}

func podSelector(name string, components []string) (labels.Selector, error) {
	byName, err := labels.NewRequirement(LabelInferenceService, selection.Equals, []string{name})
	if err != nil {
		return nil, err
	}
	sel := labels.NewSelector().Add(*byName)
	if len(components) == 0 {
		return sel, nil
	}
	byComponent, err := labels.NewRequirement(LabelComponent, selection.In, components)
	if err != nil {
		return nil, err
	}
	return sel.Add(*byComponent), nil
}

func (rc *resourceClient) logs(ctx context.Context, namespace string, selector labels.Selector) (resources.LogsUpdate, error) {
	pods, err := rc.typed.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return resources.LogsUpdate{}, rc.wrap(fmt.Sprintf("cannot list pods in %s", namespace), err)
	}

	items := pods.Items
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	logs := map[string][]resources.PodLogs{}
	for _, pod := range items {
		component := pod.Labels[LabelComponent]
		raw, err := rc.typed.CoreV1().Pods(namespace).
			GetLogs(pod.Name, &corev1.PodLogOptions{Container: ContainerName}).
			DoRaw(ctx)
		if err != nil {
			rc.logger.Printf("cannot read logs of pod %s/%s: %s", namespace, pod.Name, err)
			continue
		}
		logs[component] = append(logs[component], resources.PodLogs{
			PodName: pod.Name,
			Logs:    strings.Split(string(raw), "\n"),
		})
	}
	return resources.LogsUpdate{Type: resources.EventUpdate, Logs: logs}, nil
}
