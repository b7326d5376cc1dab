package backend

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opst/modelsync/pkg/api/types/resources"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

var (
	ErrConflict = errors.New("already exists")
	ErrMissing  = errors.New("not found")
)

// watchBuffer is the number of events a watcher can hold before it is dropped.
const watchBuffer = 500

type watcher struct {
	kind      resources.Kind
	namespace string
	name      string
	ch        chan resources.WatchEvent
}

func (w *watcher) interested(kind resources.Kind, r resources.Resource) bool {
	if w.kind != kind || w.namespace != r.Namespace {
		return false
	}
	return w.name == "" || w.name == r.Name
}

// Store is an in-memory cluster of InferenceServices and InferenceGraphs.
//
// Changes are broadcast to watchers.
type Store struct {
	mux      sync.Mutex
	items    map[resources.Key]resources.Resource
	events   map[resources.Key][]corev1.Event
	logs     map[resources.Key]map[string][]resources.PodLogs
	watchers map[int]*watcher
	eventers map[int]*eventWatcher
	nextId   int
	version  uint64
	now      func() time.Time
}

// eventWatcher follows Kubernetes events about a resource.
type eventWatcher struct {
	key resources.Key
	ch  chan corev1.Event
}

func NewStore() *Store {
	return &Store{
		items:    map[resources.Key]resources.Resource{},
		events:   map[resources.Key][]corev1.Event{},
		logs:     map[resources.Key]map[string][]resources.PodLogs{},
		watchers: map[int]*watcher{},
		eventers: map[int]*eventWatcher{},
		now:      time.Now,
	}
}

func keyOf(kind resources.Kind, namespace, name string) resources.Key {
	return resources.Key{Kind: kind, Namespace: namespace, Name: name}
}

// stamp fills metadata as api servers do. mux should be held.
func (s *Store) stamp(kind resources.Kind, r *resources.Resource) {
	s.version += 1
	r.ResourceVersion = strconv.FormatUint(s.version, 10)
	if r.UID == "" {
		r.UID = types.UID(uuid.NewString())
	}
	if r.CreationTimestamp.IsZero() {
		r.CreationTimestamp = metav1.NewTime(s.now())
	}
	if r.Kind == "" {
		r.Kind = string(kind)
	}
}

// broadcast sends an event to interested watchers. mux should be held.
//
// Watchers which cannot keep up are dropped.
func (s *Store) broadcast(kind resources.Kind, ev resources.WatchEvent) {
	for id, w := range s.watchers {
		if ev.Object != nil && !w.interested(kind, *ev.Object) {
			continue
		}
		select {
		case w.ch <- ev:
		default:
			close(w.ch)
			delete(s.watchers, id)
		}
	}
}

// Put creates or replaces a resource, as if it were changed on the cluster.
func (s *Store) Put(kind resources.Kind, r resources.Resource) resources.Resource {
	s.mux.Lock()
	defer s.mux.Unlock()

	k := keyOf(kind, r.Namespace, r.Name)
	typ := resources.EventAdded
	if _, ok := s.items[k]; ok {
		typ = resources.EventModified
	}
	s.stamp(kind, &r)
	s.items[k] = r
	s.broadcast(kind, resources.WatchEvent{Type: typ, Object: r.DeepCopy()})
	return r
}

func (s *Store) List(kind resources.Kind, namespace string) []resources.Resource {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.list(kind, namespace, "")
}

func (s *Store) list(kind resources.Kind, namespace, name string) []resources.Resource {
	items := []resources.Resource{}
	for k, r := range s.items {
		if k.Kind != kind || k.Namespace != namespace {
			continue
		}
		if name != "" && k.Name != name {
			continue
		}
		items = append(items, *r.DeepCopy())
	}
	slices.SortFunc(items, func(a, b resources.Resource) int {
		return strings.Compare(a.Name, b.Name)
	})
	return items
}

func (s *Store) Get(kind resources.Kind, namespace, name string) (resources.Resource, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	r, ok := s.items[keyOf(kind, namespace, name)]
	if !ok {
		return resources.Resource{}, false
	}
	return *r.DeepCopy(), true
}

func (s *Store) Create(kind resources.Kind, namespace string, r resources.Resource) (resources.Resource, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	r.Namespace = namespace
	k := keyOf(kind, namespace, r.Name)
	if _, ok := s.items[k]; ok {
		return resources.Resource{}, fmt.Errorf("%w: %s", ErrConflict, k)
	}
	r.UID = ""
	r.CreationTimestamp = metav1.Time{}
	s.stamp(kind, &r)
	s.items[k] = r
	s.broadcast(kind, resources.WatchEvent{Type: resources.EventAdded, Object: r.DeepCopy()})
	return r, nil
}

// Update replaces spec and metadata of a resource. Its status is kept.
func (s *Store) Update(kind resources.Kind, namespace, name string, r resources.Resource) (resources.Resource, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	k := keyOf(kind, namespace, name)
	prev, ok := s.items[k]
	if !ok {
		return resources.Resource{}, fmt.Errorf("%w: %s", ErrMissing, k)
	}
	r.Namespace, r.Name = namespace, name
	r.UID, r.CreationTimestamp = prev.UID, prev.CreationTimestamp
	r.Status = prev.Status
	s.stamp(kind, &r)
	s.items[k] = r
	s.broadcast(kind, resources.WatchEvent{Type: resources.EventModified, Object: r.DeepCopy()})
	return r, nil
}

// Delete removes a resource.
//
// When grace is positive, the resource is marked with a deletion timestamp first
// and removed after grace passes.
func (s *Store) Delete(kind resources.Kind, namespace, name string, grace time.Duration) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	k := keyOf(kind, namespace, name)
	r, ok := s.items[k]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissing, k)
	}

	if grace <= 0 {
		s.remove(kind, k)
		return nil
	}

	if r.DeletionTimestamp == nil {
		now := metav1.NewTime(s.now())
		r.DeletionTimestamp = &now
		s.stamp(kind, &r)
		s.items[k] = r
		s.broadcast(kind, resources.WatchEvent{Type: resources.EventModified, Object: r.DeepCopy()})
		uid := r.UID
		time.AfterFunc(grace, func() {
			s.mux.Lock()
			defer s.mux.Unlock()
			if cur, ok := s.items[k]; ok && cur.UID == uid {
				s.remove(kind, k)
			}
		})
	}
	return nil
}

// remove deletes an item and its events. mux should be held.
func (s *Store) remove(kind resources.Kind, k resources.Key) {
	r := s.items[k]
	delete(s.items, k)
	delete(s.events, k)
	delete(s.logs, k)
	s.version += 1
	s.broadcast(kind, resources.WatchEvent{Type: resources.EventDeleted, Object: r.DeepCopy()})
}

// Record adds a Kubernetes event about a resource.
func (s *Store) Record(kind resources.Kind, namespace, name string, reason, message string) corev1.Event {
	s.mux.Lock()
	defer s.mux.Unlock()

	k := keyOf(kind, namespace, name)
	now := metav1.NewTime(s.now())
	ev := corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      fmt.Sprintf("%s.%d", name, len(s.events[k])+1),
			UID:       types.UID(uuid.NewString()),
		},
		InvolvedObject: corev1.ObjectReference{Kind: string(kind), Namespace: namespace, Name: name},
		Reason:         reason,
		Message:        message,
		Type:           corev1.EventTypeNormal,
		FirstTimestamp: now,
		LastTimestamp:  now,
		Count:          1,
	}
	s.events[k] = append(s.events[k], ev)

	for id, w := range s.eventers {
		if w.key != k {
			continue
		}
		select {
		case w.ch <- ev:
		default:
			close(w.ch)
			delete(s.eventers, id)
		}
	}
	return ev
}

// WatchEvents returns events about a resource so far, and subscribes events recorded after that.
func (s *Store) WatchEvents(kind resources.Kind, namespace, name string) ([]corev1.Event, <-chan corev1.Event, func()) {
	s.mux.Lock()
	defer s.mux.Unlock()

	k := keyOf(kind, namespace, name)
	w := &eventWatcher{key: k, ch: make(chan corev1.Event, watchBuffer)}
	id := s.nextId
	s.nextId += 1
	s.eventers[id] = w

	cancel := func() {
		s.mux.Lock()
		defer s.mux.Unlock()
		if cur, ok := s.eventers[id]; ok && cur == w {
			close(w.ch)
			delete(s.eventers, id)
		}
	}
	return slices.Clone(s.events[k]), w.ch, cancel
}

// Log appends lines to logs of a pod of an InferenceService.
func (s *Store) Log(namespace, name, component, pod string, lines ...string) {
	s.mux.Lock()
	defer s.mux.Unlock()

	k := keyOf(resources.KindInferenceService, namespace, name)
	if s.logs[k] == nil {
		s.logs[k] = map[string][]resources.PodLogs{}
	}
	pods := s.logs[k][component]
	for i := range pods {
		if pods[i].PodName == pod {
			pods[i].Logs = append(pods[i].Logs, lines...)
			return
		}
	}
	s.logs[k][component] = append(pods, resources.PodLogs{PodName: pod, Logs: lines})
}

// Logs returns logs of pods of an InferenceService, per component.
//
// With no components, logs of all components are returned.
func (s *Store) Logs(namespace, name string, components ...string) map[string][]resources.PodLogs {
	s.mux.Lock()
	defer s.mux.Unlock()

	logs := map[string][]resources.PodLogs{}
	for component, pods := range s.logs[keyOf(resources.KindInferenceService, namespace, name)] {
		if 0 < len(components) && !slices.Contains(components, component) {
			continue
		}
		cp := make([]resources.PodLogs, 0, len(pods))
		for _, p := range pods {
			cp = append(cp, resources.PodLogs{PodName: p.PodName, Logs: slices.Clone(p.Logs)})
		}
		logs[component] = cp
	}
	return logs
}

func (s *Store) Events(kind resources.Kind, namespace, name string) []corev1.Event {
	s.mux.Lock()
	defer s.mux.Unlock()
	return slices.Clone(s.events[keyOf(kind, namespace, name)])
}

// Watch returns resources at present and subscribes changes after that.
//
// When name is not empty, only the resource with the name is watched.
// The channel is closed when the watcher cannot keep up, or on Disconnect.
func (s *Store) Watch(kind resources.Kind, namespace, name string) ([]resources.Resource, <-chan resources.WatchEvent, func()) {
	s.mux.Lock()
	defer s.mux.Unlock()

	w := &watcher{kind: kind, namespace: namespace, name: name, ch: make(chan resources.WatchEvent, watchBuffer)}
	id := s.nextId
	s.nextId += 1
	s.watchers[id] = w

	cancel := func() {
		s.mux.Lock()
		defer s.mux.Unlock()
		if cur, ok := s.watchers[id]; ok && cur == w {
			close(w.ch)
			delete(s.watchers, id)
		}
	}
	return s.list(kind, namespace, name), w.ch, cancel
}

// Watchers returns the number of active watchers.
func (s *Store) Watchers() int {
	s.mux.Lock()
	defer s.mux.Unlock()
	return len(s.watchers)
}

// Fail sends an ERROR event to all watchers.
func (s *Store) Fail(message string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.broadcast("", resources.WatchEvent{Type: resources.EventError, Message: message})
}

// Disconnect closes all watchers, including those of events.
func (s *Store) Disconnect() {
	s.mux.Lock()
	defer s.mux.Unlock()
	for id, w := range s.watchers {
		close(w.ch)
		delete(s.watchers, id)
	}
	for id, w := range s.eventers {
		close(w.ch)
		delete(s.eventers, id)
	}
}
