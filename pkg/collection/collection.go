// Package collection keeps resources of a kind in order, applying watch events.
package collection

import (
	"errors"
	"fmt"
	"sort"

	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/status"
)

// ErrNotApplicable is returned for events which do not change collections, like ERROR.
var ErrNotApplicable = errors.New("event is not applicable to collection")

// Entry is a resource in a snapshot, with its derived status.
type Entry struct {
	Key      resources.Key
	Resource resources.Resource
	Status   resources.UIStatus

	// Pending reports that Status is a local override waiting for confirmation by the backend.
	Pending bool
}

type entry struct {
	resource resources.Resource
	pending  *resources.UIStatus
}

// Collection is an ordered map of resources of a kind, keyed by their identity.
//
// Collection is not goroutine-safe.
type Collection struct {
	kind    resources.Kind
	keys    []resources.Key
	entries map[resources.Key]*entry
}

func New(kind resources.Kind) *Collection {
	return &Collection{kind: kind, entries: map[resources.Key]*entry{}}
}

func (c *Collection) Kind() resources.Kind {
	return c.kind
}

func (c *Collection) Len() int {
	return len(c.keys)
}

func (c *Collection) normalize(r resources.Resource) (resources.Key, resources.Resource) {
	if r.Kind == "" {
		r.Kind = string(c.kind)
	}
	return r.KeyAs(c.kind), r
}

// Apply applies an event.
//
//   - INITIAL replaces all resources with its items. If the event is tagged with
//     a namespace, only resources in the namespace are replaced.
//   - ADDED inserts the resource. If it exists already, it is replaced.
//   - MODIFIED replaces the resource. If it does not exist, it is inserted.
//   - DELETED removes the resource, if it exists.
//
// ERROR events are ErrNotApplicable.
// An event about a resource clears the pending status of it.
func (c *Collection) Apply(ev resources.WatchEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	switch ev.Type {
	case resources.EventInitial:
		c.replace(ev.Namespace, ev.Items)
	case resources.EventAdded, resources.EventModified:
		c.upsert(*ev.Object)
	case resources.EventDeleted:
		key, _ := c.normalize(*ev.Object)
		c.remove(key)
	default:
		return fmt.Errorf("%w: %s", ErrNotApplicable, ev.Type)
	}
	return nil
}

// ApplyAll applies events in order. It stops at the first error.
func (c *Collection) ApplyAll(evs ...resources.WatchEvent) error {
	for _, ev := range evs {
		if err := c.Apply(ev); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) upsert(r resources.Resource) {
	key, r := c.normalize(r)
	if e, ok := c.entries[key]; ok {
		e.resource = r
		e.pending = nil
		return
	}
	c.keys = append(c.keys, key)
	c.entries[key] = &entry{resource: r}
}

func (c *Collection) remove(key resources.Key) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i:i], c.keys[i+1:]...)
			break
		}
	}
}

func (c *Collection) replace(namespace string, items []resources.Resource) {
	keys := []resources.Key{}
	entries := map[resources.Key]*entry{}

	if namespace != "" {
		for _, k := range c.keys {
			if k.Namespace != namespace {
				keys = append(keys, k)
				entries[k] = c.entries[k]
			}
		}
	}

	for _, item := range items {
		if namespace != "" && item.Namespace == "" {
			item.Namespace = namespace
		}
		key, r := c.normalize(item)
		if e, ok := entries[key]; ok {
			e.resource = r
			e.pending = nil
			continue
		}
		keys = append(keys, key)
		entries[key] = &entry{resource: r}
	}

	if namespace != "" {
		sort.SliceStable(keys, func(i, j int) bool {
			return keys[i].Namespace < keys[j].Namespace
		})
	}

	c.keys = keys
	c.entries = entries
}

// Get returns a copy of the resource.
func (c *Collection) Get(key resources.Key) (resources.Resource, bool) {
	e, ok := c.entries[key]
	if !ok {
		return resources.Resource{}, false
	}
	return *e.resource.DeepCopy(), true
}

// SetPending overrides the status of the resource until the next event about it.
//
// It returns false if the resource is not in the collection.
func (c *Collection) SetPending(key resources.Key, s resources.UIStatus) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.pending = &s
	return true
}

// ClearPending removes the override of the status. It returns false if there were no override.
func (c *Collection) ClearPending(key resources.Key) bool {
	e, ok := c.entries[key]
	if !ok || e.pending == nil {
		return false
	}
	e.pending = nil
	return true
}

// Snapshot returns entries in order, with their statuses derived.
//
// Entries share nothing with the collection.
func (c *Collection) Snapshot() []Entry {
	out := make([]Entry, 0, len(c.keys))
	for _, k := range c.keys {
		e := c.entries[k]
		ent := Entry{Key: k, Resource: *e.resource.DeepCopy()}
		if e.pending != nil {
			ent.Status = *e.pending
			ent.Pending = true
		} else {
			ent.Status = status.Resolve(e.resource)
		}
		out = append(out, ent)
	}
	return out
}

// Clone returns a deep copy of the collection.
func (c *Collection) Clone() *Collection {
	out := New(c.kind)
	out.keys = append([]resources.Key{}, c.keys...)
	for k, e := range c.entries {
		ne := &entry{resource: *e.resource.DeepCopy()}
		if e.pending != nil {
			p := *e.pending
			ne.pending = &p
		}
		out.entries[k] = ne
	}
	return out
}
