package resources

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/watch"
)

type EventType string

const (
	// EventInitial carries the full set of resources in scope.
	EventInitial  EventType = "INITIAL"
	EventAdded    EventType = EventType(watch.Added)
	EventModified EventType = EventType(watch.Modified)
	EventDeleted  EventType = EventType(watch.Deleted)
	EventError    EventType = EventType(watch.Error)
)

func (t EventType) Known() bool {
	switch t {
	case EventInitial, EventAdded, EventModified, EventDeleted, EventError:
		return true
	default:
		return false
	}
}

var ErrInvalidEvent = errors.New("invalid watch event")

// WatchEvent is a notification in streams of the backend.
//
// On the wire, INITIAL events carry a list (`{"items": [...]}`) or a single
// resource in "object", and ERROR events carry `{"message": ...}` there.
// Both are normalized into Items and Message on decoding.
type WatchEvent struct {
	Type    EventType
	Object  *Resource
	Items   []Resource
	Message string

	// Namespace is the scope which an INITIAL event replaces.
	//
	// Empty means the whole collection. It is not a part of the wire format;
	// fan-in of per-namespace streams sets it.
	Namespace string
}

type wireEvent struct {
	Type    EventType       `json:"type"`
	Object  json.RawMessage `json:"object,omitempty"`
	Items   []Resource      `json:"items,omitempty"`
	Message string          `json:"message,omitempty"`
}

type wireList struct {
	Items []Resource `json:"items"`
}

type wireMessage struct {
	Message string `json:"message"`
}

func (e *WatchEvent) UnmarshalJSON(b []byte) error {
	w := wireEvent{}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	ev := WatchEvent{Type: w.Type, Items: w.Items, Message: w.Message}

	obj := bytes.TrimSpace(w.Object)
	if len(obj) == 0 || bytes.Equal(obj, []byte("null")) {
		*e = ev
		return nil
	}

	switch ev.Type {
	case EventError:
		m := wireMessage{}
		if err := json.Unmarshal(obj, &m); err != nil {
			return err
		}
		if ev.Message == "" {
			ev.Message = m.Message
		}
	case EventInitial:
		keys := map[string]json.RawMessage{}
		if err := json.Unmarshal(obj, &keys); err != nil {
			return err
		}
		if _, ok := keys["items"]; ok {
			l := wireList{}
			if err := json.Unmarshal(obj, &l); err != nil {
				return err
			}
			ev.Items = append(ev.Items, l.Items...)
		} else {
			r := Resource{}
			if err := json.Unmarshal(obj, &r); err != nil {
				return err
			}
			ev.Items = append(ev.Items, r)
		}
	default:
		r := new(Resource)
		if err := json.Unmarshal(obj, r); err != nil {
			return err
		}
		ev.Object = r
	}

	*e = ev
	return nil
}

func (e WatchEvent) MarshalJSON() ([]byte, error) {
	w := wireEvent{Type: e.Type}

	var obj any
	switch e.Type {
	case EventInitial:
		items := e.Items
		if items == nil {
			items = []Resource{}
		}
		obj = wireList{Items: items}
	case EventError:
		obj = wireMessage{Message: e.Message}
	default:
		obj = e.Object
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	w.Object = raw
	return json.Marshal(w)
}

// Validate checks that the event can be applied to a collection.
func (e WatchEvent) Validate() error {
	switch e.Type {
	case EventInitial, EventError:
		return nil
	case EventAdded, EventModified, EventDeleted:
		if e.Object == nil {
			return fmt.Errorf("%w: %s event without object", ErrInvalidEvent, e.Type)
		}
		if e.Object.Name == "" {
			return fmt.Errorf("%w: %s event for an object without name", ErrInvalidEvent, e.Type)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}
}

func (e WatchEvent) String() string {
	switch e.Type {
	case EventInitial:
		if e.Namespace != "" {
			return fmt.Sprintf("%s (%d items in namespace %s)", e.Type, len(e.Items), e.Namespace)
		}
		return fmt.Sprintf("%s (%d items)", e.Type, len(e.Items))
	case EventError:
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	default:
		if e.Object == nil {
			return string(e.Type)
		}
		return fmt.Sprintf("%s %s/%s", e.Type, e.Object.Namespace, e.Object.Name)
	}
}

// Initial builds an INITIAL event replacing the whole collection.
func Initial(items ...Resource) WatchEvent {
	return WatchEvent{Type: EventInitial, Items: items}
}

// InitialIn builds an INITIAL event replacing resources in a namespace.
func InitialIn(namespace string, items ...Resource) WatchEvent {
	return WatchEvent{Type: EventInitial, Items: items, Namespace: namespace}
}
