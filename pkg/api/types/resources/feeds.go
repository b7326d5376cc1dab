package resources

import (
	"bytes"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// EventUpdate carries a full snapshot of logs.
const EventUpdate EventType = "UPDATE"

// EventsUpdate is a notification in the stream of Kubernetes events about a resource.
//
// INITIAL carries Items, ADDED, MODIFIED and DELETED carry Object, and ERROR carries Message.
// On the wire, items are at top level (`{"type": ..., "object": null, "items": [...]}`)
// and the message of ERROR is `{"message": ...}` in "object".
type EventsUpdate struct {
	Type    EventType
	Object  *corev1.Event
	Items   []corev1.Event
	Message string
}

type wireEventsUpdate struct {
	Type    EventType       `json:"type"`
	Object  json.RawMessage `json:"object"`
	Items   []corev1.Event  `json:"items"`
	Message string          `json:"message,omitempty"`
}

func (e *EventsUpdate) UnmarshalJSON(b []byte) error {
	w := wireEventsUpdate{}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ev := EventsUpdate{Type: w.Type, Items: w.Items, Message: w.Message}

	obj := bytes.TrimSpace(w.Object)
	if len(obj) != 0 && !bytes.Equal(obj, []byte("null")) {
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
			l := struct {
				Items []corev1.Event `json:"items"`
			}{}
			if err := json.Unmarshal(obj, &l); err != nil {
				return err
			}
			ev.Items = append(ev.Items, l.Items...)
		default:
			o := new(corev1.Event)
			if err := json.Unmarshal(obj, o); err != nil {
				return err
			}
			ev.Object = o
		}
	}

	*e = ev
	return nil
}

func (e EventsUpdate) MarshalJSON() ([]byte, error) {
	w := wireEventsUpdate{Type: e.Type, Object: json.RawMessage("null")}
	switch e.Type {
	case EventInitial:
		w.Items = e.Items
		if w.Items == nil {
			w.Items = []corev1.Event{}
		}
	case EventError:
		raw, err := json.Marshal(wireMessage{Message: e.Message})
		if err != nil {
			return nil, err
		}
		w.Object = raw
	default:
		raw, err := json.Marshal(e.Object)
		if err != nil {
			return nil, err
		}
		w.Object = raw
	}
	return json.Marshal(w)
}

func (e EventsUpdate) Validate() error {
	switch e.Type {
	case EventInitial, EventError:
		return nil
	case EventAdded, EventModified, EventDeleted:
		if e.Object == nil {
			return fmt.Errorf("%w: %s event without object", ErrInvalidEvent, e.Type)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}
}

// PodLogs are lines logged by a pod.
type PodLogs struct {
	PodName string   `json:"podName"`
	Logs    []string `json:"logs"`
}

// LogsUpdate is a notification in the stream of logs of a resource.
//
// UPDATE carries logs of all pods, per component. ERROR carries Message.
type LogsUpdate struct {
	Type    EventType            `json:"type"`
	Logs    map[string][]PodLogs `json:"logs"`
	Message string               `json:"message,omitempty"`
}

func (u LogsUpdate) Validate() error {
	switch u.Type {
	case EventUpdate, EventError:
		return nil
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, u.Type)
	}
}
