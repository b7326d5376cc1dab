package resources

import (
	"encoding/json"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Kind of custom resources which the models web app serves.
type Kind string

const (
	KindInferenceService Kind = "InferenceService"
	KindInferenceGraph   Kind = "InferenceGraph"
)

// Plural returns the path segment for the kind used in REST and SSE endpoints.
func (k Kind) Plural() string {
	return strings.ToLower(string(k)) + "s"
}

func (k Kind) String() string {
	return string(k)
}

func (k Kind) Valid() bool {
	switch k {
	case KindInferenceService, KindInferenceGraph:
		return true
	default:
		return false
	}
}

// ParseKind accepts a kind name, its plural, or its short name (case-insensitive).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inferenceservice", "inferenceservices", "isvc":
		return KindInferenceService, nil
	case "inferencegraph", "inferencegraphs", "ig":
		return KindInferenceGraph, nil
	}
	return "", fmt.Errorf("unknown kind: %q", s)
}

// Key identifies a resource in a collection.
type Key struct {
	Kind      Kind
	Namespace string
	Name      string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Kind, k.Namespace, k.Name)
}

type Condition struct {
	Type    string                 `json:"type"`
	Status  corev1.ConditionStatus `json:"status"`
	Reason  string                 `json:"reason,omitempty"`
	Message string                 `json:"message,omitempty"`

	LastTransitionTime *metav1.Time `json:"lastTransitionTime,omitempty"`
}

type Status struct {
	Conditions []Condition `json:"conditions,omitempty"`
	URL        string      `json:"url,omitempty"`
}

// Resource is an InferenceService or an InferenceGraph as the backend returns.
//
// Spec is opaque for this package.
// Status is nil when the backend returned no status information at all.
type Resource struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   json.RawMessage `json:"spec,omitempty"`
	Status *Status         `json:"status,omitempty"`
}

// KeyAs returns the identity of the resource as a member of the collection of kind.
func (r Resource) KeyAs(kind Kind) Key {
	return Key{Kind: kind, Namespace: r.Namespace, Name: r.Name}
}

// Key returns the identity of the resource by its own kind.
func (r Resource) Key() Key {
	return r.KeyAs(Kind(r.Kind))
}

// Terminating reports that deletion of the resource has been requested on the cluster.
func (r Resource) Terminating() bool {
	return r.DeletionTimestamp != nil
}

func (r *Resource) DeepCopyInto(out *Resource) {
	*out = *r
	r.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	if r.Spec != nil {
		out.Spec = make(json.RawMessage, len(r.Spec))
		copy(out.Spec, r.Spec)
	}
	if r.Status != nil {
		s := &Status{URL: r.Status.URL}
		if r.Status.Conditions != nil {
			s.Conditions = make([]Condition, len(r.Status.Conditions))
			for i, c := range r.Status.Conditions {
				s.Conditions[i] = c
				if c.LastTransitionTime != nil {
					t := *c.LastTransitionTime
					s.Conditions[i].LastTransitionTime = &t
				}
			}
		}
		out.Status = s
	}
}

func (r *Resource) DeepCopy() *Resource {
	if r == nil {
		return nil
	}
	out := new(Resource)
	r.DeepCopyInto(out)
	return out
}

// Phase of UIStatus.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseTerminating   Phase = "terminating"
	PhaseWarning       Phase = "warning"
	PhaseReady         Phase = "ready"
	PhaseUnavailable   Phase = "unavailable"
)

// UIStatus is a status of a resource derived for users.
//
// It is never sent to the backend.
type UIStatus struct {
	Phase   Phase  `json:"phase"`
	State   string `json:"state"`
	Message string `json:"message"`
}

func (s UIStatus) String() string {
	if s.State == "" {
		return fmt.Sprintf("%s: %s", s.Phase, s.Message)
	}
	return fmt.Sprintf("%s (%s): %s", s.Phase, s.State, s.Message)
}
