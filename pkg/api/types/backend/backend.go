// Package backend defines payloads exchanged with the models web app backend.
package backend

import (
	"fmt"

	"github.com/opst/modelsync/pkg/api/types/resources"
	corev1 "k8s.io/api/core/v1"
)

// Envelope is the common shape of REST responses.
//
// Only one of the payload fields is set in each response,
// depending on the endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Log     string `json:"log,omitempty"`
	User    string `json:"user,omitempty"`
	Message string `json:"message,omitempty"`

	InferenceServices []resources.Resource `json:"inferenceServices,omitempty"`
	InferenceService  *resources.Resource  `json:"inferenceService,omitempty"`
	InferenceGraphs   []resources.Resource `json:"inferenceGraphs,omitempty"`
	InferenceGraph    *resources.Resource  `json:"inferenceGraph,omitempty"`
	Events            []corev1.Event       `json:"events,omitempty"`
	Namespaces        []string             `json:"namespaces,omitempty"`
}

// ItemsOf returns the list payload for kind.
//
// A missing list is an empty list.
func (e Envelope) ItemsOf(kind resources.Kind) ([]resources.Resource, error) {
	var items []resources.Resource
	switch kind {
	case resources.KindInferenceService:
		items = e.InferenceServices
	case resources.KindInferenceGraph:
		items = e.InferenceGraphs
	default:
		return nil, fmt.Errorf("unknown kind: %q", kind)
	}
	if items == nil {
		items = []resources.Resource{}
	}
	return items, nil
}

// ItemOf returns the single resource payload for kind, or nil when absent.
func (e Envelope) ItemOf(kind resources.Kind) (*resources.Resource, error) {
	switch kind {
	case resources.KindInferenceService:
		return e.InferenceService, nil
	case resources.KindInferenceGraph:
		return e.InferenceGraph, nil
	default:
		return nil, fmt.Errorf("unknown kind: %q", kind)
	}
}

// Success builds a successful envelope with status 200.
func Success(user string) Envelope {
	return Envelope{Success: true, Status: 200, User: user}
}

// WithItems sets the list payload for kind.
func (e Envelope) WithItems(kind resources.Kind, items []resources.Resource) Envelope {
	if items == nil {
		items = []resources.Resource{}
	}
	switch kind {
	case resources.KindInferenceService:
		e.InferenceServices = items
	case resources.KindInferenceGraph:
		e.InferenceGraphs = items
	}
	return e
}

// WithItem sets the single resource payload for kind.
func (e Envelope) WithItem(kind resources.Kind, item *resources.Resource) Envelope {
	switch kind {
	case resources.KindInferenceService:
		e.InferenceService = item
	case resources.KindInferenceGraph:
		e.InferenceGraph = item
	}
	return e
}

// AppConfig is the response of `GET /api/config`.
//
// It is not wrapped in Envelope.
type AppConfig struct {
	GrafanaPrefix         string `json:"grafanaPrefix"`
	GrafanaCPUMemoryDB    string `json:"grafanaCpuMemoryDb"`
	GrafanaHTTPRequestsDB string `json:"grafanaHttpRequestsDb"`
	SSEEnabled            bool   `json:"sseEnabled"`
}

// DefaultAppConfig is used when the backend does not serve its configuration.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		GrafanaPrefix:         "/grafana",
		GrafanaCPUMemoryDB:    "db/knative-serving-revision-cpu-and-memory-usage",
		GrafanaHTTPRequestsDB: "db/knative-serving-revision-http-requests",
		SSEEnabled:            false,
	}
}

// TokenTooLarge is the body of 413 responses for oversized identity headers.
type TokenTooLarge struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Details TokenSizeDetail `json:"details"`
}

type TokenSizeDetail struct {
	Size      int `json:"size"`
	Threshold int `json:"threshold"`
}

// NamespaceList is the response of `GET /api/config/namespaces`.
type NamespaceList struct {
	Namespaces []string `json:"namespaces"`
	Status     int      `json:"status"`
	Success    bool     `json:"success"`
}
