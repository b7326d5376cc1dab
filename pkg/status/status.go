// Package status derives the status shown to users from conditions of a resource.
package status

import (
	"fmt"
	"sort"

	"github.com/opst/modelsync/pkg/api/types/resources"
	corev1 "k8s.io/api/core/v1"
)

const ConditionReady = "Ready"

// priority of condition types to be surfaced.
//
// Types not listed here come after all listed types.
var priority = map[string]int{
	"PredictorConfigurationReady":   1,
	"TransformerConfigurationReady": 2,
	"ExplainerConfigurationReady":   3,
	"PredictorRouteReady":           4,
	"TransformerRouteReady":         5,
	"ExplainerRoutesReady":          6,
	"PredictorReady":                7,
	"TransformerReady":              8,
	"ExplainerReady":                9,
	"IngressReady":                  10,
}

func rank(conditionType string) int {
	if p, ok := priority[conditionType]; ok {
		return p
	}
	return len(priority) + 1
}

// Resolve derives UIStatus of the resource.
//
// The first rule matching wins:
//
// 1. deletionTimestamp is set: Terminating.
//
// 2. no status at all: Warning, asking to see Events.
//
// 3. Ready condition is True: Ready.
//
// 4. the first condition with message, in the priority order: Warning with its reason and message.
//
// 5. otherwise: Warning, no available condition.
func Resolve(r resources.Resource) resources.UIStatus {
	kind := r.Kind

	if r.Terminating() {
		return resources.UIStatus{
			Phase:   resources.PhaseTerminating,
			Message: fmt.Sprintf("%s is being deleted.", kind),
		}
	}

	if r.Status == nil {
		return resources.UIStatus{
			Phase: resources.PhaseWarning,
			Message: fmt.Sprintf(
				"Couldn't find any information for the status. Please take a look at the Events emitted for this %s.",
				kind,
			),
		}
	}

	cond, ok := Surfaced(r.Status.Conditions)
	if !ok {
		return resources.UIStatus{
			Phase:   resources.PhaseWarning,
			Message: "Couldn't find any available condition.",
		}
	}

	if cond.Type == ConditionReady && cond.Status == corev1.ConditionTrue {
		return resources.UIStatus{
			Phase:   resources.PhaseReady,
			State:   cond.Type,
			Message: fmt.Sprintf("%s is Ready.", kind),
		}
	}

	return resources.UIStatus{
		Phase:   resources.PhaseWarning,
		State:   cond.Type,
		Message: fmt.Sprintf("%s: %s", cond.Reason, cond.Message),
	}
}

// Surfaced returns the condition which tells the most about the resource.
//
// It is Ready=True if exists. Otherwise, the first condition having message
// after stable-sorted in the priority order.
func Surfaced(conditions []resources.Condition) (resources.Condition, bool) {
	for _, c := range conditions {
		if c.Type == ConditionReady && c.Status == corev1.ConditionTrue {
			return c, true
		}
	}

	sorted := make([]resources.Condition, len(conditions))
	copy(sorted, conditions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rank(sorted[i].Type) < rank(sorted[j].Type)
	})

	for _, c := range sorted {
		if c.Message != "" {
			return c, true
		}
	}
	return resources.Condition{}, false
}

// Actions tells the state of actions users can take on a resource.
type Actions struct {
	// Copy: the resource can be used as a template of a new one.
	Copy resources.Phase

	Delete resources.Phase
}

// ActionsFor returns state of actions for the resource in the status.
func ActionsFor(s resources.UIStatus) Actions {
	a := Actions{Copy: resources.PhaseUnavailable, Delete: resources.PhaseReady}
	if s.Phase == resources.PhaseReady {
		a.Copy = resources.PhaseReady
	}
	if s.Phase == resources.PhaseTerminating {
		a.Delete = resources.PhaseTerminating
	}
	return a
}
