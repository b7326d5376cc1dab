package status_test

import (
	"testing"
	"time"

	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/status"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func isvc(name string, st *resources.Status) resources.Resource {
	r := resources.Resource{Status: st}
	r.Kind = string(resources.KindInferenceService)
	r.Namespace = "kf"
	r.Name = name
	return r
}

func cond(typ string, st corev1.ConditionStatus, reason, message string) resources.Condition {
	return resources.Condition{Type: typ, Status: st, Reason: reason, Message: message}
}

func TestResolve(t *testing.T) {
	type when struct {
		resource resources.Resource
	}
	type then struct {
		status resources.UIStatus
	}

	theory := func(when when, then then) func(*testing.T) {
		return func(t *testing.T) {
			actual := status.Resolve(when.resource)
			if actual != then.status {
				t.Errorf(
					"unexpected status:\n===actual===\n%+v\n===expected===\n%+v",
					actual, then.status,
				)
			}
		}
	}

	deleted := isvc("m1", &resources.Status{
		Conditions: []resources.Condition{cond("Ready", corev1.ConditionTrue, "", "")},
	})
	deleted.DeletionTimestamp = &metav1.Time{Time: time.Now()}

	t.Run("when deletionTimestamp is set, it is Terminating even if Ready=True", theory(
		when{resource: deleted},
		then{status: resources.UIStatus{
			Phase:   resources.PhaseTerminating,
			Message: "InferenceService is being deleted.",
		}},
	))

	t.Run("when there are no status, it asks to see events", theory(
		when{resource: isvc("m1", nil)},
		then{status: resources.UIStatus{
			Phase:   resources.PhaseWarning,
			Message: "Couldn't find any information for the status. Please take a look at the Events emitted for this InferenceService.",
		}},
	))

	t.Run("when Ready=True exists among failing conditions, it is Ready", theory(
		when{resource: isvc("m1", &resources.Status{Conditions: []resources.Condition{
			cond("PredictorReady", corev1.ConditionFalse, "Failed", "predictor crashed"),
			cond("Ready", corev1.ConditionTrue, "", ""),
		}})},
		then{status: resources.UIStatus{
			Phase:   resources.PhaseReady,
			State:   "Ready",
			Message: "InferenceService is Ready.",
		}},
	))

	t.Run("when several conditions have message, the one with highest priority is surfaced", theory(
		when{resource: isvc("m1", &resources.Status{Conditions: []resources.Condition{
			cond("Ready", corev1.ConditionFalse, "NotReady", "not ready yet"),
			cond("IngressReady", corev1.ConditionFalse, "NoIngress", "ingress is not ready"),
			cond("PredictorRouteReady", corev1.ConditionFalse, "RevisionMissing", "revision is missing"),
			cond("PredictorConfigurationReady", corev1.ConditionFalse, "", ""),
		}})},
		then{status: resources.UIStatus{
			Phase:   resources.PhaseWarning,
			State:   "PredictorRouteReady",
			Message: "RevisionMissing: revision is missing",
		}},
	))

	t.Run("when only unlisted conditions have message, the first of them is surfaced", theory(
		when{resource: isvc("m1", &resources.Status{Conditions: []resources.Condition{
			cond("Ready", corev1.ConditionFalse, "NotReady", "not ready yet"),
			cond("LatestDeploymentReady", corev1.ConditionFalse, "Pending", "pending"),
			cond("PredictorReady", corev1.ConditionUnknown, "", ""),
		}})},
		then{status: resources.UIStatus{
			Phase:   resources.PhaseWarning,
			State:   "Ready",
			Message: "NotReady: not ready yet",
		}},
	))

	t.Run("when no conditions have message, it has no available condition", theory(
		when{resource: isvc("m1", &resources.Status{Conditions: []resources.Condition{
			cond("PredictorReady", corev1.ConditionFalse, "", ""),
		}})},
		then{status: resources.UIStatus{
			Phase:   resources.PhaseWarning,
			Message: "Couldn't find any available condition.",
		}},
	))

	t.Run("when conditions are empty, it has no available condition", theory(
		when{resource: isvc("m2", &resources.Status{})},
		then{status: resources.UIStatus{
			Phase:   resources.PhaseWarning,
			Message: "Couldn't find any available condition.",
		}},
	))

	t.Run("when reason is empty, message keeps the reason: message form", theory(
		when{resource: isvc("m1", &resources.Status{Conditions: []resources.Condition{
			cond("PredictorReady", corev1.ConditionFalse, "", "predictor crashed"),
		}})},
		then{status: resources.UIStatus{
			Phase:   resources.PhaseWarning,
			State:   "PredictorReady",
			Message: ": predictor crashed",
		}},
	))
}

func TestSurfaced_IsStable(t *testing.T) {
	conditions := []resources.Condition{
		cond("Foo", corev1.ConditionFalse, "", "foo"),
		cond("Bar", corev1.ConditionFalse, "", "bar"),
	}
	c, ok := status.Surfaced(conditions)
	if !ok || c.Type != "Foo" {
		t.Errorf("unexpected condition: %+v, %v", c, ok)
	}
	if conditions[0].Type != "Foo" {
		t.Error("input is modified")
	}
}

func TestActionsFor(t *testing.T) {
	for phase, expected := range map[resources.Phase]status.Actions{
		resources.PhaseReady:       {Copy: resources.PhaseReady, Delete: resources.PhaseReady},
		resources.PhaseWarning:     {Copy: resources.PhaseUnavailable, Delete: resources.PhaseReady},
		resources.PhaseTerminating: {Copy: resources.PhaseUnavailable, Delete: resources.PhaseTerminating},
	} {
		actual := status.ActionsFor(resources.UIStatus{Phase: phase})
		if actual != expected {
			t.Errorf("%s: (actual, expected) = (%+v, %+v)", phase, actual, expected)
		}
	}
}
