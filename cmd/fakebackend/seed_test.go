package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opst/modelsync/internal/testutils/backend"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/utils/try"
	corev1 "k8s.io/api/core/v1"
)

func TestLoadSeed(t *testing.T) {
	t.Run("resources in yaml are put into the store", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "seed.yaml")
		if err := os.WriteFile(path, []byte(`
inferenceServices:
  - metadata:
      name: sklearn-iris
      namespace: default
    spec:
      predictor:
        model:
          modelFormat: {name: sklearn}
    status:
      conditions:
        - type: Ready
          status: "True"
inferenceGraphs:
  - metadata:
      name: graph
      namespace: default
`), 0600); err != nil {
			t.Fatal(err)
		}

		seed := try.To(LoadSeed(path)).OrFatal(t)
		store := backend.NewStore()
		seed.Into(store)

		isvc, ok := store.Get(resources.KindInferenceService, "default", "sklearn-iris")
		if !ok {
			t.Fatal("InferenceService is not seeded")
		}
		if isvc.Status == nil || isvc.Status.Conditions[0].Status != corev1.ConditionTrue || len(isvc.Spec) == 0 {
			t.Errorf("unexpected resource: %+v", isvc)
		}
		if _, ok := store.Get(resources.KindInferenceGraph, "default", "graph"); !ok {
			t.Error("InferenceGraph is not seeded")
		}
	})

	t.Run("when yaml is broken, it is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "seed.yaml")
		if err := os.WriteFile(path, []byte("inferenceServices: ["), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadSeed(path); err == nil {
			t.Error("expected error, but got nil")
		}
	})
}

func TestFlip(t *testing.T) {
	t.Run("it toggles readiness", func(t *testing.T) {
		store := backend.NewStore()
		r := resources.Resource{}
		r.Namespace, r.Name = "default", "m1"
		r.Status = &resources.Status{Conditions: []resources.Condition{{Type: "Ready", Status: corev1.ConditionTrue}}}
		store.Put(resources.KindInferenceService, r)

		flip(store, []string{"default"})
		got, _ := store.Get(resources.KindInferenceService, "default", "m1")
		if got.Status.Conditions[0].Status != corev1.ConditionFalse || got.Status.Conditions[0].Message == "" {
			t.Errorf("unexpected status: %+v", got.Status)
		}

		flip(store, []string{"default"})
		got, _ = store.Get(resources.KindInferenceService, "default", "m1")
		if got.Status.Conditions[0].Status != corev1.ConditionTrue {
			t.Errorf("unexpected status: %+v", got.Status)
		}
	})
}
