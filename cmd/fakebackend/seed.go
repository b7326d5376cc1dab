package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opst/modelsync/internal/testutils/backend"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"gopkg.in/yaml.v3"
)

// Seed is the initial content of the backend.
//
//	inferenceServices:
//	  - metadata: {name: sklearn-iris, namespace: default}
//	    spec: {...}
//	    status: {conditions: [{type: Ready, status: "True"}]}
//	inferenceGraphs: []
type Seed struct {
	InferenceServices []resources.Resource `json:"inferenceServices"`
	InferenceGraphs   []resources.Resource `json:"inferenceGraphs"`
}

// LoadSeed reads a seed file in yaml (or json).
func LoadSeed(path string) (Seed, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}

	// resources are tagged for json. yaml is converted into json once.
	var raw any
	if err := yaml.Unmarshal(buf, &raw); err != nil {
		return Seed{}, fmt.Errorf("%s: %w", path, err)
	}
	js, err := json.Marshal(raw)
	if err != nil {
		return Seed{}, fmt.Errorf("%s: %w", path, err)
	}

	s := Seed{}
	if err := json.Unmarshal(js, &s); err != nil {
		return Seed{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s Seed) Into(store *backend.Store) {
	for _, r := range s.InferenceServices {
		store.Put(resources.KindInferenceService, r)
	}
	for _, r := range s.InferenceGraphs {
		store.Put(resources.KindInferenceGraph, r)
	}
}
