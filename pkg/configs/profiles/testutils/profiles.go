package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opst/modelsync/pkg/configs/profiles"
	"gopkg.in/yaml.v3"
)

// TempProfile writes a profile store with a profile into a temporary directory.
//
// The file is removed after the test.
func TempProfile(t *testing.T, name string, profile *profiles.Profile) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "profile")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := yaml.NewEncoder(f).Encode(profiles.ProfileStore{name: profile}); err != nil {
		t.Fatal(err)
	}
	return path
}
