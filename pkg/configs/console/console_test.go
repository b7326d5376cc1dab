package console_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opst/modelsync/pkg/api/types/backend"
	"github.com/opst/modelsync/pkg/configs/console"
	"github.com/opst/modelsync/pkg/mutation"
	"github.com/opst/modelsync/pkg/poller"
	"github.com/opst/modelsync/pkg/rest/mock"
	"github.com/opst/modelsync/pkg/utils/try"
)

func TestUnmarshalSettings(t *testing.T) {
	t.Run("when fields are missing, defaults are taken", func(t *testing.T) {
		actual := try.To(console.UnmarshalSettings([]byte(`
stream: never
poll:
  interval: 1s
  maxInterval: 30s
deletePolicy: revert
`))).OrFatal(t)

		expected := console.DefaultSettings()
		expected.Stream = console.StreamNever
		expected.Poll = poller.Config{Interval: time.Second, MaxInterval: 30 * time.Second, MaxRetries: poller.Default.MaxRetries}
		expected.DeletePolicy = mutation.RevertOnFailure

		if actual != expected {
			t.Errorf("(actual, expected) = (%+v, %+v)", actual, expected)
		}
	})

	t.Run("when yaml is empty, it is DefaultSettings", func(t *testing.T) {
		actual := try.To(console.UnmarshalSettings([]byte(``))).OrFatal(t)
		if actual != console.DefaultSettings() {
			t.Errorf("unexpected settings: %+v", actual)
		}
	})

	for name, yml := range map[string]string{
		"unknown stream mode":              `stream: sometimes`,
		"unknown delete policy":            `deletePolicy: forget`,
		"maxInterval shorter than interval": "poll:\n  interval: 10s\n  maxInterval: 1s",
		"error threshold below warn":        "tokenSize:\n  warn: 100\n  error: 10",
		"broken yaml":                       `stream: [`,
	} {
		t.Run("when "+name+" is given, it is an error", func(t *testing.T) {
			_, err := console.UnmarshalSettings([]byte(yml))
			if !errors.Is(err, console.ErrInvalidSettings) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadSettings(t *testing.T) {
	t.Run("when the file does not exist, it returns defaults", func(t *testing.T) {
		actual := try.To(console.LoadSettings(filepath.Join(t.TempDir(), "settings.yaml"))).OrFatal(t)
		if actual != console.DefaultSettings() {
			t.Errorf("unexpected settings: %+v", actual)
		}
	})

	t.Run("when the file exists, it is read", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.yaml")
		if err := os.WriteFile(path, []byte("maxAttempts: 5\nreconnectDelay: 250ms\n"), 0600); err != nil {
			t.Fatal(err)
		}
		actual := try.To(console.LoadSettings(path)).OrFatal(t)
		if actual.MaxAttempts != 5 || actual.ReconnectDelay != 250*time.Millisecond {
			t.Errorf("unexpected settings: %+v", actual)
		}
	})
}

func TestNewNamespaceConfig(t *testing.T) {
	type then struct {
		single       bool
		autoSelected string
	}

	theory := func(when []string, then then) func(*testing.T) {
		return func(t *testing.T) {
			actual := console.NewNamespaceConfig(when)
			if actual.SingleNamespace != then.single {
				t.Errorf("single: (actual, expected) = (%v, %v)", actual.SingleNamespace, then.single)
			}
			if actual.AutoSelected != then.autoSelected {
				t.Errorf("autoSelected: (actual, expected) = (%s, %s)", actual.AutoSelected, then.autoSelected)
			}
			if actual.Namespaces == nil {
				t.Error("namespaces should not be nil")
			}
		}
	}

	t.Run("when default is listed, it is selected", theory(
		[]string{"kf", "default", "team"}, then{autoSelected: "default"},
	))
	t.Run("when default is not listed, the first is selected", theory(
		[]string{"kf", "team"}, then{autoSelected: "kf"},
	))
	t.Run("when only one is listed, it is single namespace", theory(
		[]string{"kf"}, then{single: true, autoSelected: "kf"},
	))
	t.Run("when nothing is listed, nothing is selected", theory(
		nil, then{},
	))
}

func TestBootstrap(t *testing.T) {
	t.Run("when the backend serves configurations, they are taken", func(t *testing.T) {
		client := mock.New(t)
		app := backend.AppConfig{GrafanaPrefix: "/g", SSEEnabled: true}
		client.Impl.Config = func(context.Context) (backend.AppConfig, error) { return app, nil }
		client.Impl.Namespaces = func(context.Context) ([]string, error) { return []string{"kf"}, nil }

		actual := console.Bootstrap(context.Background(), client)
		if actual.App != app {
			t.Errorf("app: (actual, expected) = (%+v, %+v)", actual.App, app)
		}
		if !actual.Namespaces.SingleNamespace || actual.Namespaces.AutoSelected != "kf" {
			t.Errorf("unexpected namespaces: %+v", actual.Namespaces)
		}
		if !actual.PreferStream(console.DefaultSettings()) {
			t.Error("stream should be preferred when sse is enabled")
		}
	})

	t.Run("when the backend fails, defaults are taken", func(t *testing.T) {
		client := mock.New(t)
		client.Impl.Config = func(context.Context) (backend.AppConfig, error) { return backend.AppConfig{}, errors.New("fake") }
		client.Impl.Namespaces = func(context.Context) ([]string, error) { return nil, errors.New("fake") }

		actual := console.Bootstrap(context.Background(), client)
		if actual.App != backend.DefaultAppConfig() {
			t.Errorf("unexpected app config: %+v", actual.App)
		}
		if len(actual.Namespaces.Namespaces) != 0 || actual.Namespaces.AutoSelected != "" {
			t.Errorf("unexpected namespaces: %+v", actual.Namespaces)
		}
		if actual.PreferStream(console.DefaultSettings()) {
			t.Error("stream should not be preferred by default")
		}

		always := console.DefaultSettings()
		always.Stream = console.StreamAlways
		if !actual.PreferStream(always) {
			t.Error("stream should be preferred when it is always")
		}
	})
}
