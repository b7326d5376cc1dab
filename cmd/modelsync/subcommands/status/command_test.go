package status_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opst/modelsync/cmd/modelsync/subcommands/common"
	"github.com/opst/modelsync/cmd/modelsync/subcommands/internal/commandline"
	substatus "github.com/opst/modelsync/cmd/modelsync/subcommands/status"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/configs/console"
	xe "github.com/opst/modelsync/pkg/errors"
	"github.com/opst/modelsync/pkg/logger"
	"github.com/opst/modelsync/pkg/rest/mock"
	"github.com/youta-t/flarc"
	corev1 "k8s.io/api/core/v1"
)

func isvc(ns, name string, ready corev1.ConditionStatus) resources.Resource {
	r := resources.Resource{}
	r.Kind = string(resources.KindInferenceService)
	r.Namespace, r.Name = ns, name
	r.Status = &resources.Status{Conditions: []resources.Condition{{Type: "Ready", Status: ready}}}
	return r
}

func envOf(client *mock.MockClient, nss ...string) common.Env {
	return common.Env{
		Settings:  console.DefaultSettings(),
		Console:   console.Console{Namespaces: console.NewNamespaceConfig(nss)},
		Resources: client,
	}
}

func run(t *testing.T, env common.Env, flags substatus.Flag, args map[string][]string) (string, error) {
	t.Helper()
	stdout := new(strings.Builder)
	err := substatus.Task()(
		context.Background(),
		logger.Null(),
		env,
		commandline.MockCommandline[substatus.Flag]{
			Fullname_: "modelsync status",
			Stdout_:   stdout,
			Stderr_:   new(strings.Builder),
			Flags_:    flags,
			Args_:     args,
		},
		[]any{},
	)
	return stdout.String(), err
}

func TestStatus(t *testing.T) {
	t.Run("when no namespace is given, the auto-selected namespace is listed", func(t *testing.T) {
		client := mock.New(t)
		client.InferenceServices_.Impl.List = func(ctx context.Context, namespace string) ([]resources.Resource, error) {
			return []resources.Resource{isvc(namespace, "m1", corev1.ConditionTrue)}, nil
		}

		out, err := run(t, envOf(client, "kf", "default"), substatus.Flag{Kind: "isvc"}, map[string][]string{})
		if err != nil {
			t.Fatal(err)
		}
		if calls := client.InferenceServices_.Recorded().List; len(calls) != 1 || calls[0] != "default" {
			t.Errorf("unexpected calls: %v", calls)
		}
		if !strings.Contains(out, "m1") || !strings.Contains(out, "ready") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("when some namespaces fail, others are shown", func(t *testing.T) {
		client := mock.New(t)
		client.InferenceGraphs_.Impl.List = func(ctx context.Context, namespace string) ([]resources.Resource, error) {
			if namespace == "broken" {
				return nil, xe.New("unavailable", xe.WithStatus(503))
			}
			return []resources.Resource{isvc(namespace, "g-"+namespace, corev1.ConditionFalse)}, nil
		}

		out, err := run(
			t, envOf(client, "kf"),
			substatus.Flag{Kind: "ig", Namespace: []string{"kf", "broken", "team"}},
			map[string][]string{},
		)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, "g-kf") || !strings.Contains(out, "g-team") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("when NAME is given with --events, the resource and its events are shown", func(t *testing.T) {
		client := mock.New(t)
		client.InferenceServices_.Impl.Get = func(ctx context.Context, namespace, name string) (resources.Resource, error) {
			return isvc(namespace, name, corev1.ConditionFalse), nil
		}
		client.InferenceServices_.Impl.Events = func(ctx context.Context, namespace, name string) ([]corev1.Event, error) {
			return []corev1.Event{{Reason: "InternalError", Message: "fails to pull image", Type: corev1.EventTypeWarning}}, nil
		}

		out, err := run(
			t, envOf(client, "kf"),
			substatus.Flag{Kind: "isvc", Events: true},
			map[string][]string{substatus.ARG_NAME: {"m1"}},
		)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, "m1") || !strings.Contains(out, "InternalError") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	for name, testcase := range map[string]struct {
		nss   []string
		flags substatus.Flag
		args  map[string][]string
	}{
		"unknown kind": {
			nss: []string{"kf"}, flags: substatus.Flag{Kind: "pod"},
		},
		"no namespaces": {
			flags: substatus.Flag{Kind: "isvc"},
		},
		"NAME with many namespaces": {
			flags: substatus.Flag{Kind: "isvc", Namespace: []string{"a", "b"}},
			args:  map[string][]string{substatus.ARG_NAME: {"m1"}},
		},
		"--events without NAME": {
			nss: []string{"kf"}, flags: substatus.Flag{Kind: "isvc", Events: true},
		},
	} {
		t.Run("when "+name+", it is a usage error", func(t *testing.T) {
			args := testcase.args
			if args == nil {
				args = map[string][]string{}
			}
			_, err := run(t, envOf(mock.New(t), testcase.nss...), testcase.flags, args)
			if !errors.Is(err, flarc.ErrUsage) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
