package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	xe "github.com/opst/modelsync/pkg/errors"
)

func TestSyncError(t *testing.T) {
	t.Run("it is its kind and its cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := xe.New(
			"cannot list InferenceServices",
			xe.WithKind(xe.ErrTransport), xe.WithCause(cause),
		)

		if !errors.Is(err, xe.ErrTransport) {
			t.Error("it should be ErrTransport")
		}
		if !errors.Is(err, cause) {
			t.Error("it should wrap its cause")
		}
		if errors.Is(err, xe.ErrDecode) {
			t.Error("it should not be ErrDecode")
		}
		if err.Error() != "cannot list InferenceServices" {
			t.Errorf("unexpected message: %s", err.Error())
		}
	})

	t.Run("it is unwrapped through fmt.Errorf", func(t *testing.T) {
		err := fmt.Errorf("%w: in namespace kf", xe.Decode("broken frame", errors.New("eof")))
		if !errors.Is(err, xe.ErrDecode) {
			t.Error("it should be ErrDecode")
		}
	})

	t.Run("it prints detail after summary", func(t *testing.T) {
		err := xe.New("server error", xe.WithDetailText(`{"log": "boom"}`))
		if err.Error() != "server error\n{\"log\": \"boom\"}" {
			t.Errorf("unexpected message: %q", err.Error())
		}
	})

	t.Run("Verbose includes kind, verbose message, and cause", func(t *testing.T) {
		err := xe.New(
			"delete failed",
			xe.WithKind(xe.ErrMutation),
			xe.WithVerbose("DELETE /api/namespaces/kf/inferenceservices/m1"),
			xe.WithCause(xe.New("forbidden")),
		)
		v := err.Verbose()
		for _, s := range []string{"delete failed", xe.ErrMutation.Error(), "DELETE /api", "forbidden"} {
			if !strings.Contains(v, s) {
				t.Errorf("%q is not in verbose message: %s", s, v)
			}
		}
	})

	t.Run("StatusCodeOf finds status code in causes", func(t *testing.T) {
		inner := xe.New("not found", xe.WithStatus(404), xe.WithKind(xe.ErrNotFound))
		outer := fmt.Errorf("wrapped: %w", xe.New("cannot get", xe.WithCause(inner)))

		code, ok := xe.StatusCodeOf(outer)
		if !ok || code != 404 {
			t.Errorf("(code, ok) = (%d, %v)", code, ok)
		}

		if _, ok := xe.StatusCodeOf(errors.New("plain")); ok {
			t.Error("plain error should not have status code")
		}
	})
}
