package auth_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opst/modelsync/pkg/auth"
	xe "github.com/opst/modelsync/pkg/errors"
	"github.com/opst/modelsync/pkg/utils/try"
)

func signed(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return try.To(token.SignedString([]byte("secret"))).OrFatal(t)
}

func TestLimits_Judge(t *testing.T) {
	l := auth.DefaultLimits()
	for size, expected := range map[int]auth.Verdict{
		0:     auth.Acceptable,
		16000: auth.Acceptable,
		16001: auth.Large,
		28000: auth.Large,
		28001: auth.TooLarge,
	} {
		if actual := l.Judge(size); actual != expected {
			t.Errorf("size %d: (actual, expected) = (%d, %d)", size, actual, expected)
		}
	}
}

func TestChecker_Check(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	type when struct {
		cred   auth.Credential
		limits auth.Limits
	}

	theory := func(when when, then error) func(*testing.T) {
		return func(t *testing.T) {
			testee := auth.NewChecker(
				auth.WithLimits(when.limits),
				auth.WithClock(func() time.Time { return now }),
			)
			err := testee.Check(when.cred)
			if then == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, then) {
				t.Errorf("(actual, expected) = (%v, %v)", err, then)
			}
		}
	}

	t.Run("when no token is given, it passes", theory(
		when{limits: auth.DefaultLimits()}, nil,
	))

	t.Run("when an opaque token is given, it passes", theory(
		when{cred: auth.Credential{Token: "opaque-token"}, limits: auth.DefaultLimits()}, nil,
	))

	t.Run("when a JWT is not expired yet, it passes", theory(
		when{
			cred: auth.Credential{Token: signed(t, jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			})},
			limits: auth.DefaultLimits(),
		},
		nil,
	))

	t.Run("when a JWT has expired, it returns ErrTokenExpired", theory(
		when{
			cred: auth.Credential{Token: signed(t, jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			})},
			limits: auth.DefaultLimits(),
		},
		xe.ErrTokenExpired,
	))

	t.Run("when identity headers exceed the error threshold, it returns ErrTokenTooLarge", theory(
		when{
			cred:   auth.Credential{Token: "t", UserID: strings.Repeat("u", 100)},
			limits: auth.Limits{Warn: 10, Error: 50},
		},
		xe.ErrTokenTooLarge,
	))

	t.Run("when identity headers exceed only the warning threshold, it passes", theory(
		when{
			cred:   auth.Credential{Token: "t", UserID: strings.Repeat("u", 20)},
			limits: auth.Limits{Warn: 10, Error: 50},
		},
		nil,
	))
}

func TestChecker_Prepare(t *testing.T) {
	t.Run("when the credential is acceptable, headers are set", func(t *testing.T) {
		testee := auth.NewChecker()
		prepare := testee.Prepare(auth.Credential{
			Token: "opaque", UserIDHeader: "kubeflow-userid", UserID: "alice@example.com",
		})

		req := try.To(http.NewRequest(http.MethodGet, "http://example.com", nil)).OrFatal(t)
		if err := prepare(req); err != nil {
			t.Fatal(err)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer opaque" {
			t.Errorf("authorization: %s", got)
		}
		if got := req.Header.Get("kubeflow-userid"); got != "alice@example.com" {
			t.Errorf("userid: %s", got)
		}
	})

	t.Run("when the credential is rejected, headers are not set", func(t *testing.T) {
		testee := auth.NewChecker(auth.WithLimits(auth.Limits{Error: 5}))
		prepare := testee.Prepare(auth.Credential{Token: "long-long-token"})

		req := try.To(http.NewRequest(http.MethodGet, "http://example.com", nil)).OrFatal(t)
		if err := prepare(req); !errors.Is(err, xe.ErrTokenTooLarge) {
			t.Errorf("unexpected error: %v", err)
		}
		if got := req.Header.Get("Authorization"); got != "" {
			t.Errorf("authorization should be empty: %s", got)
		}
	})
}
