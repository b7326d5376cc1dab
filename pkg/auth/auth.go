// Package auth checks credentials before they are sent to the backend.
//
// The backend (and proxies in front of it) reject requests with huge identity
// headers. Tokens issued by identity providers grow with group memberships,
// so the size is checked on both sides with the same limits.
package auth

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	xe "github.com/opst/modelsync/pkg/errors"
	"github.com/opst/modelsync/pkg/logger"
)

const (
	DefaultWarnThreshold  = 16000
	DefaultErrorThreshold = 28000
)

// Limits for the size of identity headers, in bytes.
type Limits struct {
	Warn  int `yaml:"warn"`
	Error int `yaml:"error"`
}

func DefaultLimits() Limits {
	return Limits{Warn: DefaultWarnThreshold, Error: DefaultErrorThreshold}
}

// Size of identity headers: the Authorization header value and the user id header value.
func Size(authorization string, userid string) int {
	return len(authorization) + len(userid)
}

// Verdict of Limits.Judge.
type Verdict int

const (
	Acceptable Verdict = iota
	Large
	TooLarge
)

func (l Limits) Judge(size int) Verdict {
	switch {
	case 0 < l.Error && l.Error < size:
		return TooLarge
	case 0 < l.Warn && l.Warn < size:
		return Large
	default:
		return Acceptable
	}
}

// Credential is what is sent with each request.
type Credential struct {
	// bearer token. Sent as "Authorization: Bearer {Token}" when not empty.
	Token string

	UserIDHeader string
	UserID       string
}

func (c Credential) authorization() string {
	if c.Token == "" {
		return ""
	}
	return "Bearer " + c.Token
}

type Checker struct {
	limits Limits
	now    func() time.Time
	logger *log.Logger
}

type Option func(*Checker) *Checker

func WithLimits(l Limits) Option {
	return func(c *Checker) *Checker {
		c.limits = l
		return c
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Checker) *Checker {
		c.now = now
		return c
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Checker) *Checker {
		c.logger = l
		return c
	}
}

func NewChecker(opts ...Option) *Checker {
	c := &Checker{limits: DefaultLimits(), now: time.Now, logger: logger.Null()}
	for _, o := range opts {
		c = o(c)
	}
	return c
}

// Check verifies that cred can be sent.
//
// # Returns
//
// - error: ErrTokenTooLarge when identity headers exceed the error threshold,
// ErrTokenExpired when the token is a JWT and it has expired.
// Tokens which are not JWT are not checked for their expiry.
func (c *Checker) Check(cred Credential) error {
	size := Size(cred.authorization(), cred.UserID)
	switch c.limits.Judge(size) {
	case TooLarge:
		return xe.New(
			fmt.Sprintf("identity headers are too large: %d bytes (limit: %d)", size, c.limits.Error),
			xe.WithKind(xe.ErrTokenTooLarge),
			xe.WithDetailText("This typically occurs when your account has many group memberships."),
		)
	case Large:
		c.logger.Printf("large identity headers: %d bytes", size)
	}

	if cred.Token == "" {
		return nil
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(cred.Token, &claims); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil // opaque token
		}
		return xe.New("cannot parse the token", xe.WithCause(err))
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	if exp := claims.ExpiresAt.Time; !c.now().Before(exp) {
		return xe.New(
			fmt.Sprintf("the token has expired at %s", exp.Format(time.RFC3339)),
			xe.WithKind(xe.ErrTokenExpired),
		)
	}
	return nil
}

// Prepare returns a function which checks cred and sets it to requests.
func (c *Checker) Prepare(cred Credential) func(*http.Request) error {
	return func(req *http.Request) error {
		if err := c.Check(cred); err != nil {
			return err
		}
		if a := cred.authorization(); a != "" {
			req.Header.Set("Authorization", a)
		}
		if cred.UserID != "" && strings.TrimSpace(cred.UserIDHeader) != "" {
			req.Header.Set(cred.UserIDHeader, cred.UserID)
		}
		return nil
	}
}
