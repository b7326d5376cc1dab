// Package mutation tracks deletions requested by users, showing their effect
// before the backend confirms them.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/opst/modelsync/pkg/api/types/resources"
	xe "github.com/opst/modelsync/pkg/errors"
	"github.com/opst/modelsync/pkg/logger"
)

var ErrUnknownToken = errors.New("unknown deletion request")

// Policy decides the fate of the optimistic status when deletion fails.
type Policy string

const (
	// KeepOnFailure leaves the optimistic status until an authoritative event arrives.
	KeepOnFailure Policy = "keep"

	// RevertOnFailure removes the optimistic status at once.
	RevertOnFailure Policy = "revert"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", KeepOnFailure:
		return KeepOnFailure, nil
	case RevertOnFailure:
		return RevertOnFailure, nil
	}
	return "", fmt.Errorf("unknown policy: %q", s)
}

// Overrider holds optimistic statuses. *syncctl.Controller satisfies this.
type Overrider interface {
	SetPendingStatus(key resources.Key, s resources.UIStatus) bool
	ClearPendingStatus(key resources.Key) bool
}

type Deleter interface {
	Delete(ctx context.Context, namespace, name string) error
}

type Token string

// Request is a deletion which has not succeeded yet.
type Request struct {
	Token Token
	Key   resources.Key

	// Err is the error of the last attempt. nil if it has not been confirmed yet.
	Err error
}

type Tracker struct {
	overrider Overrider
	deleter   Deleter
	policy    Policy
	logger    *log.Logger

	mu      sync.Mutex
	pending map[Token]*Request
}

type Option func(*Tracker) *Tracker

func WithPolicy(p Policy) Option {
	return func(t *Tracker) *Tracker {
		t.policy = p
		return t
	}
}

func WithLogger(l *log.Logger) Option {
	return func(t *Tracker) *Tracker {
		t.logger = l
		return t
	}
}

func New(overrider Overrider, deleter Deleter, opts ...Option) *Tracker {
	t := &Tracker{
		overrider: overrider,
		deleter:   deleter,
		policy:    KeepOnFailure,
		logger:    logger.Null(),
		pending:   map[Token]*Request{},
	}
	for _, o := range opts {
		t = o(t)
	}
	return t
}

// Terminating is the optimistic status of a resource being deleted.
func Terminating(kind resources.Kind) resources.UIStatus {
	return resources.UIStatus{
		Phase:   resources.PhaseTerminating,
		Message: fmt.Sprintf("Preparing to delete %s...", kind),
	}
}

// RequestDelete registers a deletion to be confirmed. Nothing is changed yet.
func (t *Tracker) RequestDelete(key resources.Key) Token {
	tok := Token(uuid.NewString())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[tok] = &Request{Token: tok, Key: key}
	return tok
}

// Confirm performs the deletion.
//
// The optimistic status is set before the backend is called.
// On success, the request is forgotten and the optimistic status stays
// until the next event about the resource arrives.
// On failure, the request stays pending with the error, to be confirmed again or cancelled.
func (t *Tracker) Confirm(ctx context.Context, tok Token) error {
	t.mu.Lock()
	req, ok := t.pending[tok]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownToken, tok)
	}
	key := req.Key
	t.mu.Unlock()

	t.overrider.SetPendingStatus(key, Terminating(key.Kind))

	err := t.deleter.Delete(ctx, key.Namespace, key.Name)
	if err != nil && !errors.Is(err, xe.ErrMutation) {
		err = xe.New(
			fmt.Sprintf("cannot delete %s", key),
			xe.WithKind(xe.ErrMutation), xe.WithCause(err),
		)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.pending, tok)
		return nil
	}

	t.logger.Printf("deletion of %s is failed: %s", key, err)
	if req, ok := t.pending[tok]; ok {
		req.Err = err
	}
	if t.policy == RevertOnFailure {
		t.overrider.ClearPendingStatus(key)
	}
	return err
}

// Cancel dismisses a request. It reports whether the request was pending.
//
// An optimistic status already set is not changed.
func (t *Tracker) Cancel(tok Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[tok]
	delete(t.pending, tok)
	return ok
}

// Pending returns the request for tok.
func (t *Tracker) Pending(tok Token) (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.pending[tok]
	if !ok {
		return Request{}, false
	}
	return *req, true
}
