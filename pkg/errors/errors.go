// Package errors provides errors which tell users what happened, in a summary
// line and in verbose form, together with the kind of failure.
//
// Kinds are sentinels. Test them with errors.Is:
//
//	err := xe.New("cannot list InferenceServices", xe.WithKind(xe.ErrTransport), xe.WithCause(cause))
//	errors.Is(err, xe.ErrTransport) // true
//	errors.Is(err, cause)           // true
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport: the backend is not reachable, or a connection is lost.
	ErrTransport = errors.New("transport error")

	// ErrDecode: a payload from the backend is malformed.
	ErrDecode = errors.New("decode error")

	// ErrMutation: create, update or delete request is rejected.
	ErrMutation = errors.New("mutation error")

	ErrNotFound = errors.New("not found")

	ErrTokenExpired  = errors.New("token is expired")
	ErrTokenTooLarge = errors.New("token is too large")

	// ErrStreamUnsupported: the backend has no event stream for the resource kind.
	ErrStreamUnsupported = errors.New("event stream is not supported")
)

type Verbose interface {
	Verbose() string
}

type SyncError interface {
	error
	Verbose

	// HTTP status code of the response caused this error. 0 if not from a response.
	StatusCode() int
}

type syncError struct {
	summary     string
	verbose     string
	printDetail func(summary string) (string, error)
	kind        error
	base        error
	status      int
}

func (se *syncError) Unwrap() []error {
	errs := []error{}
	if se.kind != nil {
		errs = append(errs, se.kind)
	}
	if se.base != nil {
		errs = append(errs, se.base)
	}
	return errs
}

func (se *syncError) StatusCode() int {
	return se.status
}

func (se *syncError) Error() string {
	if se.printDetail == nil {
		return se.summary
	}
	message, err := se.printDetail(se.summary)
	if err != nil {
		message = fmt.Sprintf(
			"%s\n(building detailed message causes error: %s)",
			se.summary, err.Error(),
		)
	}
	return message
}

func (se *syncError) Verbose() string {
	message := []string{se.Error()}
	if se.kind != nil {
		message = append(message, "kind: "+se.kind.Error())
	}
	if se.verbose != "" {
		message = append(message, " ("+se.verbose+") ")
	}

	switch base := se.base.(type) {
	case nil:
	case Verbose:
		message = append(message, "caused by: ", base.Verbose())
	default:
		message = append(message, "caused by: ", base.Error())
	}
	return strings.Join(message, "\n")
}

type Option func(*syncError) *syncError

func New(summary string, options ...Option) SyncError {
	err := &syncError{summary: summary}
	for _, o := range options {
		err = o(err)
	}
	return err
}

func WithKind(kind error) Option {
	return func(se *syncError) *syncError {
		se.kind = kind
		return se
	}
}

func WithVerbose(verbose string) Option {
	return func(se *syncError) *syncError {
		se.verbose = verbose
		return se
	}
}

func WithDetail(printer func(summary string) (string, error)) Option {
	return func(se *syncError) *syncError {
		se.printDetail = printer
		return se
	}
}

// WithDetailText appends text to the summary as its detail.
func WithDetailText(detail string) Option {
	return WithDetail(func(summary string) (string, error) {
		if detail == "" {
			return summary, nil
		}
		return summary + "\n" + detail, nil
	})
}

func WithCause(err error) Option {
	return func(se *syncError) *syncError {
		se.base = err
		return se
	}
}

func WithStatus(code int) Option {
	return func(se *syncError) *syncError {
		se.status = code
		return se
	}
}

// StatusCodeOf returns the HTTP status code carried by err or its causes.
func StatusCodeOf(err error) (int, bool) {
	var se SyncError
	for e := err; e != nil; {
		if !errors.As(e, &se) {
			return 0, false
		}
		if code := se.StatusCode(); code != 0 {
			return code, true
		}
		inner, ok := se.(*syncError)
		if !ok || inner.base == nil {
			return 0, false
		}
		e = inner.base
	}
	return 0, false
}

// Transport wraps err as a transport error.
func Transport(summary string, err error) SyncError {
	return New(summary, WithKind(ErrTransport), WithCause(err))
}

// Decode wraps err as a decode error.
func Decode(summary string, err error) SyncError {
	return New(summary, WithKind(ErrDecode), WithCause(err))
}
