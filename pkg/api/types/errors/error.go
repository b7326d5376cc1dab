package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrorMessage is the body of failed responses of the backend.
//
// The backend puts the reason in "log", or in "message" on some endpoints.
type ErrorMessage struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Log     string `json:"log,omitempty"`
	Message string `json:"message,omitempty"`
	Cause   error  `json:"-"`
}

func (em *ErrorMessage) UnmarshalJSON(bytes []byte) error {
	f := new(struct {
		Success *bool   `json:"success"`
		Status  *int    `json:"status"`
		Log     *string `json:"log"`
		Message *string `json:"message"`
	})
	if err := json.Unmarshal(bytes, f); err != nil {
		return err
	}

	if f.Log == nil && f.Message == nil {
		return fmt.Errorf(`required field missing: "log" or "message"`)
	}
	if f.Success != nil && *f.Success {
		return fmt.Errorf("not a failure: success = true")
	}

	*em = ErrorMessage{}
	if f.Status != nil {
		em.Status = *f.Status
	}
	if f.Log != nil {
		em.Log = *f.Log
	}
	if f.Message != nil {
		em.Message = *f.Message
	}
	return nil
}

// Reason returns the message told by the backend.
func (e ErrorMessage) Reason() string {
	if e.Log != "" {
		return e.Log
	}
	return e.Message
}

func (e ErrorMessage) String() string {
	lines := []string{e.Reason()}
	if e.Cause != nil {
		lines = append(lines, fmt.Sprint(" caused by:", e.Cause.Error()))
	}
	return strings.Join(lines, "\n")
}

func (e ErrorMessage) Error() string {
	return e.String()
}

func (e ErrorMessage) Unwrap() error {
	return e.Cause
}

type ErrorMessageOption func(in *ErrorMessage) *ErrorMessage

func WithError(err error) ErrorMessageOption {
	return func(in *ErrorMessage) *ErrorMessage {
		if err != nil {
			in.Cause = err
		}
		return in
	}
}

// AsMessage puts the reason in "message" instead of "log".
func AsMessage() ErrorMessageOption {
	return func(in *ErrorMessage) *ErrorMessage {
		if in.Log != "" {
			in.Message, in.Log = in.Log, ""
		}
		return in
	}
}

func NewErrorMessage(code int, reason string, opts ...ErrorMessageOption) *echo.HTTPError {
	msg := ErrorMessage{Status: code, Log: reason}
	for _, opt := range opts {
		msg = *opt(&msg)
	}

	return echo.NewHTTPError(code, msg).SetInternal(msg)
}

func NotFound(reason string) *echo.HTTPError {
	if reason == "" {
		reason = "not found"
	}
	return NewErrorMessage(http.StatusNotFound, reason)
}

func BadRequest(reason string, err error) *echo.HTTPError {
	return NewErrorMessage(http.StatusBadRequest, reason, WithError(err))
}

func Unauthorized(reason string) *echo.HTTPError {
	return NewErrorMessage(http.StatusUnauthorized, reason)
}

func RequestHeaderFieldsTooLarge(reason string) *echo.HTTPError {
	return NewErrorMessage(http.StatusRequestHeaderFieldsTooLarge, reason)
}

func ServiceUnavailable(reason string, err error) *echo.HTTPError {
	return NewErrorMessage(http.StatusServiceUnavailable, reason, WithError(err))
}

func InternalServerError(err error) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusInternalServerError,
		"unexpected error",
		WithError(err),
	)
}
