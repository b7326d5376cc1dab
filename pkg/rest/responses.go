package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apierr "github.com/opst/modelsync/pkg/api/types/errors"
	xe "github.com/opst/modelsync/pkg/errors"
)

// MessageFor is summary lines of errors for each range of status codes.
type MessageFor map[StatusCodeRange]string

// unmarshal http response which has json content.
//
// args:
//   - resp: http response to be processed.
//   - v: value which response should be.
//   - messageFor: summary of error message for HTTP status code range.
//
// return:
//
//	error if...
//	- can not read response body (ErrTransport)
//	- response body is not shaped of v (ErrDecode)
//	- status code is in 4xx or 5xx (ErrNotFound for 404, otherwise with the status code)
func unmarshalJsonResponse[T any](resp *http.Response, v *T, messageFor MessageFor) error {
	if err := checkResponse(resp, messageFor); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return xe.Decode(
			fmt.Sprintf("unexpected response: %s (status code = %d)", err.Error(), resp.StatusCode),
			err,
		)
	}
	return nil
}

// checkResponse returns an error when resp is not successful.
//
// The body is consumed only when it is not successful.
func checkResponse(resp *http.Response, messageFor MessageFor) error {
	scr := StatusCodeRangeOf(resp)
	if scr <= Status2xx {
		return nil
	}

	message, ok := messageFor[scr]
	if !ok {
		message = scr.String()
	}

	options := []xe.Option{xe.WithStatus(resp.StatusCode)}
	if resp.StatusCode == http.StatusNotFound {
		options = append(options, xe.WithKind(xe.ErrNotFound))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return xe.New(
			fmt.Sprintf("%s\ncannot read server message: %s", message, err.Error()),
			append(options, xe.WithCause(err))...,
		)
	}

	return xe.New(
		message,
		append(options, xe.WithDetailText(parseErrorMessage(body)))...,
	)
}

func discardResponse(resp *http.Response, messageFor MessageFor) error {
	if err := checkResponse(resp, messageFor); err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func parseErrorMessage(body []byte) string {
	em := apierr.ErrorMessage{}
	if err := json.Unmarshal(body, &em); err == nil {
		return em.Reason()
	}
	return string(body)
}
