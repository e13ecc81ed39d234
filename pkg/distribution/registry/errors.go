package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/docker/distribution/registry/api/errcode"
	v2 "github.com/docker/distribution/registry/api/v2"
)

// maxErrorBody bounds how much of an error response is decoded.
const maxErrorBody = 64 << 10

// Error is returned for any failed registry request. It unwraps to the
// matching errdefs class so callers can use errdefs.IsNotFound and friends.
type Error struct {
	Reference  string
	StatusCode int
	// Code is the registry error code, e.g. MANIFEST_UNKNOWN.
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Code != "":
		return fmt.Sprintf("registry: %s: %s (%s)", e.Reference, msg, e.Code)
	case e.StatusCode != 0:
		return fmt.Sprintf("registry: %s: %s (HTTP %d)", e.Reference, msg, e.StatusCode)
	default:
		return fmt.Sprintf("registry: %s: %s", e.Reference, msg)
	}
}

func (e *Error) Unwrap() []error {
	errs := []error{e.class()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) class() error {
	switch {
	case e.StatusCode == 0 && e.Code == "":
		return errdefs.ErrUnavailable
	case e.StatusCode == http.StatusNotFound,
		e.Code == v2.ErrorCodeManifestUnknown.String(),
		e.Code == v2.ErrorCodeNameUnknown.String(),
		e.Code == v2.ErrorCodeBlobUnknown.String():
		return errdefs.ErrNotFound
	case e.StatusCode == http.StatusUnauthorized,
		e.StatusCode == http.StatusForbidden,
		e.Code == errcode.ErrorCodeUnauthorized.String(),
		e.Code == errcode.ErrorCodeDenied.String():
		return errdefs.ErrPermissionDenied
	case e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode >= http.StatusInternalServerError,
		e.Code == errcode.ErrorCodeTooManyRequests.String(),
		e.Code == errcode.ErrorCodeUnavailable.String():
		return errdefs.ErrUnavailable
	default:
		return errdefs.ErrUnknown
	}
}

// IsNotFound reports whether err means the model or blob does not exist.
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}

// newTransportError wraps a failure to reach the registry at all.
func newTransportError(ref string, err error) *Error {
	return &Error{Reference: ref, Message: "request failed", Err: err}
}

// newResponseError decodes a non-success response. The body is consumed but
// not closed.
func newResponseError(ref string, resp *http.Response) *Error {
	e := &Error{
		Reference:  ref,
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return e
	}

	var errs errcode.Errors
	if json.Unmarshal(body, &errs) != nil || len(errs) == 0 {
		return e
	}
	var (
		detailed errcode.Error
		code     errcode.ErrorCode
	)
	switch {
	case errors.As(errs[0], &detailed):
		e.Code = detailed.Code.String()
		if detailed.Message != "" {
			e.Message = detailed.Message
		}
	case errors.As(errs[0], &code):
		e.Code = code.String()
		e.Message = code.Message()
	}
	e.Err = errs
	return e
}
