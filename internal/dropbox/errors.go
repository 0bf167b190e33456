// Package dropbox provides an HTTP client for the Dropbox API v2 with
// automatic retry, client-side rate limiting, and error classification.
package dropbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for response classification.
// Use errors.Is(err, dropbox.ErrConflict) to check.
var (
	// ErrRequestFailed wraps every non-2xx response. It is the provider
	// request failure class; the more specific sentinels below are carried
	// alongside it.
	ErrRequestFailed    = errors.New("dropbox: request failed")
	ErrBadRequest       = errors.New("dropbox: bad request")
	ErrUnauthorized     = errors.New("dropbox: unauthorized")
	ErrForbidden        = errors.New("dropbox: forbidden")
	ErrNotFound         = errors.New("dropbox: not found")
	ErrConflict         = errors.New("dropbox: path conflict")
	ErrSharedLinkExists = errors.New("dropbox: shared link already exists")
	ErrCursorReset      = errors.New("dropbox: cursor reset")
	ErrThrottled        = errors.New("dropbox: throttled")
	ErrTooManyWrites    = errors.New("dropbox: too many write operations")
	ErrServerError      = errors.New("dropbox: server error")
)

// APIError carries the HTTP status, the Dropbox error_summary, and the raw
// body for debugging. Err is the specific sentinel (may be nil). RetryAfter
// is the wait Dropbox asked for, zero when it named none.
type APIError struct {
	StatusCode int
	Summary    string
	Message    string
	RequestID  string
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	detail := e.Summary
	if detail == "" {
		detail = e.Message
	}

	if e.RequestID != "" {
		return fmt.Sprintf("dropbox: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, detail)
	}

	return fmt.Sprintf("dropbox: HTTP %d: %s", e.StatusCode, detail)
}

// Unwrap exposes both the specific sentinel and ErrRequestFailed.
func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRequestFailed}
	}

	return []error{e.Err, ErrRequestFailed}
}

// errorEnvelope is the JSON body Dropbox sends for endpoint errors. Rate
// limit errors also carry error.retry_after in seconds.
type errorEnvelope struct {
	ErrorSummary string `json:"error_summary"`
	Error        struct {
		RetryAfter int `json:"retry_after"`
	} `json:"error"`
}

// newAPIError builds an APIError from a failed response and its body.
func newAPIError(resp *http.Response, body []byte) *APIError {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		env = errorEnvelope{}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Summary:    env.ErrorSummary,
		Message:    string(body),
		RequestID:  resp.Header.Get("X-Dropbox-Request-Id"),
		RetryAfter: retryAfter(resp.Header.Get("Retry-After"), env.Error.RetryAfter),
		Err:        classify(resp.StatusCode, env.ErrorSummary),
	}
}

// retryAfter prefers the Retry-After header over the body's retry_after.
func retryAfter(header string, bodySeconds int) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if bodySeconds > 0 {
		return time.Duration(bodySeconds) * time.Second
	}

	return 0
}

// summaryPrefixes maps error_summary prefixes to sentinels. Dropbox reports
// endpoint errors as HTTP 409 with a slash-separated tag path, e.g.
// "path/conflict/folder/...".
var summaryPrefixes = []struct {
	prefix string
	err    error
}{
	{"path/conflict", ErrConflict},
	{"to/conflict", ErrConflict},
	{"path/not_found", ErrNotFound},
	{"path_lookup/not_found", ErrNotFound},
	{"shared_link_already_exists", ErrSharedLinkExists},
	{"reset", ErrCursorReset},
}

// classify maps an HTTP status and error summary to a sentinel error.
func classify(status int, summary string) error {
	// Namespace lock contention can surface under any tag, for example
	// "path/too_many_write_operations/..".
	if strings.Contains(summary, "too_many_write_operations") {
		return ErrTooManyWrites
	}

	if status == http.StatusConflict {
		for _, p := range summaryPrefixes {
			if strings.HasPrefix(summary, p.prefix) {
				return p.err
			}
		}

		return nil
	}

	switch status {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if status >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// transient reports whether a failed call is worth repeating: throttling,
// write contention on the namespace, timeouts, and server faults other
// than 501.
func (e *APIError) transient() bool {
	switch {
	case errors.Is(e.Err, ErrThrottled), errors.Is(e.Err, ErrTooManyWrites):
		return true
	case e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode == http.StatusNotImplemented:
		return false
	default:
		return errors.Is(e.Err, ErrServerError)
	}
}
