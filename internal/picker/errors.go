// Package picker provides an HTTP client for the Google Photos Picker API
// with bearer authentication, automatic retry, and error classification.
package picker

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, picker.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("picker: bad request")
	ErrUnauthorized = errors.New("picker: unauthorized")
	ErrForbidden    = errors.New("picker: forbidden")
	ErrNotFound     = errors.New("picker: not found")
	ErrGone         = errors.New("picker: resource gone")
	ErrThrottled    = errors.New("picker: throttled")
	ErrServerError  = errors.New("picker: server error")
)

// ErrNoDownloadURL is returned when a media item carries no base URL.
var ErrNoDownloadURL = errors.New("picker: item has no download URL")

// ErrRangeIgnored is returned by DownloadRange when the server answered a
// range request with the full content. Nothing was written; the caller
// restarts from byte zero.
var ErrRangeIgnored = errors.New("picker: server ignored range request")

// APIError wraps a sentinel error with the HTTP status code and the API
// error body for debugging.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("picker: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsGone reports whether err means the remote resource no longer exists.
// A session answering 404 or 410 has expired or been deleted.
func IsGone(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrGone)
}

// IsTransient reports whether err is worth retrying on the caller's next
// scheduled attempt: network failures, throttling and server errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Not an HTTP status: transport failure or timeout.
		return true
	}

	return isRetryable(apiErr.StatusCode)
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
