package http

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingLocation is wrapped by StatusError when a redirect response has no
// Location header.
var ErrMissingLocation = errors.New("http: redirect without location")

// StatusError is returned when the final response has a non-2xx status.
type StatusError struct {
	Code int
	URL  string
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("HTTP %d %s", e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error { return e.Err }

// Permanent reports whether retrying the request is known not to help.
func (e *StatusError) Permanent() bool {
	switch e.Code {
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}

// RedirectLoopError is returned when a fetch exceeds the redirect hop limit.
type RedirectLoopError struct {
	Hops int
	URL  string
}

func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("too many redirects (%d) at %s", e.Hops, e.URL)
}

// TransportError wraps connection level failures.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError is returned when an attempt exceeds its deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout fetching %s: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// FilesystemError wraps local file failures while writing an artifact or
// preparing its directory.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
