package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthentication is returned when the controller rejects the credentials.
var ErrAuthentication = errors.New("controller authentication failed")

// RemoteCallError is returned for a non-2xx response or a transport fault.
type RemoteCallError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteCallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// Temporary reports whether repeating the call may succeed.
func (e *RemoteCallError) Temporary() bool {
	if e.Err != nil {
		return true
	}
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable reports whether err is a remote call failure worth repeating.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rce *RemoteCallError
	if errors.As(err, &rce) {
		return rce.Temporary()
	}
	return false
}
