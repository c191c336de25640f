package httpclient

import (
	"errors"
	"fmt"
)

// ErrTransient marks failures in a retryable class (throttling, 5xx, timeouts).
// Matching errors have already exhausted the client's retry budget.
var ErrTransient = errors.New("transient network failure")

// NetworkError reports a request that failed after all attempts.
type NetworkError struct {
	Method     string
	URL        string
	FinalURL   string // where redirects ended, when the server answered
	StatusCode int
	Body       []byte
	Attempts   int
	Err        error

	transient bool
}

// Error implements error.
func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: status %d after %d attempt(s): %v", e.Method, e.URL, e.StatusCode, e.Attempts, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d after %d attempt(s)", e.Method, e.URL, e.StatusCode, e.Attempts)
	default:
		return fmt.Sprintf("%s %s: failed after %d attempt(s): %v", e.Method, e.URL, e.Attempts, e.Err)
	}
}

// Unwrap exposes the underlying transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is reports whether the failure belongs to the transient class.
func (e *NetworkError) Is(target error) bool {
	return target == ErrTransient && e.transient
}
