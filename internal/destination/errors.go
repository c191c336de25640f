package destination

import (
	"errors"
	"fmt"
)

// ErrAlreadyExists reports that the destination already holds the entity.
// Callers treat it as success.
var ErrAlreadyExists = errors.New("entity already exists")

// RejectionError is a create call the destination refused for any reason
// other than a duplicate. Payload keeps the destination's response body for
// operators.
type RejectionError struct {
	Kind       string
	Name       string
	StatusCode int
	Payload    string
	Err        error
}

// Error implements error.
func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("destination rejected %s %q", e.Kind, e.Name)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Payload != "" {
		msg += ": " + e.Payload
	}
	return msg
}

// Unwrap exposes the transport error, if any.
func (e *RejectionError) Unwrap() error {
	return e.Err
}
