package fetch

import (
	"errors"
	"fmt"
)

// ErrInvalidURL is returned when user input cannot be turned into an absolute http(s) URL with a host.
var ErrInvalidURL = errors.New("invalid URL")

// ErrUnsafeHost is returned when a target host failed resolution or resolved to a non-public address.
var ErrUnsafeHost = errors.New("host is on a private/loopback network")

// NetworkError wraps any transport-level failure of a bounded fetch.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Cause returns the underlying error text without the operation prefix, for user-facing messages.
func (e *NetworkError) Cause() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Err.Error()
}
