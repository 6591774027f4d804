package proctor

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-proctoring/internal/cache"
)

var (
	// ErrValidation marks bad input rejected before any network call.
	ErrValidation = errors.New("invalid input")
	// ErrTransport marks a failed or unacceptable remote call.
	ErrTransport = errors.New("remote call failed")
	// ErrRecursionLimit is returned when a list endpoint keeps handing out
	// new cursors past the configured ceiling.
	ErrRecursionLimit = errors.New("pagination recursion limit exceeded")
	// ErrUnknownStatus is returned for a status string outside the vendor enum.
	ErrUnknownStatus = errors.New("unknown proctoring status")
	// ErrCacheWrite is returned when a result could not be cached.
	ErrCacheWrite = cache.ErrWrite
)

// ValidationError names the offending input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransportError carries what is known about a failed remote call. StatusCode
// is zero when no response was received.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
