package httpclient

import (
	"errors"
	"fmt"
)

// ErrAuthExpired is matched by every AuthExpiredError.
var ErrAuthExpired = errors.New("authentication expired")

// NetworkError means no response was received.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a response with a 4xx or 5xx status.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.Status)
}

func (e *HTTPError) StatusCode() int { return e.Status }

// AuthExpiredError is returned when a 401 survives the refresh flow or the
// refresh itself fails. Cause is the underlying failure, if any.
type AuthExpiredError struct {
	Cause error
}

func (e *AuthExpiredError) Error() string {
	if e.Cause == nil {
		return ErrAuthExpired.Error()
	}
	return fmt.Sprintf("%v: %v", ErrAuthExpired, e.Cause)
}

func (e *AuthExpiredError) Is(target error) bool { return target == ErrAuthExpired }

func (e *AuthExpiredError) Unwrap() error { return e.Cause }

// DomainError carries the business message of a backend reply with
// IsSuccess set to false.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string { return e.Message }
