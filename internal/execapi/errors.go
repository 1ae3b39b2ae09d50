package execapi

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the API could not be reached or answered with an
	// unreadable body.
	ErrUnavailable = errors.New("execution API unavailable")
	// ErrRejected means the API answered with a non-success status.
	ErrRejected = errors.New("execution API rejected request")
	// ErrInvalidInput means the request was not sent because its input is
	// unusable.
	ErrInvalidInput = errors.New("invalid input")
)

// RejectedError carries the status and body of a rejected call.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: http %d", ErrRejected, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", ErrRejected, e.StatusCode, e.Body)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}
