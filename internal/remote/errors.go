package remote

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is wrapped by the TransportError for a 401. The
// authority never judged the request, so queued work is kept for replay
// once the token is renewed.
var ErrUnauthorized = errors.New("credentials not accepted")

// RejectionError means the authority understood the request and refused it.
// Retrying the same request will not help.
type RejectionError struct {
	Op     string
	Status int
	Code   string
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s rejected (%d %s): %s", e.Op, e.Status, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s rejected (%d): %s", e.Op, e.Status, e.Reason)
}

// TransportError means the authority could not be reached or did not
// produce a usable answer (dial failure, timeout, 401, 5xx, undecodable body).
type TransportError struct {
	Op     string
	Status int // 0 when no response was received
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRejection reports whether err is, or wraps, a RejectionError.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
