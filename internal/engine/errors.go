package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/rollcall/internal/remote"
)

// ValidationError is a precondition failure detected locally, before any
// network call. Nothing in the store has changed when one is returned.
type ValidationError struct {
	// Code identifies the failed precondition.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	ChildID   string
	SessionID string
}

// ErrorCode categorizes validation errors.
type ErrorCode string

const (
	// ErrCodeAlreadyCheckedIn indicates the child already has an active record.
	ErrCodeAlreadyCheckedIn ErrorCode = "ALREADY_CHECKED_IN"

	// ErrCodeNotCheckedIn indicates check-out of a child with no active record.
	ErrCodeNotCheckedIn ErrorCode = "NOT_CHECKED_IN"

	// ErrCodeSessionFull indicates the session has no spare capacity.
	ErrCodeSessionFull ErrorCode = "SESSION_FULL"

	// ErrCodeAgeIneligible indicates the child's age is outside the session's range.
	ErrCodeAgeIneligible ErrorCode = "AGE_INELIGIBLE"

	// ErrCodeSessionNotFound indicates the session is not in the local store.
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"

	// ErrCodeChildNotFound indicates the child is not in the local store.
	ErrCodeChildNotFound ErrorCode = "CHILD_NOT_FOUND"

	// ErrCodeSessionClosed indicates the session is not accepting check-ins.
	ErrCodeSessionClosed ErrorCode = "SESSION_CLOSED"

	// ErrCodeInvalidRegistration indicates a registration failed field validation.
	ErrCodeInvalidRegistration ErrorCode = "INVALID_REGISTRATION"
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidationError reports whether err is a ValidationError with the given code.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error, code ErrorCode) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// RejectionError is an authority refusal of an operation that passed local
// validation. By the time it is returned the optimistic write has been
// undone and the child and session re-fetched where possible.
type RejectionError struct {
	Op        string
	ChildID   string
	SessionID string
	Err       *remote.RejectionError
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s child %s: authority rejected: %s", e.Op, e.ChildID, e.Err.Reason)
}

// Unwrap exposes the remote rejection.
func (e *RejectionError) Unwrap() error {
	return e.Err
}

// Reason is the authority's explanation.
func (e *RejectionError) Reason() string {
	return e.Err.Reason
}

// IsRejection reports whether err is an authority rejection.
// Uses errors.As to handle wrapped errors.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

func newValidationError(code ErrorCode, childID, sessionID, format string, args ...any) *ValidationError {
	return &ValidationError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		ChildID:   childID,
		SessionID: sessionID,
	}
}
