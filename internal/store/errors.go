package store

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes store and service errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a referenced entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeConflict indicates a uniqueness or concurrency violation:
	// a duplicate branch name, a duplicate type/key pair, or a head that
	// moved between read and write.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeValidation indicates the request payload was rejected before
	// any write happened.
	ErrCodeValidation ErrorCode = "VALIDATION_FAILED"
)

// Error is the structured error type shared by the store and the services
// built on it. Merge conflicts are deliberately NOT errors; they are
// reported as data in merge results.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Entity names the kind of record involved (branch, object, version).
	Entity string

	// ID identifies the specific record when known.
	ID string

	// Details contains additional context.
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Entity != "" && e.ID != "" {
		return fmt.Sprintf("%s: %s (%s=%s)", e.Code, e.Message, e.Entity, e.ID)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Entity)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound returns true if the error is a NOT_FOUND error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == ErrCodeNotFound
	}
	return false
}

// IsConflict returns true if the error is a CONFLICT error.
// Uses errors.As to handle wrapped errors.
func IsConflict(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == ErrCodeConflict
	}
	return false
}

// IsValidation returns true if the error is a VALIDATION_FAILED error.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == ErrCodeValidation
	}
	return false
}

// CodeOf extracts the error code from a wrapped store error, or empty
// string when err is not one.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// NewNotFound creates a NOT_FOUND error for the given entity and id.
func NewNotFound(entity, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: entity + " not found",
		Entity:  entity,
		ID:      id,
	}
}

// NewConflict creates a CONFLICT error.
func NewConflict(message string, details map[string]string) *Error {
	return &Error{
		Code:    ErrCodeConflict,
		Message: message,
		Details: details,
	}
}

// NewValidation creates a VALIDATION_FAILED error.
func NewValidation(message string, details map[string]string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: message,
		Details: details,
	}
}
