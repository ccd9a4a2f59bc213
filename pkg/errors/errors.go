package errors

import (
	"errors"
	"fmt"
)

// ErrorType defines different categories of errors
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "VALIDATION"
	ErrorTypeNotFound         ErrorType = "NOT_FOUND"
	ErrorTypePermissionDenied ErrorType = "PERMISSION_DENIED"
	ErrorTypeRemote           ErrorType = "REMOTE_UNAVAILABLE"
	ErrorTypeVCSConflict      ErrorType = "VERSION_CONTROL_CONFLICT"
	ErrorTypeInvalidMutation  ErrorType = "INVALID_MUTATION"
	ErrorTypeInternal         ErrorType = "INTERNAL"
)

// AppError is the custom error type for the application
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work
func (e *AppError) Unwrap() error {
	return e.Err
}

// Constructor functions for different error types

// NewValidation creates a validation error
func NewValidation(message string) error {
	return &AppError{Type: ErrorTypeValidation, Message: message}
}

// NewNotFound creates a not found error
func NewNotFound(message string) error {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

// NewPermissionDenied creates a permission error, used for writes against a
// read-only backend.
func NewPermissionDenied(message string) error {
	return &AppError{Type: ErrorTypePermissionDenied, Message: message}
}

// NewRemoteUnavailable wraps a transport failure from the remote backend.
func NewRemoteUnavailable(message string, err error) error {
	return &AppError{Type: ErrorTypeRemote, Message: message, Err: err}
}

// NewVCSConflict wraps a version-control sync failure that is not the benign
// "no upstream yet" or "nothing to commit" case.
func NewVCSConflict(message string, err error) error {
	return &AppError{Type: ErrorTypeVCSConflict, Message: message, Err: err}
}

// NewInvalidMutation creates an error for a malformed ledger entry
func NewInvalidMutation(message string) error {
	return &AppError{Type: ErrorTypeInvalidMutation, Message: message}
}

// NewInternal creates an internal error
func NewInternal(message string, err error) error {
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, preserve the type
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:    appErr.Type,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     appErr.Err,
		}
	}

	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// Type checking functions

func isType(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool { return isType(err, ErrorTypeValidation) }

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsPermissionDenied checks if an error is a permission error
func IsPermissionDenied(err error) bool { return isType(err, ErrorTypePermissionDenied) }

// IsRemoteUnavailable checks if an error is a transport failure
func IsRemoteUnavailable(err error) bool { return isType(err, ErrorTypeRemote) }

// IsVCSConflict checks if an error is a version-control sync failure
func IsVCSConflict(err error) bool { return isType(err, ErrorTypeVCSConflict) }

// IsInternal checks if an error is an internal error
func IsInternal(err error) bool { return isType(err, ErrorTypeInternal) }
