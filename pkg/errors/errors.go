package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur during a run
type ErrorType string

const (
	ErrorTypeInput         ErrorType = "input"
	ErrorTypeMalformedLine ErrorType = "malformed_line"
	ErrorTypeInvalidToken  ErrorType = "invalid_token"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeBrowserLaunch ErrorType = "browser_launch"
	ErrorTypeOutputWrite   ErrorType = "output_write"
	ErrorTypeUnknown       ErrorType = "unknown"
)

// Error represents a harvest error with type information
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error without an underlying cause
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap creates a typed error around an underlying cause
func Wrap(errorType ErrorType, message string, err error) *Error {
	return &Error{Type: errorType, Message: message, Err: err}
}

// IsFatal checks if an error type aborts the whole run. Per-account
// failures never do; losing the input, the browser binary, or the
// output file means no remaining work can succeed.
func IsFatal(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeInput, ErrorTypeBrowserLaunch, ErrorTypeOutputWrite:
		return true
	case ErrorTypeMalformedLine, ErrorTypeInvalidToken, ErrorTypeTimeout:
		return false
	default:
		return false
	}
}

// GetType extracts the error type from an error, returning
// ErrorTypeUnknown for untyped errors
func GetType(err error) ErrorType {
	var harvestErr *Error
	if errors.As(err, &harvestErr) {
		return harvestErr.Type
	}
	return ErrorTypeUnknown
}
