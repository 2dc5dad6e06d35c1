package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies a failure so callers can decide whether to skip,
// retry or abort.
type ErrorType string

const (
	// Per-item outcomes of a sync batch.
	ErrTypeValidation ErrorType = "validation"
	ErrTypeConflict   ErrorType = "conflict"
	ErrTypeDependency ErrorType = "dependency"
	ErrTypeFatal      ErrorType = "fatal"

	ErrTypeGitHubAPI ErrorType = "github_api"
	ErrTypeDatabase  ErrorType = "database"
	ErrTypeRateLimit ErrorType = "rate_limit"
	ErrTypeNotFound  ErrorType = "not_found"
	ErrTypeConfig    ErrorType = "config"
	ErrTypeNetwork   ErrorType = "network"
	ErrTypeInternal  ErrorType = "internal"
)

// Error is a typed error carrying an optional cause and user-facing hints.
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion appends a hint shown by the CLI.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, Cause: err}
}

func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...), Cause: err}
}

// IsType reports whether the outermost structured error in err's chain has
// the given type.
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the type of the outermost structured error, or
// ErrTypeInternal for plain errors.
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// IsFatal reports whether err must abort the rest of a sync batch.
// Storage failures are fatal; per-item validation, conflict and dependency
// failures are not.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	switch GetType(err) {
	case ErrTypeFatal, ErrTypeDatabase:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a collaborator call is worth retrying.
func IsRetryable(err error) bool {
	switch GetType(err) {
	case ErrTypeNetwork, ErrTypeRateLimit, ErrTypeDependency:
		return true
	default:
		return false
	}
}

func NewValidationError(field, message string) *Error {
	return Newf(ErrTypeValidation, "invalid %s: %s", field, message)
}

func NewConflictError(format string, args ...interface{}) *Error {
	return Newf(ErrTypeConflict, format, args...)
}

func NewDependencyError(err error, collaborator string) *Error {
	return Wrapf(err, ErrTypeDependency, "%s unavailable", collaborator)
}

func NewFatalError(err error, message string) *Error {
	return Wrap(err, ErrTypeFatal, message)
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfig, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run with --help to see valid configuration options")
}
