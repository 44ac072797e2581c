// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNoData         = errors.New("no data")
	ErrUnparseable    = errors.New("unparseable response")
	ErrRuleInvalid    = errors.New("at least one threshold must be set")
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConfigInvalid  = errors.New("invalid configuration")
	ErrStreamClosed   = errors.New("stream closed")
	ErrChatDisabled   = errors.New("chat is not configured")
	ErrCircuitOpen    = errors.New("circuit breaker is open")
	ErrTooManyPending = errors.New("too many concurrent requests")
)

// SourceError represents a failure of an external market data source.
type SourceError struct {
	Source string
	Code   string
	Reason string
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source error [%s] %s: %s: %v", e.Source, e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("source error [%s] %s: %s", e.Source, e.Code, e.Reason)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a new SourceError.
func NewSourceError(source, code, reason string, err error) *SourceError {
	return &SourceError{
		Source: source,
		Code:   code,
		Reason: reason,
		Err:    err,
	}
}

// StoreError represents a persistence failure.
type StoreError struct {
	Operation string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [%s]: %v", e.Operation, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(operation string, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		Err:       err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
