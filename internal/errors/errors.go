// Package errors provides structured error types for the bridge server.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrValidation     = errors.New("invalid input")
	ErrPersistBlocked = errors.New("persist blocked by safe writer")
	ErrUnavailable    = errors.New("collaborator unavailable")
	ErrTimeout        = errors.New("operation timed out")
)

// NotFoundError identifies a missing entity by kind and id.
type NotFoundError struct {
	Kind string // "task" or "message"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound creates a NotFoundError.
func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ValidationError carries the field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidation creates a ValidationError.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err wraps ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsPersistBlocked reports whether err wraps ErrPersistBlocked.
func IsPersistBlocked(err error) bool { return errors.Is(err, ErrPersistBlocked) }
