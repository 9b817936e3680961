package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced board, list or task is absent.
	ErrNotFound = errors.New("not found")
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized marks a missing or invalid identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStorageUnavailable wraps backend failures that may succeed on retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError describes a malformed field value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
