package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job is not found
	ErrNotFound = errors.New("job not found")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrJobTerminal is returned when an operation requires a live job but
	// the job already reached a terminal status
	ErrJobTerminal = errors.New("job already in a terminal state")

	// ErrJobNotTerminal is returned when an operation requires a finished
	// job but the job is still pending or running
	ErrJobNotTerminal = errors.New("job is not in a terminal state")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
