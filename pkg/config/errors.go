package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig matches every ValidationError via errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError reports a malformed or missing setting, or malformed
// metadata that is interpreted as configuration (snapshot flags).
type ValidationError struct {
	Field  string // setting or metadata key
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewValidationError creates a new validation error.
func NewValidationError(field, reason string, err error) *ValidationError {
	return &ValidationError{
		Field:  field,
		Reason: reason,
		Err:    err,
	}
}
