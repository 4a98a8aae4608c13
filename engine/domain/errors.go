package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stores and drivers.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicate      = errors.New("already archived")
	ErrEmptyContent   = errors.New("content is empty")
	ErrMissingID      = errors.New("post id is empty")
	ErrMissingURL     = errors.New("post url is empty")
	ErrBadImportance  = errors.New("unknown importance level")
	ErrBadEmbedding   = errors.New("wrong embedding dimension")
)

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
