package models

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a missing resource (no active plan, no item state).
// Callers decide whether to create the missing resource; it is never retried.
var ErrNotFound = errors.New("not found")

// ValidationError rejects malformed input immediately, without retry
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Validationf builds a ValidationError for a field
func Validationf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StoreError wraps a persistence failure. Transient failures are retried
// with bounded backoff; permanent ones surface right away.
type StoreError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransientStore reports whether err is a retryable store failure
func IsTransientStore(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Transient
}
