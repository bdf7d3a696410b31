// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError marks malformed input: a missing required field, an
// unknown document type, or a vector dimension mismatch. It fails fast
// and is never retried.
type ValidationError struct {
	// Field names the offending input field, when known.
	Field string

	// Msg describes the violation.
	Msg string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
	}
	return "validation: " + e.Msg
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// TransientError marks a failure worth retrying: a timeout, an HTTP 429,
// or a 5xx from an external service. Repeated transient failures open the
// circuit breaker for that dependency.
type TransientError struct {
	// Op names the failing operation.
	Op string

	// Status is the HTTP status, when the failure came from a response.
	Status int

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransientError) Unwrap() error { return e.Err }

// TimeoutError marks an operation that exceeded its timeout budget.
type TimeoutError struct {
	// Op names the operation type whose budget was exceeded.
	Op string

	// Budget is the configured limit.
	Budget time.Duration
}

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: exceeded timeout budget %v", e.Op, e.Budget)
}

// ConfigError marks missing or invalid external-service configuration.
// It is a fatal startup condition except where dry-run degradation is
// documented (vector store).
type ConfigError struct {
	// Key names the missing or invalid configuration key.
	Key string

	// Msg describes the problem.
	Msg string
}

// Error implements error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Msg)
}

// IsRetryable reports whether err should be retried: transient service
// errors and timeout-budget errors are; validation and configuration
// errors never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	var ce *ConfigError
	if errors.As(err, &ve) || errors.As(err, &ce) {
		return false
	}
	var te *TransientError
	var to *TimeoutError
	return errors.As(err, &te) || errors.As(err, &to)
}
