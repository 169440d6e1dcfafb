package examauditor

import (
	"errors"
	"fmt"
)

// GenerationError means the generation model returned output we could not turn
// into a draft (empty response, missing tool call, unparsable arguments).
// Retryable with a fresh attempt.
type GenerationError struct {
	Reason string
	Raw    string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %s", e.Reason)
}

// StructuralInvalidError means a draft violated a local invariant. Retryable.
type StructuralInvalidError struct {
	Reason string
}

func (e *StructuralInvalidError) Error() string {
	return fmt.Sprintf("structurally invalid draft: %s", e.Reason)
}

// ValidationRejectedError means a judge disapproved the draft. Retryable with a
// fresh draft, never by resubmitting the same one.
type ValidationRejectedError struct {
	Reason string
}

func (e *ValidationRejectedError) Error() string {
	return fmt.Sprintf("validation rejected: %s", e.Reason)
}

// StoreError wraps a failed store operation. Surfaced with enough metadata for
// manual reconciliation when a wholesale replacement is left half-applied.
type StoreError struct {
	Op         string
	QuestionID string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed for question %s: %v", e.Op, e.QuestionID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ConfigError is fatal: missing credentials, unavailable model, bad config.
// It aborts the run instead of marking individual items failed.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// IsRetryable reports whether the pipeline may retry the item after this error.
func IsRetryable(err error) bool {
	var genErr *GenerationError
	var structErr *StructuralInvalidError
	var rejErr *ValidationRejectedError
	return errors.As(err, &genErr) || errors.As(err, &structErr) || errors.As(err, &rejErr)
}

// IsFatal reports whether the error must abort the whole run.
func IsFatal(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
