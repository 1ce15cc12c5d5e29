// Package apperrors defines the error taxonomy shared by the backup
// and restore machinery. Callers branch on these with errors.Is/As.
package apperrors

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned when a backup or restore job finds the
// concurrency gate held. Callers retry later; nothing is queued.
var ErrAlreadyRunning = errors.New("another backup or restore job is already running")

// IsAlreadyRunning reports whether err is the concurrency-gate
// rejection, possibly wrapped.
func IsAlreadyRunning(err error) bool {
	return errors.Is(err, ErrAlreadyRunning)
}

// ValidationError indicates bad operator input (scope, keys, site
// identity). No state has been mutated when it is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError from a format string.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IntegrityError indicates a copied or staged datastore failed its
// consistency check. The job is aborted and the artifact discarded.
type IntegrityError struct {
	TargetKey string
	Detail    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: %s", e.TargetKey, e.Detail)
}

// JobError wraps any other failure inside a backup or restore job. The
// Reason matches what was persisted to the maintenance flag.
type JobError struct {
	Reason string
	Err    error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job failed (%s): %v", e.Reason, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
