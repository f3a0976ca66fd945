package models

import (
	"errors"
	"fmt"
)

// ErrNotFound signals an unknown or unauthorized job.
var ErrNotFound = errors.New("job not found")

// ErrCancelled signals that execution stopped because cancellation was
// requested. It is not a fault.
var ErrCancelled = errors.New("job cancelled")

// OrphanedError is the message written by the startup sweep to jobs that
// can never resume because their volatile state died with the process.
const OrphanedError = "interrupted by restart"

// ValidationError reports a bad job configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StageError is a pipeline failure attributed to one stage. It is
// terminal for the job.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// QuotaError marks a provider quota or rate-limit rejection that is
// eligible for the key/model fallback chain.
type QuotaError struct {
	Provider string
	Model    string
	Err      error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exhausted on %s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// IsQuota reports whether err is (or wraps) a QuotaError.
func IsQuota(err error) bool {
	var q *QuotaError
	return errors.As(err, &q)
}
