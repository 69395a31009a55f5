package dispatch

import (
	"errors"
	"fmt"
)

// Common errors returned by the dispatcher.
var (
	// ErrInvalidJob is returned when a job description is malformed.
	ErrInvalidJob = errors.New("invalid job")

	// ErrAborted is returned when an abort policy stopped the job early.
	ErrAborted = errors.New("job aborted")

	// ErrCancelled is returned when the job was cancelled before completion.
	ErrCancelled = errors.New("job cancelled")

	// ErrFatal marks unexpected failures that terminate a run immediately.
	ErrFatal = errors.New("fatal dispatch error")

	// ErrAlreadyStarted is returned when Run is called twice on the same Runner.
	ErrAlreadyStarted = errors.New("runner already started")
)

// ValidationError describes a rejected job field.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job: %s %s", e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidJob).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidJob
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
