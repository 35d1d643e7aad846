package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned when a class queue is at capacity (admission rejected)
	ErrQueueFull = errors.New("job queue is full")

	// ErrUnknownJobClass is returned when no queue is registered for a job class
	ErrUnknownJobClass = errors.New("unknown job class")

	// ErrTaskNotFound is returned when a task id is not in the registry
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists is returned when a task id is registered twice
	ErrTaskExists = errors.New("task already exists")

	// ErrInvalidTransition is returned for a status change outside queued -> processing -> terminal
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrTaskTerminal is returned when updating a task that already reached a terminal status
	ErrTaskTerminal = errors.New("task is in a terminal status")

	// ErrPublishTimeout is returned when the publisher did not finish within the job timeout
	ErrPublishTimeout = errors.New("publish timed out")
)

// ValidationError describes a malformed submission
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a new validation error
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PublishError is a failure reported by a publisher adapter.
// Uncertain means the adapter could not verify whether the platform accepted the content.
type PublishError struct {
	Err       error
	ExitCode  int
	Uncertain bool
}

func (e *PublishError) Error() string {
	if e.Uncertain {
		return "publish outcome uncertain: " + e.Err.Error()
	}
	return "publish failed: " + e.Err.Error()
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
