package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidTaskStatus is returned when a task status is not one of the
	// known states.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidTaskPriority is returned when a task priority is out of range.
	ErrInvalidTaskPriority = errors.New("invalid task priority")

	// ErrInvalidLiveness is returned when a worker liveness value is not valid.
	ErrInvalidLiveness = errors.New("invalid worker liveness")
)
