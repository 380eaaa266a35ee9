package jobstore

import "errors"

// Job status store errors.
var (
	// ErrRunNotFound is returned when no pipeline run exists for the
	// given ID.
	ErrRunNotFound = errors.New("pipeline run not found")

	// ErrJobNotFound is returned when no module job exists for the
	// given ID.
	ErrJobNotFound = errors.New("module job not found")

	// ErrDuplicateJob is returned when a job already exists for the same
	// (run, module) pair. Exactly one job per resolved module is an
	// invariant, never a retryable condition.
	ErrDuplicateJob = errors.New("module job already exists for this run")

	// ErrInvalidTransition is returned when a status change violates the
	// job state machine. This is the defense against double-completion
	// races: the losing writer gets this error instead of clobbering a
	// terminal state.
	ErrInvalidTransition = errors.New("invalid job status transition")
)
