package config

import "errors"

// Configuration validation errors.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrNoTarget is returned when no target is specified for a run.
	ErrNoTarget = errors.New("no target specified: provide a target as the first argument")

	// ErrNoModules is returned when a run requests no modules.
	ErrNoModules = errors.New("no modules requested: use --modules to select at least one")

	// ErrInvalidRunTimeout is returned when the overall run timeout is
	// not positive. A zero deadline would force every job to timeout
	// immediately.
	ErrInvalidRunTimeout = errors.New("invalid run timeout: must be positive")

	// ErrInvalidPollInterval is returned when the completion poll
	// interval is not positive. A zero interval would busy-loop against
	// the job store.
	ErrInvalidPollInterval = errors.New("invalid poll interval: must be positive")

	// ErrInvalidVisibilityTimeout is returned when the stream visibility
	// timeout is not positive.
	ErrInvalidVisibilityTimeout = errors.New("invalid visibility timeout: must be positive")

	// ErrInvalidMaxDeliveries is returned when the delivery budget is not
	// positive. At least one delivery attempt is required; unbounded
	// redelivery is configured by a large value, never by zero.
	ErrInvalidMaxDeliveries = errors.New("invalid max deliveries: must be positive")

	// ErrConflictingReportFormats is returned when both --json and
	// --markdown are specified. Only one output format can be used.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)
