package stream

import "errors"

// Event stream errors.
var (
	// ErrInvalidBatchSize is returned when Read is called with a batch
	// size that is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrEmptyStreamKey is returned when an operation names an empty
	// stream key. Keys are derived from run ID and producer name, so an
	// empty key always indicates a wiring bug in the caller.
	ErrEmptyStreamKey = errors.New("empty stream key")

	// ErrEmptyGroup is returned when a consumer operation names an empty
	// consumer group.
	ErrEmptyGroup = errors.New("empty consumer group name")
)
