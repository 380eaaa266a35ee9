package model

import "time"

// StreamRecord is one entry in the event stream. The payload is opaque to
// the orchestration core; only workers interpret it.
type StreamRecord struct {
	// PipelineRunID identifies the run this record belongs to.
	PipelineRunID string `json:"pipeline_run_id"`

	// SequenceID is monotonically increasing within one stream key.
	// It is the acknowledgment handle for consumers.
	SequenceID int64 `json:"sequence_id"`

	// Payload is the module-specific record body.
	Payload []byte `json:"payload"`

	// CompletionMarker marks the producer's final record: no more input
	// will arrive on this stream. Seeing the marker alone never completes
	// a consumer's job; all earlier records must still be acknowledged.
	CompletionMarker bool `json:"completion_marker"`

	// Deliveries counts how many times this record was delivered to the
	// reading group, including the current delivery. Values above one mean
	// a redelivery after a visibility timeout.
	Deliveries int `json:"deliveries"`

	// PublishedAt is when the producer appended the record.
	PublishedAt time.Time `json:"published_at"`
}
