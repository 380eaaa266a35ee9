package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reconflow/reconflow/internal/jobstore"
	"github.com/reconflow/reconflow/internal/model"
	"github.com/reconflow/reconflow/internal/stream"
)

// Producer writes a module's discovery records to its stream and reports
// the module's outcome to the job status store.
type Producer struct {
	events    *stream.Stream
	store     *jobstore.Store
	streamKey string
	runID     string
	jobID     string
	logger    *slog.Logger

	emitted int
}

// NewProducer creates a Producer bound to one stream and one module job.
func NewProducer(events *stream.Stream, store *jobstore.Store, runID, jobID, streamKey string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		events:    events,
		store:     store,
		streamKey: streamKey,
		runID:     runID,
		jobID:     jobID,
		logger:    logger,
	}
}

// Emit appends one record to the stream.
func (p *Producer) Emit(ctx context.Context, payload []byte) error {
	seq, err := p.events.Publish(ctx, p.streamKey, p.runID, payload)
	if err != nil {
		return fmt.Errorf("failed to emit record: %w", err)
	}
	p.emitted++
	p.logger.Debug("record emitted", "stream", p.streamKey, "sequence", seq)
	return nil
}

// Complete writes the completion marker as the stream's final record and
// transitions the producer's job to completed. Call exactly once, after
// the last Emit.
func (p *Producer) Complete(ctx context.Context) error {
	if _, err := p.events.PublishCompletionMarker(ctx, p.streamKey, p.runID); err != nil {
		return fmt.Errorf("failed to publish completion marker: %w", err)
	}
	if err := p.store.Transition(ctx, p.jobID, model.JobCompleted, ""); err != nil {
		return fmt.Errorf("failed to complete producer job: %w", err)
	}
	p.logger.Info("producer finished",
		"stream", p.streamKey,
		"records", p.emitted,
	)
	return nil
}

// Fail transitions the producer's job to failed with the given cause.
// No completion marker is written: a failed producer's consumers are
// cascaded by the orchestrator, not drained.
func (p *Producer) Fail(ctx context.Context, cause error) error {
	if err := p.store.Transition(ctx, p.jobID, model.JobFailed, cause.Error()); err != nil {
		return fmt.Errorf("failed to record producer failure: %w", err)
	}
	return nil
}
