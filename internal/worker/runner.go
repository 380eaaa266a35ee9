package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reconflow/reconflow/internal/jobstore"
	"github.com/reconflow/reconflow/internal/model"
	"github.com/reconflow/reconflow/internal/stream"
)

// Default consumer tuning values.
const (
	// DefaultBatchSize is how many records a consumer claims per read.
	DefaultBatchSize = 16

	// DefaultBlockTimeout is how long one read blocks waiting for records
	// before the runner re-checks its drain condition.
	DefaultBlockTimeout = 2 * time.Second
)

// Handler processes one stream record. The payload is opaque to the
// runner; this is where a module's enrichment logic plugs in. Handlers
// must be idempotent because delivery is at-least-once.
type Handler func(ctx context.Context, record model.StreamRecord) error

// Runner drives one consumer worker: read, handle, ack, drain, report.
type Runner struct {
	events     *stream.Stream
	store      *jobstore.Store
	streamKey  string
	group      string
	consumerID string
	jobID      string
	handler    Handler
	logger     *slog.Logger

	batchSize    int
	blockTimeout time.Duration
	drainHook    func(ctx context.Context) error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBatchSize sets how many records are claimed per read.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithBlockTimeout sets how long each read blocks when the stream is idle.
func WithBlockTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.blockTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the runner.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithDrainHook sets a function the runner calls after the stream is
// drained, before the job is completed. A module that is both consumer and
// producer uses it to close its own output stream with a completion marker
// once all upstream records are processed. A hook error fails the job.
func WithDrainHook(hook func(ctx context.Context) error) RunnerOption {
	return func(r *Runner) {
		r.drainHook = hook
	}
}

// NewRunner creates a consumer runner. The consumer group is the module's
// name; consumerID distinguishes competing instances within the group.
func NewRunner(events *stream.Stream, store *jobstore.Store, jobID, streamKey, group, consumerID string, handler Handler, opts ...RunnerOption) *Runner {
	r := &Runner{
		events:       events,
		store:        store,
		streamKey:    streamKey,
		group:        group,
		consumerID:   consumerID,
		jobID:        jobID,
		handler:      handler,
		batchSize:    DefaultBatchSize,
		blockTimeout: DefaultBlockTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run consumes the stream until it is drained, then reports the job's
// terminal state. It returns the error recorded on the job, if any.
//
// Drain rule: the job completes only when the completion marker has been
// delivered AND the group has zero unacknowledged records. Records that
// exhaust their delivery budget are dead-lettered by the stream and leave
// the pending set that way; the runner completes the job but records how
// many records were abandoned.
//
// The runner also watches its own job between reads and stops as soon as
// the job is terminal, so a worker whose producer died without a marker is
// reaped by the run deadline instead of looping forever.
func (r *Runner) Run(ctx context.Context) error {
	handled := 0
	markerSeen := false

	for {
		select {
		case <-ctx.Done():
			return r.fail(ctx, fmt.Errorf("consumer cancelled: %w", ctx.Err()))
		default:
		}

		// The job store is the runner's second exit path: when the
		// monitor forces a deadline timeout, or the orchestrator cascades
		// a producer failure, no completion marker will ever arrive. Each
		// iteration is bounded by blockTimeout, so a terminal job stops
		// the worker within one read cycle.
		job, err := r.store.Get(ctx, r.jobID)
		if err != nil {
			return r.fail(ctx, fmt.Errorf("job status check failed: %w", err))
		}
		if job.Status.IsTerminal() {
			r.logger.Warn("job terminated externally, stopping consumer",
				"stream", r.streamKey,
				"group", r.group,
				"status", job.Status,
				"error", job.Error,
			)
			if job.Error != "" {
				return errors.New(job.Error)
			}
			return nil
		}

		records, err := r.events.Read(ctx, r.streamKey, r.group, r.consumerID, r.batchSize, r.blockTimeout)
		if err != nil {
			return r.fail(ctx, fmt.Errorf("stream read failed: %w", err))
		}

		for _, record := range records {
			if record.CompletionMarker {
				markerSeen = true
				// The marker itself is acked like any record so it does
				// not linger in the pending set.
				if err := r.events.Ack(ctx, r.streamKey, r.group, record.SequenceID); err != nil {
					return r.fail(ctx, fmt.Errorf("failed to ack completion marker: %w", err))
				}
				continue
			}

			if err := r.handler(ctx, record); err != nil {
				// Leave the record unacked: it will be redelivered after
				// the visibility timeout, and dead-lettered if it keeps
				// failing. One bad record does not fail the module.
				r.logger.Warn("handler failed, record left for redelivery",
					"stream", r.streamKey,
					"group", r.group,
					"sequence", record.SequenceID,
					"deliveries", record.Deliveries,
					"error", err,
				)
				continue
			}

			if err := r.events.Ack(ctx, r.streamKey, r.group, record.SequenceID); err != nil {
				return r.fail(ctx, fmt.Errorf("failed to ack record: %w", err))
			}
			handled++
		}

		if !markerSeen {
			continue
		}

		// Marker observed: the job may complete only once nothing is
		// pending. Earlier unacked records keep the job running until
		// they are acked or dead-lettered.
		pending, err := r.events.PendingCount(ctx, r.streamKey, r.group)
		if err != nil {
			return r.fail(ctx, fmt.Errorf("failed to check pending records: %w", err))
		}
		if pending > 0 {
			continue
		}

		deadLettered, err := r.events.DeadLetterCount(ctx, r.streamKey, r.group)
		if err != nil {
			return r.fail(ctx, fmt.Errorf("failed to check dead letters: %w", err))
		}

		if r.drainHook != nil {
			if err := r.drainHook(ctx); err != nil {
				return r.fail(ctx, fmt.Errorf("post-drain step failed: %w", err))
			}
		}

		if err := r.store.Transition(ctx, r.jobID, model.JobCompleted, ""); err != nil {
			return fmt.Errorf("failed to complete consumer job: %w", err)
		}
		r.logger.Info("consumer drained",
			"stream", r.streamKey,
			"group", r.group,
			"handled", handled,
			"dead_lettered", deadLettered,
		)
		return nil
	}
}

// fail records the job's failure and returns the cause.
func (r *Runner) fail(ctx context.Context, cause error) error {
	// The run context may already be cancelled; the terminal write gets
	// its own short window.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := r.store.Transition(ctx, r.jobID, model.JobFailed, cause.Error()); err != nil {
		return fmt.Errorf("%w (additionally failed to record failure: %v)", cause, err)
	}
	return cause
}
