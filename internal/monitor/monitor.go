package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reconflow/reconflow/internal/jobstore"
	"github.com/reconflow/reconflow/internal/model"
)

// DefaultPollInterval is the default delay between job store polls.
const DefaultPollInterval = 500 * time.Millisecond

// Monitor watches the job status store until a run's jobs are all terminal.
type Monitor struct {
	store        *jobstore.Store
	pollInterval time.Duration
	logger       *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPollInterval sets the delay between job store polls.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithLogger sets a custom logger for the monitor.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// New creates a Monitor over the given job store.
func New(store *jobstore.Store, opts ...Option) *Monitor {
	m := &Monitor{
		store:        store,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// WaitForCompletion blocks until every module job of the run is terminal or
// the timeout elapses. On timeout (or context cancellation) the remaining
// pending and running jobs are force-transitioned to the timeout state, and
// a best-effort aggregated result is still returned: callers must be able
// to distinguish "some modules timed out" from "pipeline crashed".
//
// The decision is made purely from job states. Stream metrics (queue
// length, consumer lag) are never consulted; a consumer that has read every
// record but not yet reported completion keeps the run open.
func (m *Monitor) WaitForCompletion(ctx context.Context, runID, producer string, timeout time.Duration) (*model.PipelineResult, error) {
	started := time.Now()
	deadline := started.Add(timeout)

	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		if ctx.Err() != nil {
			return m.cancelled(runID, producer, started, ctx.Err())
		}
		return nil, fmt.Errorf("cannot monitor run: %w", err)
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		jobs, err := m.store.ListByRun(ctx, runID)
		if err != nil {
			// A poll that lost the race with cancellation is not a crash;
			// it takes the same forced-timeout path as a clean cancel.
			if ctx.Err() != nil {
				return m.cancelled(runID, producer, started, ctx.Err())
			}
			return nil, fmt.Errorf("failed to poll job states: %w", err)
		}

		if allTerminal(jobs) {
			m.logger.Info("pipeline run complete",
				"run", runID,
				"elapsed", time.Since(started),
			)
			return buildResult(run, producer, jobs, started), nil
		}

		if time.Now().After(deadline) {
			m.logger.Warn("pipeline run deadline elapsed, forcing timeout",
				"run", runID,
				"timeout", timeout,
			)
			jobs, err = m.forceTimeout(ctx, jobs, "pipeline run deadline exceeded")
			if err != nil {
				return nil, err
			}
			return buildResult(run, producer, jobs, started), nil
		}

		select {
		case <-ctx.Done():
			return m.cancelled(runID, producer, started, ctx.Err())
		case <-ticker.C:
		}
	}
}

// cancelled handles context cancellation. Cancellation still produces a
// consumable result: the jobs that never finished are forced to timeout
// over a short independent window, since the caller's context is gone.
func (m *Monitor) cancelled(runID, producer string, started time.Time, reason error) (*model.PipelineResult, error) {
	m.logger.Warn("pipeline run cancelled, forcing timeout",
		"run", runID,
		"reason", reason,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("cannot monitor run: %w", err)
	}
	jobs, err := m.store.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to poll job states: %w", err)
	}
	jobs, err = m.forceTimeout(ctx, jobs, "pipeline run cancelled")
	if err != nil {
		return nil, err
	}
	return buildResult(run, producer, jobs, started), nil
}

// forceTimeout transitions every non-terminal job to the timeout state and
// returns the refreshed job list. A transition race lost to a worker that
// finished in the meantime is not an error; the worker's result stands.
func (m *Monitor) forceTimeout(ctx context.Context, jobs []*model.ModuleJob, reason string) ([]*model.ModuleJob, error) {
	var runID string
	for _, job := range jobs {
		runID = job.PipelineRunID
		if job.Status.IsTerminal() {
			continue
		}
		err := m.store.Transition(ctx, job.ID, model.JobTimeout, reason)
		if err != nil && !errors.Is(err, jobstore.ErrInvalidTransition) {
			return nil, fmt.Errorf("failed to force job %s to timeout: %w", job.ID, err)
		}
		if err != nil {
			m.logger.Debug("job finished during forced timeout, keeping worker result",
				"job", job.ID,
				"module", job.ModuleName,
			)
		}
	}
	if runID == "" {
		return jobs, nil
	}

	refreshed, err := m.store.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload job states: %w", err)
	}
	return refreshed, nil
}

// allTerminal reports whether every job reached a terminal state.
func allTerminal(jobs []*model.ModuleJob) bool {
	if len(jobs) == 0 {
		return false
	}
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// buildResult aggregates terminal job states into a PipelineResult.
func buildResult(run *model.PipelineRun, producer string, jobs []*model.ModuleJob, started time.Time) *model.PipelineResult {
	result := &model.PipelineResult{
		PipelineRunID: run.ID,
		Target:        run.Target,
		Producer:      producer,
		Statuses:      make(map[string]model.JobStatus, len(jobs)),
		Errors:        make(map[string]string),
		Durations:     make(map[string]time.Duration),
		StartedAt:     started,
		FinishedAt:    time.Now(),
	}

	for _, job := range jobs {
		result.Statuses[job.ModuleName] = job.Status
		if job.Error != "" {
			result.Errors[job.ModuleName] = job.Error
		}
		if d := job.Duration(); d > 0 {
			result.Durations[job.ModuleName] = d
		}
	}
	return result
}
