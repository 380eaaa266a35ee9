package model

import "time"

// JobStatus is the lifecycle state of a single module job.
type JobStatus string

// Module job states. Pending and Running are transient; Completed, Failed,
// and Timeout are terminal. No transition leaves a terminal state.
const (
	// JobPending means the job record exists but the worker has not been
	// launched yet.
	JobPending JobStatus = "pending"

	// JobRunning means the worker process was launched for this job.
	JobRunning JobStatus = "running"

	// JobCompleted means the worker finished its work and reported success.
	// For a consumer this implies every record before the completion marker
	// was acknowledged, not merely observed.
	JobCompleted JobStatus = "completed"

	// JobFailed means the worker reported a failure, the launch itself
	// failed, or the producer's failure was propagated to this job.
	JobFailed JobStatus = "failed"

	// JobTimeout means the completion monitor force-terminated the job
	// because the overall run deadline elapsed.
	JobTimeout JobStatus = "timeout"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobTimeout:
		return true
	case JobPending, JobRunning:
		return false
	}
	return false
}

// CanTransitionTo reports whether the transition s -> next is legal.
// Legal transitions are pending->running and running->{completed,failed,
// timeout}, plus pending->{failed,timeout} so that jobs which never launched
// (launch failure, producer-failure cascade, run deadline) can still reach a
// terminal state without faking a running phase.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning || next == JobFailed || next == JobTimeout
	case JobRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// ModuleJob is the durable record of one module's work within a pipeline
// run. Exactly one ModuleJob exists per (run, resolved module).
//
// Mutation rules: the orchestrator creates the job and moves it
// pending->running at launch; only the worker assigned to the module moves
// it to a terminal state, except for forced timeout and producer-failure
// propagation, which are orchestrator-side terminal writes.
type ModuleJob struct {
	// ID is the unique job identifier (UUID).
	ID string `json:"id"`

	// PipelineRunID identifies the owning pipeline run.
	PipelineRunID string `json:"pipeline_run_id"`

	// ModuleName is the registry name of the module this job executes.
	ModuleName string `json:"module_name"`

	// Status is the current lifecycle state.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job record was created (status pending).
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is set when the job transitions to running.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is set when the job reaches a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error holds the failure detail. Present iff Status is failed or
	// timeout.
	Error string `json:"error,omitempty"`
}

// Duration returns how long the job ran, or zero if it never started or has
// not finished. Used for post-hoc per-module duration analysis.
func (j *ModuleJob) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
