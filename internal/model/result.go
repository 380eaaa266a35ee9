package model

import (
	"sort"
	"time"
)

// RunStatus is the aggregate outcome of a pipeline run. It is never a
// boolean so callers can distinguish "some modules timed out" from
// "pipeline crashed" and decide whether partial results are acceptable.
type RunStatus string

// Aggregate run outcomes.
const (
	// RunCompleted means every module job completed.
	RunCompleted RunStatus = "completed"

	// RunPartialFailure means some modules failed or timed out but the
	// producer (the critical path) completed, so partial results exist.
	RunPartialFailure RunStatus = "partial_failure"

	// RunFailed means the producer itself failed; consumers had no input.
	RunFailed RunStatus = "failed"

	// RunTimeout means the producer was force-terminated by the run
	// deadline before finishing.
	RunTimeout RunStatus = "timeout"
)

// PipelineResult is the aggregated outcome returned by the orchestrator.
// It always carries a per-module status and error map.
type PipelineResult struct {
	// PipelineRunID identifies the run this result describes.
	PipelineRunID string `json:"pipeline_run_id"`

	// Target is the subject the run processed.
	Target string `json:"target"`

	// Producer is the critical-path module name used for classification.
	Producer string `json:"producer"`

	// Statuses maps every resolved module name to its terminal status.
	Statuses map[string]JobStatus `json:"statuses"`

	// Errors maps module names to failure detail for non-completed jobs.
	Errors map[string]string `json:"errors,omitempty"`

	// Durations maps module names to how long each job ran.
	Durations map[string]time.Duration `json:"durations,omitempty"`

	// StartedAt and FinishedAt bound the orchestrated portion of the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Overall classifies the run from the per-module terminal states.
// The producer's state dominates: a failed producer means no consumer had
// valid input, and a timed-out producer means the run deadline cut the
// critical path. Otherwise any non-completed consumer degrades the run to a
// partial failure rather than a hard failure.
func (r *PipelineResult) Overall() RunStatus {
	switch r.Statuses[r.Producer] {
	case JobFailed:
		return RunFailed
	case JobTimeout:
		return RunTimeout
	}

	for _, status := range r.Statuses {
		if status != JobCompleted {
			return RunPartialFailure
		}
	}
	return RunCompleted
}

// ModuleNames returns the resolved module names in sorted order for stable
// report output.
func (r *PipelineResult) ModuleNames() []string {
	names := make([]string, 0, len(r.Statuses))
	for name := range r.Statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Elapsed returns the wall-clock duration of the orchestrated run.
func (r *PipelineResult) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
