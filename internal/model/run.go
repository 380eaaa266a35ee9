package model

import "time"

// PipelineRun is one execution of the pipeline against a target.
//
// Design decision: the run row carries no status column. The aggregate
// status is always derived from the module job rows so there is a single
// source of truth; a stored status would drift from the jobs during races.
type PipelineRun struct {
	// ID is the unique run identifier (UUID).
	ID string `json:"id"`

	// Target is the subject being processed (domain, host, organization).
	Target string `json:"target"`

	// RequestedModules is the module set the caller asked for.
	RequestedModules []string `json:"requested_modules"`

	// ResolvedModules is the post-expansion module set. Always a superset
	// of RequestedModules; one ModuleJob exists per entry.
	ResolvedModules []string `json:"resolved_modules"`

	// CreatedAt is when the run and its jobs were created.
	CreatedAt time.Time `json:"created_at"`
}

// StreamKey returns the event stream key for the given producer module
// within this run. Keying by run ID and producer name keeps concurrent runs
// and multiple producers from ever colliding on a stream.
func (r *PipelineRun) StreamKey(producer string) string {
	return r.ID + ":" + producer
}
