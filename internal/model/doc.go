// Package model defines the core data types shared across the pipeline
// orchestrator: modules, pipeline runs, module jobs, stream records, and
// aggregated results.
//
// These types are deliberately free of behavior that touches external
// services. Storage packages (jobstore, stream) persist them, and the
// orchestrator coordinates them, but the types themselves only carry state
// and the small pure rules that belong to that state (status transitions,
// result classification).
package model
