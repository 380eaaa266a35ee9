// Package orchestrator provides the top-level pipeline coordinator.
//
// A run is one orchestration path, always the same shape: resolve the
// requested modules through the registry, create the run and its jobs
// atomically, launch the producer and then its consumers through the task
// launcher, and hand completion detection to the monitor. A degenerate
// non-streaming run is simply a producer with zero consumers, not a second
// code path.
//
// Run returns the aggregated result as its value; there is deliberately no
// fire-and-forget variant. The most damaging historical defect class in
// systems like this is an orchestration call that is scheduled but never
// joined, so the API forces the caller to consume the outcome.
package orchestrator
