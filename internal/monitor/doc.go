// Package monitor implements the completion monitor: the sole authority
// for deciding that a pipeline run is finished.
//
// The monitor polls the job status store and nothing else. It deliberately
// has no access to the event stream, so it cannot repeat the classic bug of
// declaring a run complete because the stream looks fully consumed while a
// consumer is still writing results. A run is done exactly when every
// module job has reached a terminal state, or when the run deadline forces
// the stragglers into one.
package monitor
