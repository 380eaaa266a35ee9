// Package jobstore implements the job status store: the durable record of
// per-module job state that decouples "the work is done" from "the stream
// has been read".
//
// Workers write their own job's terminal state here; the completion monitor
// reads it and nothing else. Status transitions are enforced with guarded
// updates so a double-completion race loses cleanly with
// ErrInvalidTransition instead of silently overwriting a terminal state.
//
// Every transition is also appended to an audit table with a timestamp,
// which is what makes post-hoc per-module duration analysis possible.
package jobstore
