package orchestrator

import "errors"

// Orchestrator errors. These surface synchronously from Run before any
// pipeline state is created; runtime failures of individual modules are
// reported through the aggregated result instead.
var (
	// ErrNoModulesRequested is returned when Run is called with an empty
	// module set.
	ErrNoModulesRequested = errors.New("no modules requested")

	// ErrNoProducer is returned when the resolved module set contains no
	// producer. Consumers without a producer would block until the run
	// deadline with no possible input.
	ErrNoProducer = errors.New("resolved module set contains no producer")

	// ErrBackendUnavailable is returned when the coordination backend
	// fails the startup self-check. Failing fast here prevents the silent
	// timeouts a misconfigured backend would otherwise produce.
	ErrBackendUnavailable = errors.New("coordination backend unavailable")
)
