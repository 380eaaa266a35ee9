package model

// Module describes a worker module as declared in the registry.
// It is immutable at pipeline-run time; behavior changes go through a
// registry update, never through code changes in other components.
type Module struct {
	// Name is the unique key of the module within the registry.
	Name string `yaml:"name" json:"name"`

	// Dependencies lists module names that must also run whenever this
	// module runs. The dependency resolver expands these transitively.
	Dependencies []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`

	// Producer marks the module as a stream producer. A producer writes
	// discovery records into the event stream and finishes with a
	// completion marker.
	Producer bool `yaml:"producer,omitempty" json:"producer,omitempty"`

	// Consumer marks the module as a stream consumer. A consumer reads the
	// producer's stream under its own consumer group. A module may be both
	// producer and consumer (an enrichment stage that re-publishes).
	Consumer bool `yaml:"consumer,omitempty" json:"consumer,omitempty"`

	// Disabled excludes the module from ListActive without removing its
	// registry entry. Disabled modules can still be resolved by name so
	// that old runs remain inspectable.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`

	// Launch is the opaque descriptor handed to the task launcher.
	// The orchestrator never interprets it beyond passing it through.
	Launch LaunchDescriptor `yaml:"launch" json:"launch"`
}

// LaunchDescriptor tells the task launcher how to start a worker process.
//
// Design decision: we keep this a plain command/args/env triple rather than
// a container spec. The exec launcher consumes it directly, and a container
// launcher can pack an image reference into Command without a schema change.
type LaunchDescriptor struct {
	// Command is the executable to run.
	Command string `yaml:"command" json:"command"`

	// Args are passed to the command verbatim.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Env holds additional environment variables for the worker process.
	// Stream and job bindings are appended by the launcher on top of these.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}
