// Package config holds the runtime configuration for the pipeline
// orchestrator: defaults, validation, and discovery of the registry file.
package config
