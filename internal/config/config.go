package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values. Chosen for a pipeline whose workers are
// local processes coordinating through a shared SQLite file; deployments
// with slower workers raise the timeouts via flags.
const (
	// DefaultRunTimeout bounds a whole pipeline run. Reconnaissance
	// modules routinely take minutes per stage, so the overall deadline
	// is generous; on expiry unfinished jobs are forced to timeout and a
	// partial result is still returned.
	DefaultRunTimeout = 30 * time.Minute

	// DefaultPollInterval is how often the completion monitor re-reads
	// job states. Sub-second keeps short pipelines snappy without
	// hammering the store.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultVisibilityTimeout is the stream redelivery window. It must
	// exceed the handling time of a single record by a wide margin, or
	// slow-but-healthy consumers would see spurious redeliveries.
	DefaultVisibilityTimeout = 30 * time.Second

	// DefaultMaxDeliveries bounds redelivery attempts per record before
	// dead-lettering. Three attempts distinguishes a transient failure
	// from a poison record without stalling the group.
	DefaultMaxDeliveries = 3

	// DefaultBatchSize is how many records a consumer claims per read.
	DefaultBatchSize = 16

	// DefaultBlockTimeout is how long an idle stream read blocks before
	// the consumer re-checks its drain condition.
	DefaultBlockTimeout = 2 * time.Second

	// AppName is the application name used for XDG directory paths.
	AppName = "reconflow"
)

// Config holds all configuration options for the orchestrator.
// It is populated from CLI flags and passed through the application via
// dependency injection rather than global state.
type Config struct {
	// Target is the subject of the pipeline run.
	Target string

	// Modules is the requested module set. Dependencies are resolved on
	// top of this, so the resolved set may be larger.
	Modules []string

	// RegistryPath is the path to the module registry file. If empty,
	// the registry is searched for in the current directory and then the
	// user's home directory.
	RegistryPath string

	// DataDir is the directory holding the coordination database.
	// Defaults to the XDG data directory.
	DataDir string

	// RunTimeout is the overall deadline for a pipeline run.
	RunTimeout time.Duration

	// PollInterval is the completion monitor's poll delay.
	PollInterval time.Duration

	// VisibilityTimeout is the stream's redelivery window for
	// unacknowledged records.
	VisibilityTimeout time.Duration

	// MaxDeliveries bounds stream delivery attempts per record.
	MaxDeliveries int

	// BatchSize is the per-read record batch for consumers.
	BatchSize int

	// BlockTimeout is how long an idle stream read blocks.
	BlockTimeout time.Duration

	// Verbose enables slog.LevelDebug output; otherwise only warnings
	// and errors are logged.
	Verbose bool

	// JSONReport selects JSON result output. Mutually exclusive with
	// MarkdownReport.
	JSONReport bool

	// MarkdownReport selects Markdown result output. Mutually exclusive
	// with JSONReport.
	MarkdownReport bool

	// ReportFile, when set, writes the result report to this file in
	// addition to stdout.
	ReportFile string
}

// NewConfig creates a Config with default values. Many defaults are
// non-zero, so relying on zero values would be wrong; this constructor is
// also the documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		DataDir:           XDGDataDir(),
		RunTimeout:        DefaultRunTimeout,
		PollInterval:      DefaultPollInterval,
		VisibilityTimeout: DefaultVisibilityTimeout,
		MaxDeliveries:     DefaultMaxDeliveries,
		BatchSize:         DefaultBatchSize,
		BlockTimeout:      DefaultBlockTimeout,
	}
}

// XDGDataDir returns the XDG data directory for reconflow.
// On Linux: ~/.local/share/reconflow
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for reconflow.
// On Linux: ~/.config/reconflow
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid for a run and returns the
// first problem found. It is called once after flag parsing, before any
// pipeline state is created.
func (c *Config) Validate() error {
	if c.Target == "" {
		return ErrNoTarget
	}
	if len(c.Modules) == 0 {
		return ErrNoModules
	}
	if c.RunTimeout <= 0 {
		return ErrInvalidRunTimeout
	}
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.VisibilityTimeout <= 0 {
		return ErrInvalidVisibilityTimeout
	}
	if c.MaxDeliveries <= 0 {
		return ErrInvalidMaxDeliveries
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}
