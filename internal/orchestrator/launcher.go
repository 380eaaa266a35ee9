package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/reconflow/reconflow/internal/model"
)

// Environment variable names the exec launcher injects into workers.
// Worker processes read their coordination bindings from these instead of
// parsing flags, so any executable can act as a module worker.
const (
	EnvRunID       = "RECONFLOW_RUN_ID"
	EnvJobID       = "RECONFLOW_JOB_ID"
	EnvModule      = "RECONFLOW_MODULE"
	EnvTarget      = "RECONFLOW_TARGET"
	EnvReadStream  = "RECONFLOW_READ_STREAM"
	EnvWriteStream = "RECONFLOW_WRITE_STREAM"
	EnvGroup       = "RECONFLOW_GROUP"
	EnvDBPath      = "RECONFLOW_DB_PATH"
)

// StreamBindings carries the coordination endpoints a worker needs: which
// streams it reads and writes, under which group, and where the shared
// coordination database lives. A module that is both producer and consumer
// gets both keys: it reads its dependency's stream and writes its own.
type StreamBindings struct {
	// ReadStreamKey is the stream a consuming worker reads. Empty for
	// pure producers.
	ReadStreamKey string

	// WriteStreamKey is the stream a producing worker appends to, always
	// the module's own stream. Empty for pure consumers.
	WriteStreamKey string

	// Group is the worker's consumer group. Empty for pure producers.
	// By convention the group name is the consuming module's name.
	Group string

	// Target is the subject of the pipeline run.
	Target string

	// DatabasePath is the coordination database file workers open.
	DatabasePath string
}

// LaunchHandle describes a successfully started worker.
type LaunchHandle struct {
	// ModuleName is the launched module.
	ModuleName string

	// PID is the worker's process ID, zero for non-process launchers.
	PID int
}

// Launcher starts worker processes for module jobs. Implementations must
// report launch failure synchronously via the returned error; failures
// after a successful launch are the worker's to report through the job
// status store.
type Launcher interface {
	Launch(ctx context.Context, module model.Module, job *model.ModuleJob, bindings StreamBindings) (*LaunchHandle, error)
}

// ExecLauncher starts workers as separate OS processes from the module's
// launch descriptor. Workers share no memory with the orchestrator; their
// only coordination channels are the event stream and the job status store.
type ExecLauncher struct {
	logger *slog.Logger
}

// NewExecLauncher creates an ExecLauncher.
func NewExecLauncher(logger *slog.Logger) *ExecLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecLauncher{logger: logger}
}

// Launch starts the worker process described by the module's launch
// descriptor with the coordination bindings injected into its environment.
//
// The process is intentionally not tied to ctx: cancelling the orchestrator
// must not kill workers mid-write, they observe the run deadline through
// the job store instead. The launcher still reaps the process to avoid
// zombies.
func (l *ExecLauncher) Launch(_ context.Context, module model.Module, job *model.ModuleJob, bindings StreamBindings) (*LaunchHandle, error) {
	desc := module.Launch
	if desc.Command == "" {
		return nil, fmt.Errorf("module %q has no launch command", module.Name)
	}

	cmd := exec.Command(desc.Command, desc.Args...) //nolint:gosec // Commands come from the operator's registry file

	env := os.Environ()
	for k, v := range desc.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		EnvRunID+"="+job.PipelineRunID,
		EnvJobID+"="+job.ID,
		EnvModule+"="+module.Name,
		EnvTarget+"="+bindings.Target,
		EnvReadStream+"="+bindings.ReadStreamKey,
		EnvWriteStream+"="+bindings.WriteStreamKey,
		EnvGroup+"="+bindings.Group,
		EnvDBPath+"="+bindings.DatabasePath,
	)
	cmd.Env = env
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker for module %q: %w", module.Name, err)
	}

	l.logger.Info("worker launched",
		"module", module.Name,
		"job", job.ID,
		"pid", cmd.Process.Pid,
	)

	// Reap in the background. The exit code is logged for diagnostics
	// only; the authoritative outcome is the worker's job transition.
	go func() {
		if err := cmd.Wait(); err != nil {
			l.logger.Warn("worker process exited with error",
				"module", module.Name,
				"job", job.ID,
				"error", err,
			)
			return
		}
		l.logger.Debug("worker process exited",
			"module", module.Name,
			"job", job.ID,
		)
	}()

	return &LaunchHandle{ModuleName: module.Name, PID: cmd.Process.Pid}, nil
}
