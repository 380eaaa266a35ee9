package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reconflow/reconflow/internal/jobstore"
	"github.com/reconflow/reconflow/internal/model"
	"github.com/reconflow/reconflow/internal/monitor"
	"github.com/reconflow/reconflow/internal/registry"
)

// DefaultRunTimeout is the default overall deadline for a pipeline run.
const DefaultRunTimeout = 30 * time.Minute

// Backend is the startup self-check contract. The coordination backend
// must be reachable and writable before any run is accepted.
type Backend interface {
	Ping(ctx context.Context) error
	Path() string
}

// Orchestrator coordinates a pipeline run end to end: dependency
// resolution, job creation, worker launches, producer-failure propagation,
// and completion detection.
type Orchestrator struct {
	registry *registry.Registry
	store    *jobstore.Store
	backend  Backend
	launcher Launcher
	monitor  *monitor.Monitor
	logger   *slog.Logger

	runTimeout  time.Duration
	cascadePoll time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithRunTimeout sets the overall deadline for a run. On expiry the
// completion monitor force-terminates unfinished jobs as timed out and Run
// still returns an aggregated result.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.runTimeout = d
		}
	}
}

// WithCascadePollInterval sets how often the producer watchdog checks for
// producer failure. Test hook; the default matches the monitor's poll.
func WithCascadePollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.cascadePoll = d
		}
	}
}

// New creates an Orchestrator.
func New(reg *registry.Registry, store *jobstore.Store, backend Backend, launcher Launcher, mon *monitor.Monitor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    reg,
		store:       store,
		backend:     backend,
		launcher:    launcher,
		monitor:     mon,
		runTimeout:  DefaultRunTimeout,
		cascadePoll: monitor.DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Run executes a pipeline against target with the requested modules.
//
// Configuration errors (unknown module, empty request, no producer,
// unreachable backend) surface before any pipeline state exists. Runtime
// failures of individual modules never surface as an error here; they are
// reported through the returned result so callers can accept partial
// results deliberately.
func (o *Orchestrator) Run(ctx context.Context, target string, requested []string) (*model.PipelineResult, error) {
	if len(requested) == 0 {
		return nil, ErrNoModulesRequested
	}

	resolved, err := o.registry.Expand(requested)
	if err != nil {
		return nil, err
	}

	producers := o.registry.Producers(resolved)
	if len(producers) == 0 {
		return nil, fmt.Errorf("%w: requested %v", ErrNoProducer, requested)
	}
	// The first producer is the critical path for result classification.
	primary := producers[0].Name

	// Self-check before creating any state: a misconfigured backend must
	// fail fast and loudly, not as a silent timeout later.
	if err := o.backend.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	run, err := o.store.CreateRun(ctx, target, requested, resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline run: %w", err)
	}

	o.logger.Info("pipeline run created",
		"run", run.ID,
		"target", target,
		"requested", requested,
		"resolved", resolved,
	)

	// Producer watchdog: if a producer's job fails, consumers that have
	// not started yet can never receive input, so their jobs are failed
	// immediately instead of waiting out the run deadline. It starts
	// before the launch phase to catch producers that fail at launch.
	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		o.watchProducers(watchCtx, run, producers, resolved)
	}()

	// Producers launch first so the stream and its records exist before a
	// consumer's first read. Consumers may launch immediately afterwards;
	// they block on the stream until data arrives.
	for _, producer := range producers {
		o.launchModule(ctx, run, producer, o.bindingsFor(run, producer, primary, target))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, consumer := range o.registry.Consumers(resolved) {
		g.Go(func() error {
			o.launchModule(gctx, run, consumer, o.bindingsFor(run, consumer, primary, target))
			return nil
		})
	}
	// Launches record their own failures in the job store; this wait only
	// keeps the launch goroutines from outliving Run.
	_ = g.Wait() //nolint:errcheck // Launch goroutines never return errors

	result, err := o.monitor.WaitForCompletion(ctx, run.ID, primary, o.runTimeout)
	stopWatch()
	<-watchDone
	if err != nil {
		return nil, fmt.Errorf("completion monitoring failed: %w", err)
	}

	o.logger.Info("pipeline run finished",
		"run", run.ID,
		"status", result.Overall(),
		"elapsed", result.Elapsed(),
	)
	return result, nil
}

// launchModule starts one worker and records the outcome in the job store:
// running on success, failed with the launch error otherwise.
func (o *Orchestrator) launchModule(ctx context.Context, run *model.PipelineRun, module model.Module, bindings StreamBindings) {
	job, err := o.store.FindJob(ctx, run.ID, module.Name)
	if err != nil {
		o.logger.Error("job lookup failed before launch",
			"run", run.ID,
			"module", module.Name,
			"error", err,
		)
		return
	}

	handle, err := o.launcher.Launch(ctx, module, job, bindings)
	if err != nil {
		// Launch failure is infrastructure-level and synchronous; the
		// job is failed here because no worker exists to report it.
		o.logger.Error("worker launch failed",
			"run", run.ID,
			"module", module.Name,
			"error", err,
		)
		if terr := o.store.Transition(ctx, job.ID, model.JobFailed, fmt.Sprintf("launch failure: %v", err)); terr != nil {
			o.logger.Error("failed to record launch failure", "job", job.ID, "error", terr)
		}
		return
	}

	if err := o.store.Transition(ctx, job.ID, model.JobRunning, ""); err != nil {
		o.logger.Error("failed to mark job running", "job", job.ID, "error", err)
		return
	}

	o.logger.Debug("module launched",
		"run", run.ID,
		"module", handle.ModuleName,
		"pid", handle.PID,
	)
}

// bindingsFor derives a module's stream bindings from its roles. A producer
// writes its own stream; a consumer reads its dependency's stream under its
// own group. A module with both roles gets both: it reads upstream records
// and writes enriched ones downstream.
func (o *Orchestrator) bindingsFor(run *model.PipelineRun, module model.Module, primary, target string) StreamBindings {
	b := StreamBindings{
		Target:       target,
		DatabasePath: o.backend.Path(),
	}
	if module.Producer {
		b.WriteStreamKey = run.StreamKey(module.Name)
	}
	if module.Consumer {
		b.ReadStreamKey = o.streamKeyFor(run, module, primary)
		b.Group = module.Name
	}
	return b
}

// streamKeyFor returns the stream a consumer reads: the stream of its first
// producer dependency, falling back to the primary producer for consumers
// whose dependencies carry no producer flag.
func (o *Orchestrator) streamKeyFor(run *model.PipelineRun, consumer model.Module, primary string) string {
	for _, dep := range consumer.Dependencies {
		if m, err := o.registry.Resolve(dep); err == nil && m.Producer {
			return run.StreamKey(m.Name)
		}
	}
	return run.StreamKey(primary)
}

// watchProducers polls producer jobs until all are terminal or the watch is
// cancelled. When a producer fails, every still-pending job of a module
// that transitively depends on it is failed with a propagated error.
func (o *Orchestrator) watchProducers(ctx context.Context, run *model.PipelineRun, producers []model.Module, resolved []string) {
	remaining := make(map[string]bool, len(producers))
	for _, p := range producers {
		remaining[p.Name] = true
	}

	ticker := time.NewTicker(o.cascadePoll)
	defer ticker.Stop()

	for len(remaining) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for name := range remaining {
			job, err := o.store.FindJob(ctx, run.ID, name)
			if err != nil {
				o.logger.Error("producer watch lookup failed", "module", name, "error", err)
				delete(remaining, name)
				continue
			}
			if !job.Status.IsTerminal() {
				continue
			}
			delete(remaining, name)

			if job.Status == model.JobFailed {
				o.cascadeProducerFailure(ctx, run, name, resolved, job.Error)
			}
		}
	}
}

// cascadeProducerFailure fails the still-pending jobs of modules that
// depend (transitively) on the failed producer. Jobs already running are
// left alone: an independent consumer failure never aborts its peers, and
// a running consumer may still produce partial results.
func (o *Orchestrator) cascadeProducerFailure(ctx context.Context, run *model.PipelineRun, producer string, resolved []string, cause string) {
	o.logger.Warn("producer failed, cascading to pending dependents",
		"run", run.ID,
		"producer", producer,
	)

	for _, name := range resolved {
		if name == producer || !o.dependsOn(name, producer) {
			continue
		}
		job, err := o.store.FindJob(ctx, run.ID, name)
		if err != nil {
			o.logger.Error("cascade lookup failed", "module", name, "error", err)
			continue
		}
		if job.Status != model.JobPending {
			continue
		}

		msg := fmt.Sprintf("propagated failure: producer %q failed", producer)
		if cause != "" {
			msg = fmt.Sprintf("propagated failure: producer %q failed: %s", producer, cause)
		}
		err = o.store.Transition(ctx, job.ID, model.JobFailed, msg)
		if err != nil && !errors.Is(err, jobstore.ErrInvalidTransition) {
			o.logger.Error("failed to cascade producer failure", "job", job.ID, "error", err)
		}
	}
}

// dependsOn reports whether module transitively depends on target.
func (o *Orchestrator) dependsOn(module, target string) bool {
	expanded, err := o.registry.Expand([]string{module})
	if err != nil {
		return false
	}
	for _, name := range expanded {
		if name == target && name != module {
			return true
		}
	}
	return false
}
