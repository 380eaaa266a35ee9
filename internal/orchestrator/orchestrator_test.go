package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reconflow/reconflow/internal/database"
	"github.com/reconflow/reconflow/internal/jobstore"
	"github.com/reconflow/reconflow/internal/model"
	"github.com/reconflow/reconflow/internal/monitor"
	"github.com/reconflow/reconflow/internal/registry"
	"github.com/reconflow/reconflow/internal/stream"
	"github.com/reconflow/reconflow/internal/worker"
)

// testEnv bundles the coordination backend pieces an orchestrator test
// needs.
type testEnv struct {
	db     *database.DB
	store  *jobstore.Store
	events *stream.Stream
	logger *slog.Logger
}

// setupTestEnv creates a temporary coordination backend.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := jobstore.New(db.Conn())
	if err != nil {
		t.Fatalf("failed to create job store: %v", err)
	}
	events, err := stream.New(db.Conn(), stream.Options{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to create stream: %v", err)
	}

	return &testEnv{
		db:     db,
		store:  store,
		events: events,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// newTestOrchestrator builds an orchestrator with fast poll intervals.
func newTestOrchestrator(t *testing.T, env *testEnv, reg *registry.Registry, launcher Launcher) *Orchestrator {
	t.Helper()

	mon := monitor.New(env.store,
		monitor.WithPollInterval(20*time.Millisecond),
		monitor.WithLogger(env.logger),
	)
	return New(reg, env.store, env.db, launcher, mon,
		WithLogger(env.logger),
		WithRunTimeout(10*time.Second),
		WithCascadePollInterval(20*time.Millisecond),
	)
}

// inprocLauncher runs workers as goroutines instead of OS processes. Each
// module's behavior is pluggable so tests can simulate success, crashes,
// and launch failures.
type inprocLauncher struct {
	env       *testEnv
	behaviors map[string]workerBehavior

	// stalled modules never start: Launch blocks until the job reaches a
	// terminal state (e.g. via the producer-failure cascade) and then
	// reports a launch error, like an exec that hung and was reaped.
	stalled map[string]bool

	mu       sync.Mutex
	launched []string
	bindings map[string]StreamBindings
	wg       sync.WaitGroup
}

// workerBehavior drives one in-process worker after its job is running.
type workerBehavior func(ctx context.Context, env *testEnv, job *model.ModuleJob, bindings StreamBindings) error

func newInprocLauncher(env *testEnv) *inprocLauncher {
	return &inprocLauncher{
		env:       env,
		behaviors: make(map[string]workerBehavior),
		stalled:   make(map[string]bool),
		bindings:  make(map[string]StreamBindings),
	}
}

// Launch starts the module's behavior in a goroutine once the orchestrator
// has marked the job running.
func (l *inprocLauncher) Launch(_ context.Context, module model.Module, job *model.ModuleJob, bindings StreamBindings) (*LaunchHandle, error) {
	if l.stalled[module.Name] {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		waitForTerminal(ctx, l.env.store, job.ID)
		return nil, fmt.Errorf("worker for module %q never started", module.Name)
	}

	behavior, ok := l.behaviors[module.Name]
	if !ok {
		return nil, fmt.Errorf("no worker registered for module %q", module.Name)
	}

	l.mu.Lock()
	l.launched = append(l.launched, module.Name)
	l.bindings[module.Name] = bindings
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// A real worker only exists after the orchestrator marked the
		// job running; mirror that ordering.
		if !waitForStatus(ctx, l.env.store, job.ID, model.JobRunning) {
			return
		}
		_ = behavior(ctx, l.env, job, bindings)
	}()

	return &LaunchHandle{ModuleName: module.Name}, nil
}

func (l *inprocLauncher) launchedModules() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.launched...)
}

func (l *inprocLauncher) moduleBindings(name string) StreamBindings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bindings[name]
}

// waitForTerminal polls the store until the job reaches any terminal state
// or the context expires.
func waitForTerminal(ctx context.Context, store *jobstore.Store, jobID string) {
	for {
		job, err := store.Get(ctx, jobID)
		if err != nil {
			return
		}
		if job.Status.IsTerminal() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// waitForStatus polls the store until the job reaches the given status or
// any terminal state.
func waitForStatus(ctx context.Context, store *jobstore.Store, jobID string, want model.JobStatus) bool {
	for {
		job, err := store.Get(ctx, jobID)
		if err != nil {
			return false
		}
		if job.Status == want {
			return true
		}
		if job.Status.IsTerminal() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// producingWorker emits count records and completes.
func producingWorker(count int) workerBehavior {
	return func(ctx context.Context, env *testEnv, job *model.ModuleJob, bindings StreamBindings) error {
		p := worker.NewProducer(env.events, env.store, job.PipelineRunID, job.ID, bindings.WriteStreamKey, env.logger)
		for i := 0; i < count; i++ {
			if err := p.Emit(ctx, []byte(fmt.Sprintf(`{"host":"h%d"}`, i))); err != nil {
				return p.Fail(ctx, err)
			}
		}
		return p.Complete(ctx)
	}
}

// crashingProducer emits some records, then fails without a marker.
func crashingProducer(count int) workerBehavior {
	return func(ctx context.Context, env *testEnv, job *model.ModuleJob, bindings StreamBindings) error {
		p := worker.NewProducer(env.events, env.store, job.PipelineRunID, job.ID, bindings.WriteStreamKey, env.logger)
		for i := 0; i < count; i++ {
			if err := p.Emit(ctx, []byte("x")); err != nil {
				return p.Fail(ctx, err)
			}
		}
		return p.Fail(ctx, errors.New("probe crashed"))
	}
}

// consumingWorker drains the stream, delaying each record by delay.
func consumingWorker(delay time.Duration) workerBehavior {
	return func(ctx context.Context, env *testEnv, job *model.ModuleJob, bindings StreamBindings) error {
		handler := func(ctx context.Context, _ model.StreamRecord) error {
			if delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
			return nil
		}
		r := worker.NewRunner(env.events, env.store, job.ID, bindings.ReadStreamKey, bindings.Group, job.ModuleName+"-1", handler,
			worker.WithBlockTimeout(50*time.Millisecond),
			worker.WithLogger(env.logger),
		)
		return r.Run(ctx)
	}
}

// hybridWorker passes every upstream record through to its own stream and
// closes that stream once the upstream one is drained.
func hybridWorker() workerBehavior {
	return func(ctx context.Context, env *testEnv, job *model.ModuleJob, bindings StreamBindings) error {
		p := worker.NewProducer(env.events, env.store, job.PipelineRunID, job.ID, bindings.WriteStreamKey, env.logger)
		handler := func(ctx context.Context, record model.StreamRecord) error {
			return p.Emit(ctx, record.Payload)
		}
		r := worker.NewRunner(env.events, env.store, job.ID, bindings.ReadStreamKey, bindings.Group, job.ModuleName+"-1", handler,
			worker.WithBlockTimeout(50*time.Millisecond),
			worker.WithLogger(env.logger),
			worker.WithDrainHook(func(ctx context.Context) error {
				_, err := env.events.PublishCompletionMarker(ctx, bindings.WriteStreamKey, job.PipelineRunID)
				return err
			}),
		)
		return r.Run(ctx)
	}
}

// testRegistry builds a producer with two consumers.
func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	reg, err := registry.New([]model.Module{
		{Name: "discovery", Producer: true},
		{Name: "portscan", Consumer: true, Dependencies: []string{"discovery"}},
		{Name: "fingerprint", Consumer: true, Dependencies: []string{"discovery"}},
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return reg
}

// TestRunCompletesPipeline runs a full producer-plus-consumers pipeline in
// process and verifies every module drains and completes.
func TestRunCompletesPipeline(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	launcher := newInprocLauncher(env)
	launcher.behaviors["discovery"] = producingWorker(5)
	launcher.behaviors["portscan"] = consumingWorker(0)
	launcher.behaviors["fingerprint"] = consumingWorker(0)

	orch := newTestOrchestrator(t, env, testRegistry(t), launcher)

	result, err := orch.Run(context.Background(), "example.com", []string{"portscan", "fingerprint"})
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	launcher.wg.Wait()

	if result.Overall() != model.RunCompleted {
		t.Errorf("Overall() = %s, want completed (errors: %v)", result.Overall(), result.Errors)
	}
	for _, module := range []string{"discovery", "portscan", "fingerprint"} {
		if result.Statuses[module] != model.JobCompleted {
			t.Errorf("%s status = %s, want completed", module, result.Statuses[module])
		}
	}

	// Both consumer groups drained the stream fully.
	key := result.PipelineRunID + ":discovery"
	for _, group := range []string{"portscan", "fingerprint"} {
		pending, err := env.events.PendingCount(context.Background(), key, group)
		if err != nil {
			t.Fatalf("PendingCount() returned error: %v", err)
		}
		if pending != 0 {
			t.Errorf("group %s has %d pending records after completion", group, pending)
		}
	}
}

// TestRunHybridModule runs a three-stage pipeline whose middle module is
// both producer and consumer: it must read its dependency's stream and
// write its own, and the downstream consumer must read the hybrid's output.
func TestRunHybridModule(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	launcher := newInprocLauncher(env)
	launcher.behaviors["discovery"] = producingWorker(3)
	launcher.behaviors["enrich"] = hybridWorker()
	launcher.behaviors["portscan"] = consumingWorker(0)

	reg, err := registry.New([]model.Module{
		{Name: "discovery", Producer: true},
		{Name: "enrich", Producer: true, Consumer: true, Dependencies: []string{"discovery"}},
		{Name: "portscan", Consumer: true, Dependencies: []string{"enrich"}},
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	orch := newTestOrchestrator(t, env, reg, launcher)

	result, err := orch.Run(context.Background(), "example.com", []string{"portscan"})
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	launcher.wg.Wait()

	if result.Overall() != model.RunCompleted {
		t.Fatalf("Overall() = %s, want completed (errors: %v)", result.Overall(), result.Errors)
	}
	for _, module := range []string{"discovery", "enrich", "portscan"} {
		if result.Statuses[module] != model.JobCompleted {
			t.Errorf("%s status = %s, want completed", module, result.Statuses[module])
		}
	}

	// The hybrid reads its dependency's stream and writes its own.
	enrich := launcher.moduleBindings("enrich")
	if want := result.PipelineRunID + ":discovery"; enrich.ReadStreamKey != want {
		t.Errorf("enrich reads %q, want %q", enrich.ReadStreamKey, want)
	}
	if want := result.PipelineRunID + ":enrich"; enrich.WriteStreamKey != want {
		t.Errorf("enrich writes %q, want %q", enrich.WriteStreamKey, want)
	}
	if enrich.Group != "enrich" {
		t.Errorf("enrich group = %q, want enrich", enrich.Group)
	}

	// The downstream consumer reads the hybrid's output, not the root
	// producer's.
	portscan := launcher.moduleBindings("portscan")
	if want := result.PipelineRunID + ":enrich"; portscan.ReadStreamKey != want {
		t.Errorf("portscan reads %q, want %q", portscan.ReadStreamKey, want)
	}
	if portscan.WriteStreamKey != "" {
		t.Errorf("portscan writes %q, want no write stream", portscan.WriteStreamKey)
	}

	// Every discovery record flowed through the hybrid: three pass-through
	// records plus the hybrid's own completion marker.
	length, err := env.events.Len(context.Background(), result.PipelineRunID+":enrich")
	if err != nil {
		t.Fatalf("Len() returned error: %v", err)
	}
	if length != 4 {
		t.Errorf("enrich output stream length = %d, want 4", length)
	}
}

// TestRunResolvesDependencies verifies a consumer request pulls in its
// producer.
func TestRunResolvesDependencies(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	launcher := newInprocLauncher(env)
	launcher.behaviors["discovery"] = producingWorker(1)
	launcher.behaviors["portscan"] = consumingWorker(0)

	orch := newTestOrchestrator(t, env, testRegistry(t), launcher)

	result, err := orch.Run(context.Background(), "example.com", []string{"portscan"})
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	launcher.wg.Wait()

	if _, ok := result.Statuses["discovery"]; !ok {
		t.Error("discovery should have been resolved into the run")
	}

	launched := launcher.launchedModules()
	if len(launched) != 2 {
		t.Fatalf("launched %v, want discovery and portscan", launched)
	}
	// Producers launch before consumers.
	if launched[0] != "discovery" {
		t.Errorf("first launch = %s, want discovery", launched[0])
	}
}

// TestRunIndependentConsumers verifies a slow consumer does not hold back a
// fast sibling.
func TestRunIndependentConsumers(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	launcher := newInprocLauncher(env)
	launcher.behaviors["discovery"] = producingWorker(3)
	launcher.behaviors["portscan"] = consumingWorker(150 * time.Millisecond)
	launcher.behaviors["fingerprint"] = consumingWorker(0)

	orch := newTestOrchestrator(t, env, testRegistry(t), launcher)

	result, err := orch.Run(context.Background(), "example.com", []string{"portscan", "fingerprint"})
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	launcher.wg.Wait()

	if result.Overall() != model.RunCompleted {
		t.Fatalf("Overall() = %s, want completed (errors: %v)", result.Overall(), result.Errors)
	}
	if result.Durations["fingerprint"] >= result.Durations["portscan"] {
		t.Errorf("fast consumer (%v) should finish before the slow one (%v)",
			result.Durations["fingerprint"], result.Durations["portscan"])
	}
}

// TestRunProducerFailureCascades verifies a failed producer fails pending
// dependents instead of letting them wait out the run deadline.
func TestRunProducerFailureCascades(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	launcher := newInprocLauncher(env)
	launcher.behaviors["discovery"] = crashingProducer(2)
	// The consumers hang at launch, so their jobs stay pending and the
	// cascade is the only thing that can end them.
	launcher.stalled["portscan"] = true
	launcher.stalled["fingerprint"] = true

	orch := newTestOrchestrator(t, env, testRegistry(t), launcher)

	result, err := orch.Run(context.Background(), "example.com", []string{"portscan", "fingerprint"})
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	launcher.wg.Wait()

	if result.Overall() != model.RunFailed {
		t.Errorf("Overall() = %s, want failed", result.Overall())
	}
	if result.Statuses["discovery"] != model.JobFailed {
		t.Errorf("discovery status = %s, want failed", result.Statuses["discovery"])
	}
	for _, consumer := range []string{"portscan", "fingerprint"} {
		if result.Statuses[consumer] != model.JobFailed {
			t.Errorf("%s status = %s, want failed via cascade", consumer, result.Statuses[consumer])
		}
		if !strings.Contains(result.Errors[consumer], "propagated failure") {
			t.Errorf("%s error = %q, want propagated failure detail", consumer, result.Errors[consumer])
		}
	}
}

// TestRunLaunchFailure verifies a synchronous launch failure is recorded on
// the job and the run still yields a result.
func TestRunLaunchFailure(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	// No behavior registered for discovery: Launch returns an error.
	launcher := newInprocLauncher(env)

	reg, err := registry.New([]model.Module{{Name: "discovery", Producer: true}})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	orch := newTestOrchestrator(t, env, reg, launcher)

	result, err := orch.Run(context.Background(), "example.com", []string{"discovery"})
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if result.Statuses["discovery"] != model.JobFailed {
		t.Errorf("discovery status = %s, want failed", result.Statuses["discovery"])
	}
	if !strings.Contains(result.Errors["discovery"], "launch failure") {
		t.Errorf("error = %q, want launch failure detail", result.Errors["discovery"])
	}
	if result.Overall() != model.RunFailed {
		t.Errorf("Overall() = %s, want failed", result.Overall())
	}
}

// TestRunConfigurationErrors verifies configuration problems surface before
// any pipeline state exists.
func TestRunConfigurationErrors(t *testing.T) {
	t.Parallel()

	env := setupTestEnv(t)
	launcher := newInprocLauncher(env)

	t.Run("empty module set", func(t *testing.T) {
		t.Parallel()

		orch := newTestOrchestrator(t, env, testRegistry(t), launcher)
		if _, err := orch.Run(context.Background(), "example.com", nil); !errors.Is(err, ErrNoModulesRequested) {
			t.Errorf("expected ErrNoModulesRequested, got %v", err)
		}
	})

	t.Run("unknown module", func(t *testing.T) {
		t.Parallel()

		orch := newTestOrchestrator(t, env, testRegistry(t), launcher)
		if _, err := orch.Run(context.Background(), "example.com", []string{"nonexistent"}); !errors.Is(err, registry.ErrUnknownModule) {
			t.Errorf("expected ErrUnknownModule, got %v", err)
		}
	})

	t.Run("no producer in resolved set", func(t *testing.T) {
		t.Parallel()

		reg, err := registry.New([]model.Module{{Name: "orphan", Consumer: true}})
		if err != nil {
			t.Fatalf("failed to build registry: %v", err)
		}
		orch := newTestOrchestrator(t, env, reg, launcher)
		if _, err := orch.Run(context.Background(), "example.com", []string{"orphan"}); !errors.Is(err, ErrNoProducer) {
			t.Errorf("expected ErrNoProducer, got %v", err)
		}
	})

	t.Run("unavailable backend", func(t *testing.T) {
		t.Parallel()

		mon := monitor.New(env.store, monitor.WithLogger(env.logger))
		orch := New(testRegistry(t), env.store, unavailableBackend{}, launcher, mon, WithLogger(env.logger))
		if _, err := orch.Run(context.Background(), "example.com", []string{"discovery"}); !errors.Is(err, ErrBackendUnavailable) {
			t.Errorf("expected ErrBackendUnavailable, got %v", err)
		}
	})
}

// unavailableBackend always fails the startup self-check.
type unavailableBackend struct{}

func (unavailableBackend) Ping(context.Context) error { return errors.New("disk full") }
func (unavailableBackend) Path() string               { return "/dev/null" }
