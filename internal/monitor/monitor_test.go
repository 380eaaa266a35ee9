package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/reconflow/reconflow/internal/database"
	"github.com/reconflow/reconflow/internal/jobstore"
	"github.com/reconflow/reconflow/internal/model"
)

// setupTestMonitor creates a monitor over a temporary job store.
func setupTestMonitor(t *testing.T) (*Monitor, *jobstore.Store) {
	t.Helper()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := jobstore.New(db.Conn())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	mon := New(store,
		WithPollInterval(20*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return mon, store
}

// TestWaitForCompletion verifies the monitor returns once every job is
// terminal, with the aggregated per-module outcome.
func TestWaitForCompletion(t *testing.T) {
	t.Parallel()

	mon, store := setupTestMonitor(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, "example.com", []string{"portscan"}, []string{"discovery", "portscan"})
	if err != nil {
		t.Fatalf("CreateRun() returned error: %v", err)
	}

	// Simulate workers finishing while the monitor polls.
	go func() {
		time.Sleep(60 * time.Millisecond)
		finishJob(t, store, run.ID, "discovery", model.JobCompleted, "")
		time.Sleep(40 * time.Millisecond)
		finishJob(t, store, run.ID, "portscan", model.JobFailed, "connection refused")
	}()

	result, err := mon.WaitForCompletion(ctx, run.ID, "discovery", 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForCompletion() returned error: %v", err)
	}

	if result.Statuses["discovery"] != model.JobCompleted {
		t.Errorf("discovery status = %s, want completed", result.Statuses["discovery"])
	}
	if result.Statuses["portscan"] != model.JobFailed {
		t.Errorf("portscan status = %s, want failed", result.Statuses["portscan"])
	}
	if result.Errors["portscan"] != "connection refused" {
		t.Errorf("portscan error = %q, want %q", result.Errors["portscan"], "connection refused")
	}
	if result.Overall() != model.RunPartialFailure {
		t.Errorf("Overall() = %s, want partial_failure", result.Overall())
	}
}

// TestWaitForCompletionKeepsBlocking verifies the monitor does not return
// while any job is still non-terminal, even long after the others finished.
func TestWaitForCompletionKeepsBlocking(t *testing.T) {
	t.Parallel()

	mon, store := setupTestMonitor(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, "example.com", []string{"portscan"}, []string{"discovery", "portscan"})
	if err != nil {
		t.Fatalf("CreateRun() returned error: %v", err)
	}
	finishJob(t, store, run.ID, "discovery", model.JobCompleted, "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = mon.WaitForCompletion(ctx, run.ID, "discovery", 5*time.Second)
	}()

	select {
	case <-done:
		t.Fatal("monitor returned while a job was still running")
	case <-time.After(200 * time.Millisecond):
	}

	// The straggler finishes and the monitor unblocks.
	finishJob(t, store, run.ID, "portscan", model.JobCompleted, "")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not return after the last job finished")
	}
}

// TestWaitForCompletionTimeout verifies the deadline forces unfinished jobs
// to the timeout state and still yields a result.
func TestWaitForCompletionTimeout(t *testing.T) {
	t.Parallel()

	mon, store := setupTestMonitor(t)
	ctx := context.Background()

	run, err := store.CreateRun(ctx, "example.com", []string{"portscan"}, []string{"discovery", "portscan"})
	if err != nil {
		t.Fatalf("CreateRun() returned error: %v", err)
	}
	finishJob(t, store, run.ID, "discovery", model.JobCompleted, "")
	startJob(t, store, run.ID, "portscan")

	result, err := mon.WaitForCompletion(ctx, run.ID, "discovery", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForCompletion() returned error: %v", err)
	}

	if result.Statuses["portscan"] != model.JobTimeout {
		t.Errorf("portscan status = %s, want timeout", result.Statuses["portscan"])
	}
	// The producer completed, so the run degrades to partial instead of a
	// full timeout.
	if result.Overall() != model.RunPartialFailure {
		t.Errorf("Overall() = %s, want partial_failure", result.Overall())
	}

	// The forced transition is audited like any other.
	job, err := store.FindJob(ctx, run.ID, "portscan")
	if err != nil {
		t.Fatalf("FindJob() returned error: %v", err)
	}
	records, err := store.Transitions(ctx, job.ID)
	if err != nil {
		t.Fatalf("Transitions() returned error: %v", err)
	}
	last := records[len(records)-1]
	if last.To != model.JobTimeout {
		t.Errorf("last transition = %s, want timeout", last.To)
	}
}

// TestWaitForCompletionCancellation verifies cancellation produces a
// consumable result with unfinished jobs marked as timed out.
func TestWaitForCompletionCancellation(t *testing.T) {
	t.Parallel()

	mon, store := setupTestMonitor(t)

	run, err := store.CreateRun(context.Background(), "example.com", []string{"discovery"}, []string{"discovery"})
	if err != nil {
		t.Fatalf("CreateRun() returned error: %v", err)
	}
	startJob(t, store, run.ID, "discovery")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(80 * time.Millisecond)
		cancel()
	}()

	result, err := mon.WaitForCompletion(ctx, run.ID, "discovery", time.Hour)
	if err != nil {
		t.Fatalf("WaitForCompletion() returned error: %v", err)
	}
	if result.Statuses["discovery"] != model.JobTimeout {
		t.Errorf("discovery status = %s, want timeout", result.Statuses["discovery"])
	}
	if result.Overall() != model.RunTimeout {
		t.Errorf("Overall() = %s, want timeout", result.Overall())
	}
}

// TestWaitForCompletionAlreadyCancelled verifies a context that is already
// cancelled on entry still yields a best-effort forced-timeout result.
// A poll issued with a dead context must not be reported as a crash.
func TestWaitForCompletionAlreadyCancelled(t *testing.T) {
	t.Parallel()

	mon, store := setupTestMonitor(t)

	run, err := store.CreateRun(context.Background(), "example.com", []string{"discovery"}, []string{"discovery"})
	if err != nil {
		t.Fatalf("CreateRun() returned error: %v", err)
	}
	startJob(t, store, run.ID, "discovery")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := mon.WaitForCompletion(ctx, run.ID, "discovery", time.Hour)
	if err != nil {
		t.Fatalf("WaitForCompletion() returned error: %v", err)
	}
	if result.Statuses["discovery"] != model.JobTimeout {
		t.Errorf("discovery status = %s, want timeout", result.Statuses["discovery"])
	}
	if result.Overall() != model.RunTimeout {
		t.Errorf("Overall() = %s, want timeout", result.Overall())
	}
}

// TestWaitForCompletionUnknownRun tests monitoring a nonexistent run.
func TestWaitForCompletionUnknownRun(t *testing.T) {
	t.Parallel()

	mon, _ := setupTestMonitor(t)

	_, err := mon.WaitForCompletion(context.Background(), "no-such-run", "discovery", time.Second)
	if !errors.Is(err, jobstore.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

// startJob moves a module's job to running.
func startJob(t *testing.T, store *jobstore.Store, runID, module string) {
	t.Helper()

	job, err := store.FindJob(context.Background(), runID, module)
	if err != nil {
		t.Fatalf("FindJob(%s) returned error: %v", module, err)
	}
	if err := store.Transition(context.Background(), job.ID, model.JobRunning, ""); err != nil {
		t.Fatalf("failed to start %s: %v", module, err)
	}
}

// finishJob drives a module's job to a terminal state. It reports failures
// with Errorf so it is safe to call from helper goroutines.
func finishJob(t *testing.T, store *jobstore.Store, runID, module string, status model.JobStatus, errMsg string) {
	t.Helper()

	job, err := store.FindJob(context.Background(), runID, module)
	if err != nil {
		t.Errorf("FindJob(%s) returned error: %v", module, err)
		return
	}
	if err := store.Transition(context.Background(), job.ID, model.JobRunning, ""); err != nil {
		t.Errorf("failed to start %s: %v", module, err)
		return
	}
	if err := store.Transition(context.Background(), job.ID, status, errMsg); err != nil {
		t.Errorf("failed to finish %s: %v", module, err)
	}
}
