package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reconflow/reconflow/internal/database"
	"github.com/reconflow/reconflow/internal/jobstore"
	"github.com/reconflow/reconflow/internal/log"
	"github.com/reconflow/reconflow/internal/model"
	"github.com/reconflow/reconflow/internal/orchestrator"
	"github.com/reconflow/reconflow/internal/stream"
	"github.com/reconflow/reconflow/internal/worker"
)

// workerBindings holds the coordination endpoints a worker process reads
// from its environment. The launcher injects these on every launch.
type workerBindings struct {
	runID       string
	jobID       string
	module      string
	target      string
	readStream  string
	writeStream string
	group       string
	dbPath      string
}

// NewWorkerCmd creates the worker command.
//
// The worker command is the built-in pass-through worker: launched by the
// orchestrator, it reads its bindings from the environment and plays the
// producer or consumer role depending on whether a consumer group is set.
// Real reconnaissance modules replace it with their own executables that
// follow the same contract.
func NewWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run as a pipeline worker process (launched by the orchestrator)",
		Long: `Worker runs one module job inside a pipeline. It is not meant to be
invoked by hand: the orchestrator launches it with coordination bindings in
RECONFLOW_* environment variables and tracks it through the job store.

As a producer it publishes a seed record for the target and a completion
marker. As a consumer it acknowledges every record from its dependency's
stream, completing once the stream is drained. A module bound with both a
read and a write stream plays both roles: records are passed through to
its own stream, which is closed once the upstream stream is drained.`,
		Hidden: true,
		RunE:   runWorkerCmd,
	}
}

// runWorkerCmd executes the worker command.
func runWorkerCmd(cmd *cobra.Command, _ []string) error {
	b, err := bindingsFromEnv()
	if err != nil {
		return err
	}

	verbose := getVerboseFlag(cmd)
	logger := log.NewLogger(os.Stderr, verbose).With(
		"module", b.module,
		"job", b.jobID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, cancelling...")
		cancel()
	}()

	db, err := database.Open(filepath.Dir(b.dbPath), database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open coordination database: %w", err)
	}
	defer db.Close()

	store, err := jobstore.New(db.Conn())
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	events, err := stream.New(db.Conn(), stream.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}

	// The bound streams decide the role: write-only is a producer,
	// read-only is a consumer, both is a hybrid.
	switch {
	case b.readStream != "" && b.writeStream != "":
		return runHybridWorker(ctx, b, events, store, logger)
	case b.writeStream != "":
		return runProducerWorker(ctx, b, events, store, logger)
	default:
		return runConsumerWorker(ctx, b, events, store, logger)
	}
}

// bindingsFromEnv reads the launcher-injected environment variables.
func bindingsFromEnv() (*workerBindings, error) {
	b := &workerBindings{
		runID:       os.Getenv(orchestrator.EnvRunID),
		jobID:       os.Getenv(orchestrator.EnvJobID),
		module:      os.Getenv(orchestrator.EnvModule),
		target:      os.Getenv(orchestrator.EnvTarget),
		readStream:  os.Getenv(orchestrator.EnvReadStream),
		writeStream: os.Getenv(orchestrator.EnvWriteStream),
		group:       os.Getenv(orchestrator.EnvGroup),
		dbPath:      os.Getenv(orchestrator.EnvDBPath),
	}

	for _, required := range []struct {
		name  string
		value string
	}{
		{orchestrator.EnvRunID, b.runID},
		{orchestrator.EnvJobID, b.jobID},
		{orchestrator.EnvModule, b.module},
		{orchestrator.EnvDBPath, b.dbPath},
	} {
		if required.value == "" {
			return nil, fmt.Errorf("missing environment variable %s (worker must be launched by the orchestrator)", required.name)
		}
	}

	if b.readStream == "" && b.writeStream == "" {
		return nil, fmt.Errorf("missing environment variable %s or %s (worker must be launched by the orchestrator)",
			orchestrator.EnvReadStream, orchestrator.EnvWriteStream)
	}
	if b.readStream != "" && b.group == "" {
		return nil, fmt.Errorf("missing environment variable %s (a read stream requires a consumer group)", orchestrator.EnvGroup)
	}
	return b, nil
}

// seedRecord is the payload the built-in producer publishes.
type seedRecord struct {
	Target string `json:"target"`
	Source string `json:"source"`
}

// runProducerWorker publishes a single seed record for the target and
// finishes with a completion marker.
func runProducerWorker(ctx context.Context, b *workerBindings, events *stream.Stream, store *jobstore.Store, logger *slog.Logger) error {
	producer := worker.NewProducer(events, store, b.runID, b.jobID, b.writeStream, logger)

	payload, err := json.Marshal(seedRecord{Target: b.target, Source: b.module})
	if err != nil {
		return producer.Fail(ctx, err)
	}
	if err := producer.Emit(ctx, payload); err != nil {
		return producer.Fail(ctx, err)
	}

	return producer.Complete(ctx)
}

// runConsumerWorker drains the dependency's stream, acknowledging every
// record it can decode.
func runConsumerWorker(ctx context.Context, b *workerBindings, events *stream.Stream, store *jobstore.Store, logger *slog.Logger) error {
	handler := func(_ context.Context, record model.StreamRecord) error {
		var seed seedRecord
		if err := json.Unmarshal(record.Payload, &seed); err != nil {
			return fmt.Errorf("undecodable record %d: %w", record.SequenceID, err)
		}
		logger.Debug("processed record",
			"sequence", record.SequenceID,
			"target", seed.Target,
			"source", seed.Source,
		)
		return nil
	}

	consumerID := fmt.Sprintf("%s-%d", b.module, os.Getpid())
	runner := worker.NewRunner(events, store, b.jobID, b.readStream, b.group, consumerID, handler,
		worker.WithLogger(logger),
	)
	return runner.Run(ctx)
}

// runHybridWorker drains the dependency's stream and re-publishes each
// record onto the module's own stream, so downstream consumers see one
// enriched record per upstream record. The output stream gets its
// completion marker once the upstream stream is drained, before the job
// completes.
func runHybridWorker(ctx context.Context, b *workerBindings, events *stream.Stream, store *jobstore.Store, logger *slog.Logger) error {
	producer := worker.NewProducer(events, store, b.runID, b.jobID, b.writeStream, logger)

	handler := func(ctx context.Context, record model.StreamRecord) error {
		var seed seedRecord
		if err := json.Unmarshal(record.Payload, &seed); err != nil {
			return fmt.Errorf("undecodable record %d: %w", record.SequenceID, err)
		}
		payload, err := json.Marshal(seedRecord{Target: seed.Target, Source: b.module})
		if err != nil {
			return fmt.Errorf("failed to re-encode record %d: %w", record.SequenceID, err)
		}
		return producer.Emit(ctx, payload)
	}

	consumerID := fmt.Sprintf("%s-%d", b.module, os.Getpid())
	runner := worker.NewRunner(events, store, b.jobID, b.readStream, b.group, consumerID, handler,
		worker.WithLogger(logger),
		worker.WithDrainHook(func(ctx context.Context) error {
			if _, err := events.PublishCompletionMarker(ctx, b.writeStream, b.runID); err != nil {
				return fmt.Errorf("failed to close output stream: %w", err)
			}
			return nil
		}),
	)
	return runner.Run(ctx)
}
