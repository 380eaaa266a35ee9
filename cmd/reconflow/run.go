package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reconflow/reconflow/internal/config"
	"github.com/reconflow/reconflow/internal/database"
	"github.com/reconflow/reconflow/internal/jobstore"
	"github.com/reconflow/reconflow/internal/log"
	"github.com/reconflow/reconflow/internal/model"
	"github.com/reconflow/reconflow/internal/monitor"
	"github.com/reconflow/reconflow/internal/orchestrator"
	"github.com/reconflow/reconflow/internal/registry"
	"github.com/reconflow/reconflow/internal/report"
	"github.com/reconflow/reconflow/internal/stream"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [target]",
		Short: "Run a reconnaissance pipeline against a target",
		Long: `Run resolves the requested modules against the registry, launches one
worker process per module, and waits for the pipeline to finish.

The producer module streams discovery records; each consumer module reads
the full stream under its own consumer group, so consumers progress
independently and a slow module never blocks its siblings.

Examples:
  # Run the default module set against a target
  reconflow run example.com --modules discovery,portscan

  # Resolve dependencies automatically (portscan pulls in discovery)
  reconflow run example.com --modules portscan

  # Use an explicit registry file and a shorter deadline
  reconflow run example.com --modules portscan -r team.yaml -t 5m

  # Output a JSON report to a file
  reconflow run example.com --modules portscan --json -o result.json`,
		Args: cobra.ExactArgs(1),
		RunE: runRunCmd,
	}

	// Module selection flags
	cmd.Flags().StringSliceP("modules", "M", nil,
		"Modules to run (dependencies are resolved automatically)")
	cmd.Flags().StringP("registry", "r", "",
		"Module registry file path (default: .reconflow in current or home directory)")

	// Coordination flags
	cmd.Flags().String("data-dir", config.XDGDataDir(),
		"Directory holding the coordination database")
	cmd.Flags().DurationP("timeout", "t", config.DefaultRunTimeout,
		"Overall deadline for the pipeline run")
	cmd.Flags().Duration("poll-interval", config.DefaultPollInterval,
		"Completion monitor poll interval")
	cmd.Flags().Duration("visibility-timeout", config.DefaultVisibilityTimeout,
		"Redelivery window for unacknowledged stream records")
	cmd.Flags().Int("max-deliveries", config.DefaultMaxDeliveries,
		"Delivery attempts per stream record before dead-lettering")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")

	return cmd
}

// runRunCmd executes the run command.
func runRunCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildRunConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Set up structured logging
	cfg.Verbose = getVerboseFlag(cmd)
	logger := log.NewLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, cancelling...")
		cancel()
	}()

	return runPipeline(ctx, cfg, logger)
}

// buildRunConfig creates a Config from cobra command flags.
func buildRunConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Target = args[0]

	var err error

	cfg.Modules, err = cmd.Flags().GetStringSlice("modules")
	if err != nil {
		return nil, err
	}

	cfg.RegistryPath, err = cmd.Flags().GetString("registry")
	if err != nil {
		return nil, err
	}

	cfg.DataDir, err = cmd.Flags().GetString("data-dir")
	if err != nil {
		return nil, err
	}

	cfg.RunTimeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}

	cfg.PollInterval, err = cmd.Flags().GetDuration("poll-interval")
	if err != nil {
		return nil, err
	}

	cfg.VisibilityTimeout, err = cmd.Flags().GetDuration("visibility-timeout")
	if err != nil {
		return nil, err
	}

	cfg.MaxDeliveries, err = cmd.Flags().GetInt("max-deliveries")
	if err != nil {
		return nil, err
	}

	cfg.JSONReport, err = cmd.Flags().GetBool("json")
	if err != nil {
		return nil, err
	}

	cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown")
	if err != nil {
		return nil, err
	}

	cfg.ReportFile, err = cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadRegistry resolves and loads the module registry file.
// If the user explicitly specified a path, a missing file is an error.
func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	explicitPath := cfg.RegistryPath != ""
	path := config.FindRegistryFile(cfg.RegistryPath)
	if path == "" {
		if explicitPath {
			return nil, fmt.Errorf("registry file not found: %s", cfg.RegistryPath)
		}
		return nil, fmt.Errorf("no %s registry file found (run 'reconflow init' to create one)", config.DefaultRegistryFile)
	}

	reg, err := registry.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry %s: %w", path, err)
	}
	return reg, nil
}

// runPipeline wires the coordination backend together and executes the run.
func runPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.DataDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	logger.Info("database opened", "path", db.Path())

	store, err := jobstore.New(db.Conn())
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}

	// Create the stream schema up front so workers find it ready.
	if _, err := stream.New(db.Conn(), stream.Options{
		VisibilityTimeout: cfg.VisibilityTimeout,
		MaxDeliveries:     cfg.MaxDeliveries,
	}); err != nil {
		return fmt.Errorf("failed to initialize event stream: %w", err)
	}

	mon := monitor.New(store,
		monitor.WithPollInterval(cfg.PollInterval),
		monitor.WithLogger(logger),
	)
	launcher := orchestrator.NewExecLauncher(logger)
	orch := orchestrator.New(reg, store, db, launcher, mon,
		orchestrator.WithLogger(logger),
		orchestrator.WithRunTimeout(cfg.RunTimeout),
	)

	fmt.Printf("Running pipeline against %s...\n", cfg.Target)

	result, err := orch.Run(ctx, cfg.Target, cfg.Modules)
	if err != nil {
		return fmt.Errorf("pipeline failed to start: %w", err)
	}

	fmt.Printf("Pipeline finished in %s\n\n", result.Elapsed().Round(time.Millisecond))

	if err := outputResult(cfg, result); err != nil {
		return fmt.Errorf("report failed: %w", err)
	}

	// Partial results are accepted; only a fully failed or timed out run
	// is an error at the CLI level.
	switch overall := result.Overall(); overall {
	case model.RunFailed, model.RunTimeout:
		return fmt.Errorf("pipeline run %s: %s", result.PipelineRunID, overall)
	default:
		return nil
	}
}

// outputResult writes the pipeline result in the requested format.
func outputResult(cfg *config.Config, result *model.PipelineResult) error {
	writer, closer, err := resultWriter(cfg, os.Stdout)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	_, err = writer.Write(result)
	return err
}

// resultWriter builds the report writer for the configured format and
// destination. The returned closer is nil when no file is involved.
func resultWriter(cfg *config.Config, stdout *os.File) (report.Writer, func(), error) {
	newWriter := func(output *os.File) report.Writer {
		switch {
		case cfg.JSONReport:
			return report.NewJSONWriter(output, report.WithPrettyPrint())
		case cfg.MarkdownReport:
			return report.NewMarkdownWriter(output)
		default:
			return report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
		}
	}

	if cfg.ReportFile == "" {
		return newWriter(stdout), nil, nil
	}

	dir := filepath.Dir(cfg.ReportFile)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Reports may contain target details; keep them owner-readable only.
	f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}

	// Write to both the file and stdout.
	multi := report.NewMultiWriter(newWriter(f), newWriter(stdout))
	return multi, func() { f.Close() }, nil
}
