package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/reconflow/reconflow/internal/config"
	"github.com/reconflow/reconflow/internal/database"
	"github.com/reconflow/reconflow/internal/jobstore"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Inspect the module jobs of a pipeline run",
		Long: `Status shows the per-module job states of a pipeline run.

Each module job is listed with its status, timing, and error detail if any.
With --transitions the full status history of every job is printed, which
is the audit trail of how the run unfolded.

Examples:
  # Show job states for a run
  reconflow status 3f8a1c2e-...

  # Include the status transition history
  reconflow status 3f8a1c2e-... --transitions`,
		Args: cobra.ExactArgs(1),
		RunE: runStatusCmd,
	}

	cmd.Flags().String("data-dir", config.XDGDataDir(),
		"Directory holding the coordination database")
	cmd.Flags().Bool("transitions", false,
		"Show the status transition history of each job")

	return cmd
}

// runStatusCmd executes the status command.
func runStatusCmd(cmd *cobra.Command, args []string) error {
	runID := args[0]

	dataDir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return err
	}
	showTransitions, err := cmd.Flags().GetBool("transitions")
	if err != nil {
		return err
	}

	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	db, err := database.Open(dataDir, opts)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	store, err := jobstore.New(db.Conn())
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}

	ctx := cmd.Context()
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	jobs, err := store.ListByRun(ctx, runID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:       %s\n", run.ID)
	fmt.Fprintf(out, "Target:    %s\n", run.Target)
	fmt.Fprintf(out, "Created:   %s\n", run.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Requested: %s\n", strings.Join(run.RequestedModules, ", "))
	fmt.Fprintf(out, "Resolved:  %s\n\n", strings.Join(run.ResolvedModules, ", "))

	for _, job := range jobs {
		fmt.Fprintf(out, "  %-16s %-10s", job.ModuleName, job.Status)
		if d := job.Duration(); d > 0 {
			fmt.Fprintf(out, " %10s", d.Round(time.Millisecond))
		}
		if job.Error != "" {
			fmt.Fprintf(out, "  %s", job.Error)
		}
		fmt.Fprintln(out)

		if showTransitions {
			records, err := store.Transitions(ctx, job.ID)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Fprintf(out, "    %s  %s -> %s", rec.At.Format(time.RFC3339), rec.From, rec.To)
				if rec.Error != "" {
					fmt.Fprintf(out, "  (%s)", rec.Error)
				}
				fmt.Fprintln(out)
			}
		}
	}
	return nil
}
