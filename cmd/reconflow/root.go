package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for reconflow.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconflow",
		Short: "Streaming reconnaissance pipeline orchestrator",
		Long: `reconflow runs a pipeline of independent worker modules against a target.

A producer module discovers data and streams it out; consumer modules read
the same stream in parallel under their own consumer groups and enrich the
data independently. reconflow resolves module dependencies from a registry
file, launches the workers, and reports a per-module result.

Module catalogs live in a .reconflow registry file; run 'reconflow init'
to scaffold one.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewWorkerCmd())
	cmd.AddCommand(NewModulesCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}
