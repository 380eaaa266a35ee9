package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

//go:embed templates/reconflow.yaml
var registryTemplate embed.FS

// registryFileName is the default module registry file name.
const registryFileName = ".reconflow"

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new reconflow module registry file",
		Long: `Initialize creates a new .reconflow module registry file in the current directory.

The generated file includes:
- A sample producer module with its launch command
- Sample consumer modules with dependency declarations
- Documentation for all registry fields

Examples:
  # Create .reconflow in current directory
  reconflow init

  # Create registry file at a specific path
  reconflow init -o myregistry.yaml

  # Force overwrite existing file
  reconflow init -f`,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", registryFileName,
		"Output file path for the module registry")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing registry file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	// Check if file already exists
	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("registry file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	// Read template from embedded filesystem
	content, err := registryTemplate.ReadFile("templates/reconflow.yaml")
	if err != nil {
		return fmt.Errorf("failed to read registry template: %w", err)
	}

	// Create parent directories if needed
	dir := filepath.Dir(outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Write registry file
	if err := os.WriteFile(outputPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}

	fmt.Printf("Created registry file: %s\n", outputPath)
	fmt.Println("\nEdit this file to declare your pipeline modules:")
	fmt.Println("  - Producer modules that discover work and publish records")
	fmt.Println("  - Consumer modules that process records from their dependencies")
	fmt.Println("  - Launch commands for each module's worker process")

	return nil
}
