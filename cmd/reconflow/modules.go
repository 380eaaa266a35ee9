package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reconflow/reconflow/internal/config"
	"github.com/reconflow/reconflow/internal/model"
)

// NewModulesCmd creates the modules command.
func NewModulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules [module...]",
		Short: "List registry modules and their dependency closures",
		Long: `Modules lists the modules declared in the registry file.

Without arguments it lists every active module with its role and direct
dependencies. With module names as arguments it prints the transitive
dependency closure, i.e. the exact set a run of those modules would launch.

Examples:
  # List all active modules
  reconflow modules

  # Show what a run of portscan would actually launch
  reconflow modules portscan

  # Use an explicit registry file
  reconflow modules -r team.yaml`,
		Args: cobra.ArbitraryArgs,
		RunE: runModulesCmd,
	}

	cmd.Flags().StringP("registry", "r", "",
		"Module registry file path (default: .reconflow in current or home directory)")

	return cmd
}

// runModulesCmd executes the modules command.
func runModulesCmd(cmd *cobra.Command, args []string) error {
	registryPath, err := cmd.Flags().GetString("registry")
	if err != nil {
		return err
	}

	cfg := config.NewConfig()
	cfg.RegistryPath = registryPath
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	// With arguments: print the transitive closure a run would launch.
	if len(args) > 0 {
		resolved, err := reg.Expand(args)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Requested: %s\n", strings.Join(args, ", "))
		fmt.Fprintf(out, "Resolved:  %s\n", strings.Join(resolved, ", "))
		return nil
	}

	active := reg.ListActive()
	if len(active) == 0 {
		fmt.Fprintln(out, "No active modules in registry.")
		return nil
	}

	fmt.Fprintf(out, "%d active modules:\n\n", len(active))
	for _, m := range active {
		fmt.Fprintf(out, "  %-16s %-18s", m.Name, moduleRole(m))
		if len(m.Dependencies) > 0 {
			fmt.Fprintf(out, " depends on: %s", strings.Join(m.Dependencies, ", "))
		}
		fmt.Fprintln(out)
	}
	return nil
}

// moduleRole describes a module's stream role for display.
func moduleRole(m model.Module) string {
	switch {
	case m.Producer && m.Consumer:
		return "producer+consumer"
	case m.Producer:
		return "producer"
	case m.Consumer:
		return "consumer"
	default:
		return "standalone"
	}
}
