package cli

import (
	"github.com/spf13/cobra"

	"github.com/flowforge/catalog/internal/commands/register"
	"github.com/flowforge/catalog/internal/commands/run"
	"github.com/flowforge/catalog/internal/commands/schedules"
)

var jsonOutput bool

// NewRootCommand assembles catalogctl's command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalogctl",
		Short: "Operate a catalog service daemon",
		Long: `catalogctl registers job and workflow definitions with a running
catalogd, triggers workflow runs, and inspects schedules.

The daemon's control-plane URL is read from CATALOGD_URL (default
http://127.0.0.1:8090).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")

	cmd.AddCommand(register.NewCommand())
	cmd.AddCommand(run.NewCommand())
	cmd.AddCommand(schedules.NewCommand())

	return cmd
}
