// Package schedules implements catalogctl's `schedules` subcommands:
// listing and toggling cron schedules on a running catalogd.
package schedules

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/flowforge/catalog/internal/cli"
	"github.com/flowforge/catalog/pkg/catalog/model"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

// NewCommand builds the `schedules` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Inspect and toggle cron schedules",
	}
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newEnableCommand(true))
	cmd.AddCommand(newEnableCommand(false))
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <schedule-id>",
		Short: "Show a single schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched model.Schedule
			if err := cli.Request("GET", "/v1/schedules/"+args[0], nil, &sched); err != nil {
				return err
			}
			printSchedule(&sched)
			return nil
		},
	}
}

func newEnableCommand(enable bool) *cobra.Command {
	verb := "disable"
	if enable {
		verb = "enable"
	}
	return &cobra.Command{
		Use:   verb + " <schedule-id>",
		Short: fmt.Sprintf("%s a schedule", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched model.Schedule
			if err := cli.Request("POST", "/v1/schedules/"+args[0]+"/"+verb, nil, &sched); err != nil {
				return err
			}
			printSchedule(&sched)
			return nil
		},
	}
}

func printSchedule(sched *model.Schedule) {
	header := "FIELD"
	if term.IsTerminal(int(os.Stdout.Fd())) {
		header = headerStyle.Render(header)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header+"\tVALUE")
	fmt.Fprintf(tw, "id\t%s\n", sched.ID)
	fmt.Fprintf(tw, "workflow\t%s\n", sched.WorkflowDefinitionID)
	fmt.Fprintf(tw, "cron\t%s\n", sched.Cron)
	fmt.Fprintf(tw, "timezone\t%s\n", sched.Timezone)
	fmt.Fprintf(tw, "active\t%v\n", sched.IsActive)
	if sched.NextRunAt != nil {
		fmt.Fprintf(tw, "nextRunAt\t%s\n", sched.NextRunAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	tw.Flush()
}
