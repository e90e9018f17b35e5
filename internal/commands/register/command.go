// Package register implements catalogctl's `register job`/`register
// workflow` subcommands: loading a YAML definition, validating its DAG
// client-side, and publishing it to a running catalogd.
package register

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/flowforge/catalog/internal/cli"
	"github.com/flowforge/catalog/pkg/catalog/dag"
	"github.com/flowforge/catalog/pkg/catalog/model"
)

var successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)

// NewCommand builds the `register` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a job or workflow definition",
	}
	cmd.AddCommand(newJobCommand())
	cmd.AddCommand(newWorkflowCommand())
	return cmd
}

func newJobCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "job <file.yaml>",
		Short: "Register a job definition from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := model.LoadJobDefinitionYAML(args[0])
			if err != nil {
				return fmt.Errorf("load job definition: %w", err)
			}

			var stored model.JobDefinition
			if err := cli.Request("PUT", "/v1/jobs/"+def.Slug, def, &stored); err != nil {
				return err
			}

			fmt.Fprintln(os.Stdout, successStyle.Render(fmt.Sprintf("registered job %q (version %d)", stored.Slug, stored.Version)))
			return nil
		},
	}
}

func newWorkflowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "workflow <file.yaml>",
		Short: "Register a workflow definition from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := model.LoadWorkflowDefinitionYAML(args[0])
			if err != nil {
				return fmt.Errorf("load workflow definition: %w", err)
			}

			built, err := dag.Build(def.Steps)
			if err != nil {
				return fmt.Errorf("invalid workflow DAG: %w", err)
			}
			def.DAG = built

			var stored model.WorkflowDefinition
			if err := cli.Request("PUT", "/v1/workflows/"+def.Slug, def, &stored); err != nil {
				return err
			}

			fmt.Fprintln(os.Stdout, successStyle.Render(fmt.Sprintf("registered workflow %q (%d steps)", stored.Slug, len(stored.Steps))))
			return nil
		},
	}
}
