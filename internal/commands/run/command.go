// Package run implements catalogctl's `run` subcommand: triggering a
// manual workflow run against a running catalogd.
package run

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowforge/catalog/internal/cli"
	"github.com/flowforge/catalog/pkg/catalog/model"
)

// NewCommand builds the `run` command.
func NewCommand() *cobra.Command {
	var (
		parametersJSON string
		partitionKey   string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow-slug>",
		Short: "Trigger a manual workflow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"workflow": args[0]}
			if parametersJSON != "" {
				var params map[string]interface{}
				if err := json.Unmarshal([]byte(parametersJSON), &params); err != nil {
					return fmt.Errorf("invalid --parameters JSON: %w", err)
				}
				req["parameters"] = params
			}
			if partitionKey != "" {
				req["partitionKey"] = partitionKey
			}

			var run model.WorkflowRun
			if err := cli.Request("POST", "/v1/runs", req, &run); err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "run %s created (status: %s)\n", run.ID, run.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&parametersJSON, "parameters", "", "JSON-encoded run parameters")
	cmd.Flags().StringVar(&partitionKey, "partition-key", "", "Partition key for the run")
	return cmd
}
