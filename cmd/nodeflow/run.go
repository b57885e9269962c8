package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/pkg/schema"
)

func newRunCmd(opts *cliOptions) *cobra.Command {
	var (
		data    string
		eventID string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Execute a workflow in the foreground and print its output",
		Long: `Execute a workflow in the foreground and print {result, workflowId}.

Re-running with the --event-id of an earlier run resumes it: steps that
already succeeded are replayed from the step log instead of executed again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, err := parseData(data, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if eventID == "" {
				eventID = uuid.NewString()
			}
			out, err := a.orchestrator.Execute(cmd.Context(), schema.TriggerEvent{
				ID:   eventID,
				Name: schema.EventExecuteWorkflow,
				Data: schema.TriggerData{WorkflowID: args[0], InitialData: initial},
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "initial data as a JSON object, or @file / @- for stdin")
	cmd.Flags().StringVar(&eventID, "event-id", "", "trigger event ID (default: random)")
	return cmd
}
