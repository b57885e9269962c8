package main

import (
	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/scheduler"
)

func newScheduleCmd(opts *cliOptions) *cobra.Command {
	var (
		cronExpr string
		data     string
	)

	cmd := &cobra.Command{
		Use:   "schedule <workflow-id>",
		Short: "Run a workflow on a cron schedule (fired by nodeflow serve)",
		Args:  cobra.ExactArgs(1),
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

			sched := scheduler.NewScheduler(a.store, a.queue, a.logger)
			job, err := sched.Schedule(cmd.Context(), args[0], cronExpr, initial)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&cronExpr, "cron", "", `cron expression, e.g. "*/15 * * * *"`)
	cmd.Flags().StringVar(&data, "data", "", "initial data as a JSON object, or @file / @- for stdin")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}
