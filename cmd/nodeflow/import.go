package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/importer"
	"github.com/rendis/nodeflow/internal/validation"
)

func newImportCmd(opts *cliOptions) *cobra.Command {
	var (
		userID string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Create or replace a workflow from a YAML or JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc []byte
			var err error
			if args[0] == "-" {
				doc, err = io.ReadAll(cmd.InOrStdin())
			} else {
				doc, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := validation.NewGraphValidator()
			if err != nil {
				return err
			}
			res, err := importer.New(a.store, v, a.logger).Import(cmd.Context(), doc, importer.Options{
				UserID: userID,
				DryRun: dryRun,
			})
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", w.Path, w.Message)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner of the workflow (overrides workflow.user_id)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate without writing")
	return cmd
}

func newExportCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <workflow-id>",
		Short: "Print a workflow as a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := validation.NewGraphValidator()
			if err != nil {
				return err
			}
			doc, err := importer.New(a.store, v, a.logger).Export(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(doc)
			return err
		},
	}
}
