package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/pkg/schema"
)

func newDiagramCmd(opts *cliOptions) *cobra.Command {
	var (
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "diagram <workflow-id>",
		Short: "Draw a workflow as mermaid, ascii, png or svg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			g, err := a.store.LoadGraph(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			model, err := diagram.Build(g, nil)
			if err != nil {
				return err
			}

			format = strings.ToLower(format)
			var body []byte
			switch format {
			case "mermaid":
				body = []byte(diagram.RenderMermaid(model))
			case "ascii":
				body = []byte(diagram.RenderASCII(model))
			case "png", "svg":
				if out == "" && format == "png" {
					return schema.NewError(schema.ErrCodeValidation, "--out is required for png output")
				}
				body, err = diagram.RenderImage(cmd.Context(), model, diagram.ImageFormat(format))
				if err != nil {
					return err
				}
			default:
				return schema.NewErrorf(schema.ErrCodeValidation, "unknown format %q (mermaid, ascii, png, svg)", format)
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			if err := os.WriteFile(out, body, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "mermaid", "output format: mermaid, ascii, png, svg")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout for text formats)")
	return cmd
}
