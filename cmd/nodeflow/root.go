package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// cliOptions are the persistent flags shared by every command.
type cliOptions struct {
	dbPath   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "nodeflow",
		Short: "nodeflow runs workflow graphs of trigger and action nodes",
		Long: `nodeflow executes directed graphs of nodes. A run starts from a trigger
payload, threads a shared context through the nodes in dependency order and
lets each node add its result.

Examples:
  # Import a workflow and run it
  nodeflow import signup.yaml --user user-1
  nodeflow run <workflow-id> --data '{"email":"ada@example.com"}'

  # Serve webhooks, the realtime status stream and the scheduler
  nodeflow serve

  # Draw a workflow
  nodeflow diagram <workflow-id> --format mermaid`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "database path (default: ~/.nodeflow/nodeflow.db)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newImportCmd(opts),
		newExportCmd(opts),
		newCredentialCmd(opts),
		newScheduleCmd(opts),
		newMCPCmd(opts),
		newDiagramCmd(opts),
		newInitCmd(),
		newVersionCmd(),
	)
	return root
}

// config loads the layered configuration and applies the persistent flags.
func (o *cliOptions) config() (Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, err
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// open loads the configuration and wires the app for cmd.
func (o *cliOptions) open(cmd *cobra.Command) (*app, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
}

// parseData decodes a JSON object given inline or, with a leading '@', read
// from a file ("-" for stdin).
func parseData(raw string, stdin io.Reader) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	data := []byte(raw)
	if raw[0] == '@' {
		var err error
		if raw == "@-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(raw[1:])
		}
		if err != nil {
			return nil, err
		}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("data must be a JSON object: %w", err)
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
