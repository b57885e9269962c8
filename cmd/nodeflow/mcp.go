package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/streaming"
	nfmcp "github.com/rendis/nodeflow/pkg/mcp"
)

func newMCPCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the nodeflow tools to an MCP client over stdio",
		Long: `Serve nodeflow.execute, nodeflow.status, nodeflow.query and nodeflow.diagram
over stdio. Logs go to stderr.

With the memory queue backend, asynchronous runs are executed in this
process. With the redis backend they are left to a running nodeflow serve.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			board := streaming.NewStatusBoard()
			if err := board.Follow(ctx, a.hub); err != nil {
				return err
			}

			if a.cfg.QueueBackend != backendRedis {
				dispatcher := engine.NewDispatcher(a.queue, a.orchestrator, engine.DispatcherConfig{
					Concurrency: a.cfg.PoolSize,
					Logger:      a.logger,
					Metrics:     a.metrics,
				})
				go func() {
					if err := dispatcher.Run(ctx); err != nil {
						a.logger.Error("dispatcher stopped", "error", err)
					}
				}()
				defer dispatcher.Shutdown()
			}

			srv := nfmcp.NewNodeflowServer(nfmcp.ServerDeps{
				Runner: a.orchestrator,
				Queue:  a.queue,
				Store:  a.store,
				Hub:    a.hub,
				Board:  board,
				Logger: a.logger,
			})
			return srv.Serve(ctx)
		},
	}
}
