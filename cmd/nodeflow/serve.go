package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/api"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *cliOptions) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve webhooks and realtime status, and execute queued runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if listenAddr != "" {
				a.cfg.ListenAddr = listenAddr
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (default from config)")
	return cmd
}

// serve runs the API server, the dispatcher and the scheduler until SIGINT
// or SIGTERM, then drains runs in flight.
func serve(parent context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := a.logger

	srv := &http.Server{
		Addr: a.cfg.ListenAddr,
		Handler: api.NewServer(api.Deps{
			Store:    a.store,
			Queue:    a.queue,
			Hub:      a.hub,
			Metrics:  a.metrics,
			Gatherer: a.registry,
			Logger:   logger,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	dispatcher := engine.NewDispatcher(a.queue, a.orchestrator, engine.DispatcherConfig{
		Concurrency: a.cfg.PoolSize,
		Logger:      logger,
		Metrics:     a.metrics,
	})

	sched := scheduler.NewScheduler(a.store, a.queue, logger, scheduler.WithInterval(a.cfg.SchedulerInterval))
	if err := sched.RecoverMissed(ctx); err != nil {
		logger.Warn("missed job recovery failed", "error", err)
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- dispatcher.Run(ctx)
	}()
	go func() {
		logger.Info("nodeflow listening", "addr", a.cfg.ListenAddr,
			"queue", a.cfg.QueueBackend, "status", a.cfg.StatusBackend, "pool_size", a.cfg.PoolSize)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop()
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	_ = sched.Stop()
	dispatcher.Shutdown()
	logger.Info("stopped", "runs_completed", dispatcher.Runs().Completed)
	return runErr
}
