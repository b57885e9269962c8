package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/metrics"
	"github.com/rendis/nodeflow/internal/queue"
	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultPoolSize is the default number of concurrent runs.
const DefaultPoolSize = 10

// Runner executes one trigger event. Satisfied by *Orchestrator.
type Runner interface {
	Execute(ctx context.Context, event schema.TriggerEvent) (*RunOutput, error)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Concurrency bounds the runs in flight. Defaults to DefaultPoolSize.
	Concurrency int
	// Backoff spaces out retries of failed dequeues. Defaults to DefaultBackoff.
	Backoff *Backoff
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Dispatcher consumes trigger events from a queue and hands each
// workflows/execute.workflow event to the runner on its RunPool. An event
// is delivered once: a failed run is recorded FAILED and not redelivered.
type Dispatcher struct {
	queue   queue.Queue
	runner  Runner
	pool    *RunPool
	backoff Backoff
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher reading from q.
func NewDispatcher(q queue.Queue, runner Runner, cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		queue:   q,
		runner:  runner,
		backoff: DefaultBackoff,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if cfg.Backoff != nil {
		d.backoff = *cfg.Backoff
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	size := cfg.Concurrency
	if size <= 0 {
		size = DefaultPoolSize
	}
	d.pool = NewRunPool(size, func(eventID string, err error) {
		if err != nil {
			d.metrics.EventDispatched("failed")
			d.logger.Warn("dispatched run failed", "event_id", eventID, "error", err, "code", schema.ErrorCode(err))
		}
	})
	return d
}

// Run consumes events until ctx is done or the queue is closed. Runs in
// flight keep going; call Shutdown to wait for them.
func (d *Dispatcher) Run(ctx context.Context) error {
	failures := 0
	for {
		event, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			delay := d.backoff.Delay(failures)
			failures++
			d.logger.ErrorContext(ctx, "dequeue failed", "error", err, "retry_in", delay)
			if err := WaitForBackoff(ctx, delay); err != nil {
				return nil
			}
			continue
		}
		failures = 0

		if event.Name != schema.EventExecuteWorkflow {
			d.metrics.EventDispatched("ignored")
			d.logger.DebugContext(ctx, "ignoring event", "event_id", event.ID, "event", event.Name)
			continue
		}

		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		err = d.pool.Start(ctx, event.ID, func(runCtx context.Context) error {
			_, err := d.runner.Execute(runCtx, event)
			return err
		})
		if errors.Is(err, ErrRunInFlight) {
			d.metrics.EventDispatched("duplicate")
			d.logger.WarnContext(ctx, "event already running", "event_id", event.ID)
			continue
		}
		if err != nil {
			// The event was dequeued but never started.
			d.metrics.EventDispatched("dropped")
			d.logger.ErrorContext(ctx, "event dropped", "event_id", event.ID, "error", err)
			if ctx.Err() != nil || errors.Is(err, ErrPoolShutdown) {
				return nil
			}
			continue
		}
		d.metrics.EventDispatched("accepted")
	}
}

// Shutdown stops accepting events and waits for runs in flight.
func (d *Dispatcher) Shutdown() {
	d.pool.Shutdown()
}

// Wait blocks until every accepted run has finished.
func (d *Dispatcher) Wait() {
	d.pool.Wait()
}

// Runs returns the run counters.
func (d *Dispatcher) Runs() RunStats {
	return d.pool.Stats()
}
