package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultInterval is how often the scheduler looks for due jobs.
const DefaultInterval = 60 * time.Second

// Job statuses recorded in LastRunStatus.
const (
	StatusEnqueued = "enqueued"
	StatusError    = "error"
)

// JobStore is the slice of store.Store the scheduler uses.
type JobStore interface {
	CreateScheduledJob(ctx context.Context, job *store.ScheduledJob) error
	UpdateScheduledJob(ctx context.Context, id string, update store.ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error)
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
}

// Enqueuer accepts trigger events. Satisfied by every queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, event schema.TriggerEvent) error
}

// Scheduler polls the store for due cron jobs and emits a
// workflows/execute.workflow event for each. Runs themselves happen in the
// Dispatcher.
type Scheduler struct {
	store    JobStore
	queue    Enqueuer
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently being fired (dedup)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s JobStore, q Enqueuer, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	sch := &Scheduler{
		store:    s,
		queue:    q,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		interval: DefaultInterval,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(sch)
	}
	return sch
}

// Schedule stores an enabled job running workflowID on cronExpr with the
// given initial data.
func (s *Scheduler) Schedule(ctx context.Context, workflowID, cronExpr string, initialData map[string]any) (*store.ScheduledJob, error) {
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	next, err := s.CalculateNextRun(cronExpr, s.now())
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	var data json.RawMessage
	if initialData != nil {
		if data, err = json.Marshal(initialData); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "initial data is not JSON-encodable: %v", err)
		}
	}

	job := &store.ScheduledJob{
		ID:             uuid.NewString(),
		WorkflowID:     workflowID,
		CronExpression: cronExpr,
		InitialData:    data,
		Enabled:        true,
		NextRunAt:      &next,
	}
	if err := s.store.CreateScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "job scheduled",
		slog.String("job_id", job.ID),
		slog.String("workflow_id", workflowID),
		slog.Time("next_run_at", next),
	)
	return job, nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every enabled job that is due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return
	}

	now := s.now()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue // already firing (dedup)
		}
		if err := s.fire(ctx, job, now); err != nil {
			s.logger.Error("failed to fire scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// fire enqueues the job's trigger event and advances its timestamps.
func (s *Scheduler) fire(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	var initial map[string]any
	if len(job.InitialData) > 0 {
		if err := json.Unmarshal(job.InitialData, &initial); err != nil {
			s.logger.Error("scheduled job has invalid initial data",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return s.updateJobStatus(ctx, job, now, StatusError)
		}
	}

	event := schema.TriggerEvent{
		ID:   uuid.NewString(),
		Name: schema.EventExecuteWorkflow,
		Data: schema.TriggerData{WorkflowID: job.WorkflowID, InitialData: initial},
	}
	status := StatusEnqueued
	if err := s.queue.Enqueue(ctx, event); err != nil {
		status = StatusError
		s.logger.Error("scheduled job enqueue failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("scheduled job fired",
			slog.String("job_id", job.ID),
			slog.String("workflow_id", job.WorkflowID),
			slog.String("event_id", event.ID),
		)
	}

	return s.updateJobStatus(ctx, job, now, status)
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledJob, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	return s.store.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the job as in-flight if it is not already firing.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed fires once every job whose next_run_at passed while the
// scheduler was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}

	now := s.now()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		err := s.fire(ctx, job, now)
		s.releaseJob(job.ID)
		if err != nil {
			s.logger.Error("failed to recover missed job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", recovered))
	}
	return nil
}
