package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/queue"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// mockJobStore keeps jobs in memory.
type mockJobStore struct {
	mu        sync.Mutex
	jobs      map[string]*store.ScheduledJob
	workflows map[string]bool
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{jobs: make(map[string]*store.ScheduledJob), workflows: map[string]bool{"wf-1": true}}
}

func (m *mockJobStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	if !m.workflows[id] {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return &schema.Workflow{ID: id}, nil
}

func (m *mockJobStore) CreateScheduledJob(_ context.Context, job *store.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockJobStore) UpdateScheduledJob(_ context.Context, id string, update store.ScheduledJobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", id)
	}
	if update.Enabled != nil {
		j.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		j.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		j.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		j.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (m *mockJobStore) ListScheduledJobs(_ context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.ScheduledJob
	for _, j := range m.jobs {
		if filter.Enabled != nil && j.Enabled != *filter.Enabled {
			continue
		}
		if filter.WorkflowID != "" && j.WorkflowID != filter.WorkflowID {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockJobStore) get(id string) store.ScheduledJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, schema.TriggerEvent) error {
	return errors.New("queue unavailable")
}

func newTestScheduler(s JobStore, q Enqueuer, opts ...Option) *Scheduler {
	return NewScheduler(s, q, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func past(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(-d)
	return &t
}

func future(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(d)
	return &t
}

func drain(t *testing.T, q *queue.MemoryQueue) []schema.TriggerEvent {
	t.Helper()
	var out []schema.TriggerEvent
	for q.Len() > 0 {
		ev, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestCalculateNextRun(t *testing.T) {
	s := newTestScheduler(newMockJobStore(), queue.NewMemoryQueue(1))
	from := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 * * * *", time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 1, 15, 10, 45, 0, 0, time.UTC)},
		{"0 9 * * 1", time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := s.CalculateNextRun(tt.expr, from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := s.CalculateNextRun("not a cron", from)
	assert.Error(t, err)
}

func TestSchedule(t *testing.T) {
	ms := newMockJobStore()
	s := newTestScheduler(ms, queue.NewMemoryQueue(1))
	ctx := context.Background()

	job, err := s.Schedule(ctx, "wf-1", "*/5 * * * *", map[string]any{"source": "cron"})
	require.NoError(t, err)
	stored := ms.get(job.ID)
	assert.True(t, stored.Enabled)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.After(time.Now().UTC()))
	assert.JSONEq(t, `{"source":"cron"}`, string(stored.InitialData))

	_, err = s.Schedule(ctx, "wf-1", "every tuesday", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = s.Schedule(ctx, "missing", "* * * * *", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestTickEnqueuesDueJobs(t *testing.T) {
	ms := newMockJobStore()
	q := queue.NewMemoryQueue(8)
	s := newTestScheduler(ms, q)
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, &store.ScheduledJob{
		ID:             "job-1",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		InitialData:    json.RawMessage(`{"env":"prod"}`),
		Enabled:        true,
		NextRunAt:      past(time.Minute),
	}))

	s.tick(ctx)

	events := drain(t, q)
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventExecuteWorkflow, events[0].Name)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, "wf-1", events[0].Data.WorkflowID)
	assert.Equal(t, "prod", events[0].Data.InitialData["env"])

	job := ms.get("job-1")
	assert.Equal(t, StatusEnqueued, job.LastRunStatus)
	require.NotNil(t, job.LastRunAt)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(*job.LastRunAt))
}

func TestTickSkipsNotDueAndDisabledJobs(t *testing.T) {
	ms := newMockJobStore()
	q := queue.NewMemoryQueue(8)
	s := newTestScheduler(ms, q)
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, &store.ScheduledJob{
		ID: "later", WorkflowID: "wf-1", CronExpression: "0 * * * *", Enabled: true, NextRunAt: future(time.Hour),
	}))
	require.NoError(t, ms.CreateScheduledJob(ctx, &store.ScheduledJob{
		ID: "off", WorkflowID: "wf-1", CronExpression: "0 * * * *", Enabled: false, NextRunAt: past(time.Hour),
	}))

	s.tick(ctx)
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, ms.get("later").LastRunStatus)
	assert.Empty(t, ms.get("off").LastRunStatus)
}

func TestTickWithNilNextRunAt(t *testing.T) {
	ms := newMockJobStore()
	q := queue.NewMemoryQueue(8)
	s := newTestScheduler(ms, q)
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, &store.ScheduledJob{
		ID: "fresh", WorkflowID: "wf-1", CronExpression: "0 * * * *", Enabled: true,
	}))

	s.tick(ctx)
	assert.Equal(t, 1, q.Len())
	assert.NotNil(t, ms.get("fresh").NextRunAt)
}

func TestEnqueueFailureIsRecorded(t *testing.T) {
	ms := newMockJobStore()
	s := newTestScheduler(ms, failingQueue{})
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, &store.ScheduledJob{
		ID: "job-1", WorkflowID: "wf-1", CronExpression: "0 * * * *", Enabled: true, NextRunAt: past(time.Minute),
	}))

	s.tick(ctx)
	job := ms.get("job-1")
	assert.Equal(t, StatusError, job.LastRunStatus)
	assert.True(t, job.NextRunAt.After(time.Now().UTC()), "a failed job still advances")
}

func TestInvalidInitialData(t *testing.T) {
	ms := newMockJobStore()
	q := queue.NewMemoryQueue(8)
	s := newTestScheduler(ms, q)
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, &store.ScheduledJob{
		ID: "job-1", WorkflowID: "wf-1", CronExpression: "0 * * * *", Enabled: true,
		InitialData: json.RawMessage(`[1,2]`), NextRunAt: past(time.Minute),
	}))

	s.tick(ctx)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, StatusError, ms.get("job-1").LastRunStatus)
}

func TestMissedRecovery(t *testing.T) {
	ms := newMockJobStore()
	q := queue.NewMemoryQueue(8)
	s := newTestScheduler(ms, q)
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, &store.ScheduledJob{
		ID: "missed", WorkflowID: "wf-1", CronExpression: "0 * * * *", Enabled: true, NextRunAt: past(3 * time.Hour),
	}))
	require.NoError(t, ms.CreateScheduledJob(ctx, &store.ScheduledJob{
		ID: "never-ran", WorkflowID: "wf-1", CronExpression: "0 * * * *", Enabled: true,
	}))

	require.NoError(t, s.RecoverMissed(ctx))

	// A missed job fires once, not once per missed slot.
	events := drain(t, q)
	require.Len(t, events, 1)
	assert.Equal(t, StatusEnqueued, ms.get("missed").LastRunStatus)
	assert.Empty(t, ms.get("never-ran").LastRunStatus)
}

func TestDedupPreventsDoubleFire(t *testing.T) {
	ms := newMockJobStore()
	q := queue.NewMemoryQueue(8)
	s := newTestScheduler(ms, q)
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, &store.ScheduledJob{
		ID: "job-1", WorkflowID: "wf-1", CronExpression: "0 * * * *", Enabled: true, NextRunAt: past(time.Minute),
	}))

	require.True(t, s.tryAcquire("job-1"))
	s.tick(ctx)
	assert.Equal(t, 0, q.Len())

	s.releaseJob("job-1")
	s.tick(ctx)
	assert.Equal(t, 1, q.Len())
}

func TestMultipleJobsSomeDue(t *testing.T) {
	ms := newMockJobStore()
	q := queue.NewMemoryQueue(8)
	s := newTestScheduler(ms, q)
	ctx := context.Background()

	for _, j := range []*store.ScheduledJob{
		{ID: "due-1", WorkflowID: "wf-1", CronExpression: "0 * * * *", Enabled: true, NextRunAt: past(time.Minute)},
		{ID: "not-due", WorkflowID: "wf-1", CronExpression: "0 * * * *", Enabled: true, NextRunAt: future(time.Hour)},
		{ID: "due-2", WorkflowID: "wf-1", CronExpression: "0 * * * *", Enabled: true, NextRunAt: past(2 * time.Minute)},
	} {
		require.NoError(t, ms.CreateScheduledJob(ctx, j))
	}

	s.tick(ctx)
	assert.Len(t, drain(t, q), 2)
	assert.Equal(t, StatusEnqueued, ms.get("due-1").LastRunStatus)
	assert.Equal(t, StatusEnqueued, ms.get("due-2").LastRunStatus)
	assert.Empty(t, ms.get("not-due").LastRunStatus)
}

func TestStartStop(t *testing.T) {
	ms := newMockJobStore()
	q := queue.NewMemoryQueue(8)
	s := newTestScheduler(ms, q, WithInterval(10*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, ms.CreateScheduledJob(ctx, &store.ScheduledJob{
		ID: "job-1", WorkflowID: "wf-1", CronExpression: "0 * * * *", Enabled: true, NextRunAt: past(time.Minute),
	}))

	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx), "second start is rejected")

	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}
