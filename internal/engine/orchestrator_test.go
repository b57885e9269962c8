package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/metrics"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

type fixture struct {
	store     *store.LibSQLStore
	publisher *recordingPublisher
	orch      *Orchestrator
	hits      *atomic.Int32
	server    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/slow" {
			time.Sleep(300 * time.Millisecond)
		}
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1,"path":"` + r.URL.Path + `"}`))
	}))
	t.Cleanup(srv.Close)

	s := newTestStore(t)
	registry, err := nodes.NewDefaultRegistry(nodes.Deps{Credentials: noCredentials{}})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	orch, err := NewOrchestrator(s, registry, pub, ExecutorConfig{},
		WithMetrics(metrics.New(prometheus.NewRegistry())))
	require.NoError(t, err)

	return &fixture{store: s, publisher: pub, orch: orch, hits: hits, server: srv}
}

func trigger(id string) schema.Node {
	return schema.Node{ID: id, Type: schema.NodeTypeInitial}
}

func httpNode(id, endpoint, variable string) schema.Node {
	cfg := map[string]any{"endpoint": endpoint, "method": "GET"}
	if variable != "" {
		cfg["variableName"] = variable
	}
	return schema.Node{ID: id, Type: schema.NodeTypeHTTPRequest, Config: cfg}
}

func executeEvent(id, workflowID string, initial map[string]any) schema.TriggerEvent {
	return schema.TriggerEvent{
		ID:   id,
		Name: schema.EventExecuteWorkflow,
		Data: schema.TriggerData{WorkflowID: workflowID, InitialData: initial},
	}
}

func asJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestOrchestrator_TriggerThenHTTP(t *testing.T) {
	f := newFixture(t)
	wf := seedGraph(t, f.store,
		[]schema.Node{httpNode("h", f.server.URL+"/users/{{user}}", "api"), trigger("t")},
		[2]string{"t", "h"},
	)
	ctx := context.Background()

	out, err := f.orch.Execute(ctx, executeEvent("evt-1", wf.ID, map[string]any{"user": "ann"}))
	require.NoError(t, err)
	assert.Equal(t, wf.ID, out.WorkflowID)
	assert.JSONEq(t, `{
		"user": "ann",
		"api": {"httpResponse": {"status": 200, "statusText": "OK", "data": {"id": 1, "path": "/users/ann"}}}
	}`, asJSON(t, out.Result))

	assert.Equal(t, []schema.NodeStatus{schema.NodeStatusLoading, schema.NodeStatusSuccess}, f.publisher.statuses("t"))
	assert.Equal(t, []schema.NodeStatus{schema.NodeStatusLoading, schema.NodeStatusSuccess}, f.publisher.statuses("h"))
	assert.Equal(t, "t", f.publisher.events[0].NodeID, "trigger runs first")

	exec, err := f.store.GetExecution(ctx, out.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusSuccess, exec.Status)
	assert.Equal(t, "evt-1", exec.EventID)
	require.NotNil(t, exec.CompletedAt)
	assert.JSONEq(t, asJSON(t, out.Result), string(exec.Output))
}

func TestOrchestrator_CallerDeadlineDoesNotAbortRun(t *testing.T) {
	f := newFixture(t)
	wf := seedGraph(t, f.store,
		[]schema.Node{trigger("t"), httpNode("h", f.server.URL+"/slow", "api")},
		[2]string{"t", "h"},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := f.orch.Execute(ctx, executeEvent("evt-slow", wf.ID, nil))
	require.NoError(t, err)
	assert.Error(t, ctx.Err(), "deadline passed while the run was in flight")

	exec, err := f.store.GetExecution(context.Background(), out.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusSuccess, exec.Status)
	assert.Equal(t, []schema.NodeStatus{schema.NodeStatusLoading, schema.NodeStatusSuccess}, f.publisher.statuses("h"))
}

func TestOrchestrator_CancelledCallerStillCompletes(t *testing.T) {
	f := newFixture(t)
	wf := seedGraph(t, f.store, []schema.Node{trigger("t"), httpNode("h", f.server.URL+"/ok", "api")},
		[2]string{"t", "h"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := f.orch.Execute(ctx, executeEvent("evt-cancelled", wf.ID, nil))
	require.NoError(t, err)
	_, ok := out.Result.Get("api")
	assert.True(t, ok)
}

func TestOrchestrator_ChainedRequestsSeePriorResults(t *testing.T) {
	f := newFixture(t)
	wf := seedGraph(t, f.store,
		[]schema.Node{
			trigger("t"),
			httpNode("first", f.server.URL+"/a", "first"),
			httpNode("second", f.server.URL+"/from/{{first.httpResponse.data.path}}", "second"),
		},
		[2]string{"t", "first"}, [2]string{"first", "second"},
	)

	out, err := f.orch.Execute(context.Background(), executeEvent("evt-1", wf.ID, nil))
	require.NoError(t, err)

	second, ok := out.Result.Get("second")
	require.True(t, ok)
	data := second.(map[string]any)["httpResponse"].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "/from//a", data["path"])
	assert.Equal(t, int32(2), f.hits.Load())
}

func TestOrchestrator_ValidationFailureStopsRun(t *testing.T) {
	f := newFixture(t)
	wf := seedGraph(t, f.store,
		[]schema.Node{trigger("t"), httpNode("h", f.server.URL, ""), httpNode("after", f.server.URL, "after")},
		[2]string{"t", "h"}, [2]string{"h", "after"},
	)
	ctx := context.Background()

	_, err := f.orch.Execute(ctx, executeEvent("evt-1", wf.ID, nil))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "h", fe.NodeID)

	assert.Equal(t, []schema.NodeStatus{schema.NodeStatusLoading, schema.NodeStatusError}, f.publisher.statuses("h"))
	assert.Empty(t, f.publisher.statuses("after"))
	assert.Equal(t, int32(0), f.hits.Load())

	exec, err := f.store.GetExecutionByEventID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.Error, "variableName")
	assert.NotEmpty(t, exec.ErrorStack)
}

func TestOrchestrator_UpstreamErrorFailsRun(t *testing.T) {
	f := newFixture(t)
	wf := seedGraph(t, f.store, []schema.Node{httpNode("h", f.server.URL+"/fail", "api")})

	_, err := f.orch.Execute(context.Background(), executeEvent("evt-1", wf.ID, nil))
	assert.True(t, schema.HasCode(err, schema.ErrCodeExternalCall))
	assert.Equal(t, []schema.NodeStatus{schema.NodeStatusLoading, schema.NodeStatusError}, f.publisher.statuses("h"))
}

func TestOrchestrator_CycleRunsNothing(t *testing.T) {
	f := newFixture(t)
	wf := seedGraph(t, f.store,
		[]schema.Node{httpNode("a", f.server.URL, "a"), httpNode("b", f.server.URL, "b")},
		[2]string{"a", "b"}, [2]string{"b", "a"},
	)
	ctx := context.Background()

	_, err := f.orch.Execute(ctx, executeEvent("evt-1", wf.ID, nil))
	assert.True(t, schema.HasCode(err, schema.ErrCodeCycleDetected))
	assert.Equal(t, 0, f.publisher.count())
	assert.Equal(t, int32(0), f.hits.Load())

	exec, err := f.store.GetExecutionByEventID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusFailed, exec.Status)
}

func TestOrchestrator_UnknownNodeType(t *testing.T) {
	s := newTestStore(t)
	registry := nodes.NewRegistry()
	require.NoError(t, registry.Register(nodes.NewTriggerExecutor(schema.NodeTypeInitial)))
	orch, err := NewOrchestrator(s, registry, nil, ExecutorConfig{})
	require.NoError(t, err)

	wf := seedGraph(t, s,
		[]schema.Node{trigger("t"), {ID: "x", Type: schema.NodeTypeSlack}},
		[2]string{"t", "x"},
	)

	_, err = orch.Execute(context.Background(), executeEvent("evt-1", wf.ID, nil))
	assert.True(t, schema.HasCode(err, schema.ErrCodeUnknownNodeType))
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "x", fe.NodeID)
}

func TestOrchestrator_RedeliveryOfCompletedRun(t *testing.T) {
	f := newFixture(t)
	wf := seedGraph(t, f.store, []schema.Node{httpNode("h", f.server.URL, "api")})
	ctx := context.Background()

	first, err := f.orch.Execute(ctx, executeEvent("evt-1", wf.ID, nil))
	require.NoError(t, err)
	second, err := f.orch.Execute(ctx, executeEvent("evt-1", wf.ID, nil))
	require.NoError(t, err)

	assert.Equal(t, first.ExecutionID, second.ExecutionID)
	assert.JSONEq(t, asJSON(t, first.Result), asJSON(t, second.Result))
	assert.Equal(t, int32(1), f.hits.Load())

	execs, err := f.store.ListExecutions(ctx, store.ExecutionFilter{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

func TestOrchestrator_RedeliveryOfFailedRun(t *testing.T) {
	f := newFixture(t)
	wf := seedGraph(t, f.store, []schema.Node{httpNode("h", f.server.URL+"/fail", "api")})
	ctx := context.Background()

	_, err := f.orch.Execute(ctx, executeEvent("evt-1", wf.ID, nil))
	require.Error(t, err)
	_, err = f.orch.Execute(ctx, executeEvent("evt-1", wf.ID, nil))
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
	assert.Equal(t, int32(1), f.hits.Load())
}

func TestOrchestrator_ResumeReplaysRecordedSteps(t *testing.T) {
	f := newFixture(t)
	wf := seedGraph(t, f.store,
		[]schema.Node{trigger("t"), httpNode("h", f.server.URL, "api")},
		[2]string{"t", "h"},
	)
	ctx := context.Background()

	// A previous delivery completed the request, then stopped before the run
	// was recorded.
	exec := seedExecution(t, f.store, wf.ID, "evt-1")
	recorded := `{"api":{"httpResponse":{"status":200,"statusText":"OK","data":{"cached":true}}}}`
	_, err := f.store.RecordStep(ctx, &store.StepRecord{RunID: exec.ID, Name: "http-request", Output: []byte(recorded)})
	require.NoError(t, err)

	out, err := f.orch.Execute(ctx, executeEvent("evt-1", wf.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, exec.ID, out.ExecutionID)
	assert.JSONEq(t, recorded, asJSON(t, out.Result))
	assert.Equal(t, int32(0), f.hits.Load())

	steps, err := f.store.ListSteps(ctx, exec.ID)
	require.NoError(t, err)
	var names []string
	for _, s := range steps {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"http-request", "prepare-workflow", "initial-trigger"}, names)
}

func TestOrchestrator_EventValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Execute(ctx, schema.TriggerEvent{Name: schema.EventExecuteWorkflow})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = f.orch.Execute(ctx, schema.TriggerEvent{Name: "other/event", Data: schema.TriggerData{WorkflowID: "wf"}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = f.orch.Execute(ctx, executeEvent("", "missing-workflow", nil))
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestOrchestrator_GeneratesEventID(t *testing.T) {
	f := newFixture(t)
	wf := seedGraph(t, f.store, []schema.Node{trigger("t")})

	a, err := f.orch.Execute(context.Background(), executeEvent("", wf.ID, nil))
	require.NoError(t, err)
	b, err := f.orch.Execute(context.Background(), executeEvent("", wf.ID, nil))
	require.NoError(t, err)
	assert.NotEqual(t, a.ExecutionID, b.ExecutionID)
}

func TestOrchestrator_EventReusedForAnotherWorkflow(t *testing.T) {
	f := newFixture(t)
	wf1 := seedGraph(t, f.store, []schema.Node{trigger("t")})
	wf2 := seedGraph(t, f.store, []schema.Node{trigger("t")})
	ctx := context.Background()

	_, err := f.orch.Execute(ctx, executeEvent("evt-1", wf1.ID, nil))
	require.NoError(t, err)
	_, err = f.orch.Execute(ctx, executeEvent("evt-1", wf2.ID, nil))
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
}

func TestOrchestrator_EmptyWorkflow(t *testing.T) {
	f := newFixture(t)
	wf := seedGraph(t, f.store, nil)

	out, err := f.orch.Execute(context.Background(), executeEvent("evt-1", wf.ID, map[string]any{"k": "v"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, asJSON(t, out.Result))
}

func TestNewOrchestrator_RejectsParallelLevels(t *testing.T) {
	_, err := NewOrchestrator(newTestStore(t), nodes.NewRegistry(), nil, ExecutorConfig{ParallelLevels: true})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}
