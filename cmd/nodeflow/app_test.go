package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/importer"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/pkg/schema"
)

// --- Test harness ---

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := defaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "nodeflow.db")
	cfg.HTTPTimeout = 5 * time.Second

	a, err := newApp(context.Background(), cfg, io.Discard)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func importDoc(t *testing.T, a *app, doc string) string {
	t.Helper()
	v, err := validation.NewGraphValidator()
	require.NoError(t, err)
	res, err := importer.New(a.store, v, a.logger).Import(context.Background(), []byte(doc), importer.Options{})
	require.NoError(t, err)
	return res.Workflow.ID
}

const pipelineYAML = `
workflow:
  name: signup pipeline
  user_id: user-1
nodes:
  - id: start
    type: MANUAL_TRIGGER
  - id: fetch
    type: HTTP_REQUEST
    config:
      endpoint: "%s/users/{{userId}}"
      variableName: user
  - id: notify
    type: SLACK
    config:
      webhookUrl: "%s"
      content: "New user {{user.httpResponse.data.name}}"
      variableName: slack
connections:
  - from: start
    to: fetch
  - from: fetch
    to: notify
`

func TestApp_RunPipeline(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Ada"}`))
	}))
	defer api.Close()

	var posted atomic.Int32
	var lastContent atomic.Value
	slack := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		lastContent.Store(body["content"])
		posted.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer slack.Close()

	a := newTestApp(t)
	wfID := importDoc(t, a, fmt.Sprintf(pipelineYAML, api.URL, slack.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	board := streaming.NewStatusBoard()
	require.NoError(t, board.Follow(ctx, a.hub))

	event := schema.TriggerEvent{
		ID:   "evt-pipeline",
		Name: schema.EventExecuteWorkflow,
		Data: schema.TriggerData{WorkflowID: wfID, InitialData: map[string]any{"userId": "42"}},
	}
	out, err := a.orchestrator.Execute(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, wfID, out.WorkflowID)

	result := out.Result.Map()
	assert.Equal(t, "42", result["userId"])
	slackResult, ok := out.Result.Get("slack")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"messageContent": "New user Ada"}, slackResult)
	assert.Equal(t, "New user Ada", lastContent.Load())

	assert.Eventually(t, func() bool {
		snap := board.Snapshot("fetch", "notify")
		return snap["fetch"] == schema.NodeStatusSuccess && snap["notify"] == schema.NodeStatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	// Redelivering the event returns the recorded run without side effects.
	again, err := a.orchestrator.Execute(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, out.ExecutionID, again.ExecutionID)
	assert.Equal(t, int32(1), posted.Load())

	exec, err := a.store.GetExecutionByEventID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusSuccess, exec.Status)
}

func TestApp_RunFailureMarksNode(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer api.Close()

	a := newTestApp(t)
	wfID := importDoc(t, a, fmt.Sprintf(pipelineYAML, api.URL, "http://127.0.0.1:1/unused"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	board := streaming.NewStatusBoard()
	require.NoError(t, board.Follow(ctx, a.hub))

	_, err := a.orchestrator.Execute(ctx, schema.TriggerEvent{
		ID:   "evt-failing",
		Name: schema.EventExecuteWorkflow,
		Data: schema.TriggerData{WorkflowID: wfID, InitialData: map[string]any{"userId": "42"}},
	})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExternalCall))

	assert.Eventually(t, func() bool {
		return board.Snapshot("fetch")["fetch"] == schema.NodeStatusError
	}, 2*time.Second, 10*time.Millisecond)
	_, notified := board.Snapshot("notify")["notify"]
	assert.False(t, notified, "downstream node never starts")
}

func TestApp_VaultLockedWithoutKey(t *testing.T) {
	a := newTestApp(t)
	_, err := a.requireVault()
	assert.True(t, schema.HasCode(err, schema.ErrCodeVault))

	_, err = a.credentials().Resolve(context.Background(), "cred-1", "user-1")
	assert.True(t, schema.HasCode(err, schema.ErrCodeVault))
}

func TestApp_VaultStoresCredentials(t *testing.T) {
	cfg := defaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "nodeflow.db")
	cfg.VaultPassphrase = "correct horse"
	cfg.VaultSalt = "0123456789abcdef"

	a, err := newApp(context.Background(), cfg, io.Discard)
	require.NoError(t, err)
	defer a.Close()

	vault, err := a.requireVault()
	require.NoError(t, err)

	ctx := context.Background()
	cred := &store.Credential{ID: "cred-1", UserID: "user-1", Name: "gemini", Type: schema.CredentialTypeGemini}
	require.NoError(t, vault.Store(ctx, cred, "sk-secret"))

	got, err := a.credentials().Resolve(ctx, "cred-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", got)
}
