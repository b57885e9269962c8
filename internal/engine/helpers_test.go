package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedGraph stores a workflow owned by user-1 with the given nodes, connected
// by pairs of node ids.
func seedGraph(t *testing.T, s *store.LibSQLStore, nodes []schema.Node, edges ...[2]string) *schema.Workflow {
	t.Helper()
	ctx := context.Background()
	wf := &schema.Workflow{ID: uuid.NewString(), Name: "wf", UserID: "user-1"}
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	conns := make([]schema.Connection, len(edges))
	for i, e := range edges {
		conns[i] = schema.Connection{ID: uuid.NewString(), FromNodeID: e[0], ToNodeID: e[1]}
	}
	require.NoError(t, s.SaveGraph(ctx, wf.ID, nodes, conns))
	return wf
}

func seedExecution(t *testing.T, s *store.LibSQLStore, workflowID, eventID string) *store.Execution {
	t.Helper()
	exec := &store.Execution{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Status:     schema.ExecutionStatusRunning,
		EventID:    eventID,
	}
	require.NoError(t, s.CreateExecution(context.Background(), exec))
	return exec
}

type published struct {
	Channel string
	NodeID  string
	Status  schema.NodeStatus
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, channel, nodeID string, status schema.NodeStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{channel, nodeID, status})
}

func (p *recordingPublisher) statuses(nodeID string) []schema.NodeStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []schema.NodeStatus
	for _, e := range p.events {
		if e.NodeID == nodeID {
			out = append(out, e.Status)
		}
	}
	return out
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type noCredentials struct{}

func (noCredentials) Resolve(_ context.Context, id, _ string) (string, error) {
	return "", schema.NewError(schema.ErrCodeCredentialNotFound, "credential not found").
		WithDetails(map[string]any{"credential_id": id})
}
