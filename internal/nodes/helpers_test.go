package nodes

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

type published struct {
	channel string
	nodeID  string
	status  schema.NodeStatus
}

// recordingPublisher captures every status publish.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingPublisher) Publish(_ context.Context, channel, nodeID string, status schema.NodeStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{channel: channel, nodeID: nodeID, status: status})
}

func (r *recordingPublisher) statuses() []schema.NodeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.NodeStatus, len(r.events))
	for i, e := range r.events {
		out[i] = e.status
	}
	return out
}

// memorySteps memoizes step results by name, like the durable step log.
type memorySteps struct {
	records map[string]json.RawMessage
	calls   map[string]int
}

func newMemorySteps() *memorySteps {
	return &memorySteps{records: map[string]json.RawMessage{}, calls: map[string]int{}}
}

func (m *memorySteps) Step(ctx context.Context, name string, fn StepFunc, out any) error {
	if raw, ok := m.records[name]; ok {
		return json.Unmarshal(raw, out)
	}
	m.calls[name]++
	v, err := fn(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.records[name] = raw
	return json.Unmarshal(raw, out)
}

// staticCredentials resolves credentials from a map keyed by id; owner is
// the user every credential belongs to.
type staticCredentials struct {
	owner  string
	values map[string]string
}

func (s staticCredentials) Resolve(_ context.Context, id, userID string) (string, error) {
	v, ok := s.values[id]
	if !ok || userID != s.owner {
		return "", schema.NewError(schema.ErrCodeCredentialNotFound, "credential not found")
	}
	return v, nil
}

func mustContext(t *testing.T, m map[string]any) schema.Context {
	t.Helper()
	c, err := schema.NewContext(m)
	require.NoError(t, err)
	return c
}

func params(t *testing.T, config, data map[string]any) (Params, *recordingPublisher, *memorySteps) {
	t.Helper()
	pub := &recordingPublisher{}
	steps := newMemorySteps()
	return Params{
		NodeID:  "node-1",
		Config:  config,
		Context: mustContext(t, data),
		UserID:  "user-1",
		Status:  pub,
		Steps:   steps,
	}, pub, steps
}

var (
	loadingSuccess = []schema.NodeStatus{schema.NodeStatusLoading, schema.NodeStatusSuccess}
	loadingError   = []schema.NodeStatus{schema.NodeStatusLoading, schema.NodeStatusError}
)
