package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func conn(from, to string) schema.Connection {
	return schema.Connection{FromNodeID: from, ToNodeID: to}
}

// signupGraph: form trigger -> lookup -> (summarize, notify)
func signupGraph() *schema.Graph {
	return &schema.Graph{
		Workflow: schema.Workflow{ID: "wf-1", Name: "Signup Pipeline"},
		Nodes: []schema.Node{
			{ID: "notify", Name: "Notify", Type: schema.NodeTypeSlack},
			{ID: "summarize", Name: "Summarize", Type: schema.NodeTypeGemini},
			{ID: "lookup", Name: "Lookup", Type: schema.NodeTypeHTTPRequest},
			{ID: "form", Name: "Form", Type: schema.NodeTypeGoogleFormTrigger},
		},
		Connections: []schema.Connection{
			conn("form", "lookup"),
			conn("lookup", "summarize"),
			conn("lookup", "notify"),
		},
	}
}

func TestBuildOrdersNodes(t *testing.T) {
	model, err := Build(signupGraph(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Signup Pipeline", model.Title)
	require.Len(t, model.Nodes, 4)

	ids := make([]string, len(model.Nodes))
	for i, n := range model.Nodes {
		ids[i] = n.ID
		assert.Equal(t, i+1, n.Order)
	}
	assert.Equal(t, []string{"form", "lookup", "summarize", "notify"}, ids)
	assert.Equal(t, [][]string{{"form"}, {"lookup"}, {"summarize", "notify"}}, model.Levels)
}

func TestBuildLabelsAndKinds(t *testing.T) {
	model, err := Build(signupGraph(), nil)
	require.NoError(t, err)

	byID := map[string]*Node{}
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}
	assert.Equal(t, "1. Form\n(GOOGLE_FORM_TRIGGER)", byID["form"].Label)
	assert.Equal(t, NodeKindTrigger, byID["form"].Kind)
	assert.Equal(t, NodeKindRequest, byID["lookup"].Kind)
	assert.Equal(t, NodeKindAI, byID["summarize"].Kind)
	assert.Equal(t, NodeKindMessage, byID["notify"].Kind)
}

func TestBuildNameFallsBackToID(t *testing.T) {
	g := &schema.Graph{Nodes: []schema.Node{{ID: "start", Type: schema.NodeTypeManualTrigger}}}

	model, err := Build(g, nil)
	require.NoError(t, err)
	assert.Equal(t, "Workflow", model.Title)
	assert.Equal(t, "1. start\n(MANUAL_TRIGGER)", model.Nodes[0].Label)
}

func TestBuildEdgesDedupedAndFiltered(t *testing.T) {
	g := signupGraph()
	g.Connections = append(g.Connections, conn("form", "lookup"), conn("lookup", "ghost"))

	model, err := Build(g, nil)
	require.NoError(t, err)
	assert.Equal(t, []Edge{
		{From: "form", To: "lookup"},
		{From: "lookup", To: "summarize"},
		{From: "lookup", To: "notify"},
	}, model.Edges)
}

func TestBuildStatusOverlay(t *testing.T) {
	model, err := Build(signupGraph(), map[string]schema.NodeStatus{
		"form":   schema.NodeStatusSuccess,
		"lookup": schema.NodeStatusLoading,
	})
	require.NoError(t, err)

	assert.Equal(t, schema.NodeStatusSuccess, model.Nodes[0].Status.Status)
	assert.Equal(t, schema.NodeStatusLoading, model.Nodes[1].Status.Status)
	assert.Nil(t, model.Nodes[2].Status)
}

func TestBuildCycle(t *testing.T) {
	g := signupGraph()
	g.Connections = append(g.Connections, conn("notify", "form"))

	_, err := Build(g, nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCycleDetected))
}
