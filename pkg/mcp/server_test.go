package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodeflowServer(t *testing.T) {
	s := NewNodeflowServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
}

func TestToolRegistration(t *testing.T) {
	s := NewNodeflowServer(ServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 4)

	for _, name := range []string{"nodeflow.execute", "nodeflow.status", "nodeflow.query", "nodeflow.diagram"} {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"execute", "nodeflow.execute", "Execute a workflow"},
		{"status", "nodeflow.status", "Get an execution record"},
		{"query", "nodeflow.query", "Query workflows or executions"},
	}

	s := NewNodeflowServer(ServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}

func TestToolInputSchemas(t *testing.T) {
	s := NewNodeflowServer(ServerDeps{})

	execute := s.mcpServer.GetTool("nodeflow.execute").Tool.InputSchema
	assert.Equal(t, []string{"workflow_id"}, execute.Required)
	assert.Contains(t, execute.Properties, "async")
	assert.Contains(t, execute.Properties, "initial_data")

	diagram := s.mcpServer.GetTool("nodeflow.diagram").Tool.InputSchema
	assert.ElementsMatch(t, []string{"workflow_id", "format"}, diagram.Required)
	format, ok := diagram.Properties["format"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"ascii", "mermaid", "svg", "image"}, format["enum"])

	status := s.mcpServer.GetTool("nodeflow.status").Tool.InputSchema
	assert.Empty(t, status.Required, "either execution_id or event_id is accepted")
}
