package schema

import "time"

// Workflow is a user-owned graph of nodes and connections.
type Workflow struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	UserID    string    `json:"user_id" yaml:"user_id"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// NodeType tags a node with the executor that runs it.
type NodeType string

const (
	NodeTypeInitial           NodeType = "INITIAL"
	NodeTypeManualTrigger     NodeType = "MANUAL_TRIGGER"
	NodeTypeGoogleFormTrigger NodeType = "GOOGLE_FORM_TRIGGER"
	NodeTypeStripeTrigger     NodeType = "STRIPE_TRIGGER"
	NodeTypeHTTPRequest       NodeType = "HTTP_REQUEST"
	NodeTypeGemini            NodeType = "GEMINI"
	NodeTypeDeepSeek          NodeType = "DEEPSEEK"
	NodeTypeDiscord           NodeType = "DISCORD"
	NodeTypeSlack             NodeType = "SLACK"
)

// NodeTypes lists every known node type in a stable order.
var NodeTypes = []NodeType{
	NodeTypeInitial,
	NodeTypeManualTrigger,
	NodeTypeGoogleFormTrigger,
	NodeTypeStripeTrigger,
	NodeTypeHTTPRequest,
	NodeTypeGemini,
	NodeTypeDeepSeek,
	NodeTypeDiscord,
	NodeTypeSlack,
}

// IsTrigger reports whether the node type starts a workflow rather than acting
// on its context.
func (t NodeType) IsTrigger() bool {
	switch t {
	case NodeTypeInitial, NodeTypeManualTrigger, NodeTypeGoogleFormTrigger, NodeTypeStripeTrigger:
		return true
	}
	return false
}

// Valid reports whether t belongs to the closed node type enumeration.
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Node is one unit of work in a workflow graph. Config is free-form and its
// schema depends on Type.
type Node struct {
	ID         string         `json:"id" yaml:"id"`
	WorkflowID string         `json:"workflow_id,omitempty" yaml:"-"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	Type       NodeType       `json:"type" yaml:"type"`
	Config     map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Position   Position       `json:"position" yaml:"position,omitempty"`
}

// Position is the editor canvas location of a node. The engine ignores it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Connection is a directed dependency edge between two nodes of the same
// workflow.
type Connection struct {
	ID         string `json:"id,omitempty" yaml:"id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty" yaml:"-"`
	FromNodeID string `json:"from_node_id" yaml:"from"`
	ToNodeID   string `json:"to_node_id" yaml:"to"`
}

// Graph is a workflow together with its nodes and connections.
type Graph struct {
	Workflow    Workflow     `json:"workflow"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// CredentialType enumerates the secrets a node may reference.
type CredentialType string

const (
	CredentialTypeGemini   CredentialType = "GEMINI"
	CredentialTypeDeepSeek CredentialType = "DEEPSEEK"
)

// Valid reports whether t is a known credential type.
func (t CredentialType) Valid() bool {
	return t == CredentialTypeGemini || t == CredentialTypeDeepSeek
}
