package diagram

import "github.com/rendis/nodeflow/pkg/schema"

// NodeKind groups node types that share a diagram shape.
type NodeKind string

const (
	NodeKindTrigger NodeKind = "trigger"
	NodeKindRequest NodeKind = "request"
	NodeKindAI      NodeKind = "ai"
	NodeKindMessage NodeKind = "message"
)

// KindOf returns the diagram kind of a node type.
func KindOf(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeGemini, schema.NodeTypeDeepSeek:
		return NodeKindAI
	case schema.NodeTypeDiscord, schema.NodeTypeSlack:
		return NodeKindMessage
	case schema.NodeTypeHTTPRequest:
		return NodeKindRequest
	}
	if t.IsTrigger() {
		return NodeKindTrigger
	}
	return NodeKindRequest
}

// DiagramModel is the intermediate representation used by all renderers.
// Nodes are in execution order.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Type   schema.NodeType
	Kind   NodeKind
	Order  int // 1-based position in execution order
	Status *StatusOverlay
}

// StatusOverlay carries the live status of a node.
type StatusOverlay struct {
	Status schema.NodeStatus
}

// Edge is a connection between two nodes.
type Edge struct {
	From string
	To   string
}
