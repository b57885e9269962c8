package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}
	for _, edge := range model.Edges {
		b.WriteString(fmt.Sprintf("    %s --> %s\n", mermaidSafeID(edge.From), mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef success fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef loading fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef idle fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")

	for _, node := range model.Nodes {
		if node.Status == nil {
			continue
		}
		if cls := mermaidStatusClass(node.Status.Status); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape of its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(node.Label)

	switch node.Kind {
	case NodeKindTrigger:
		return fmt.Sprintf("%s([\"%s\"])", id, label)
	case NodeKindAI:
		return fmt.Sprintf("%s{{\"%s\"}}", id, label)
	case NodeKindMessage:
		return fmt.Sprintf("%s{\"%s\"}", id, label)
	default:
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_", ":", "_")
	return "n_" + r.Replace(id)
}

// mermaidEscapeLabel makes a label safe inside a quoted Mermaid string.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer(`"`, "#quot;", "\n", "<br/>")
	return r.Replace(s)
}

func mermaidStatusClass(status schema.NodeStatus) string {
	switch status {
	case schema.NodeStatusSuccess:
		return "success"
	case schema.NodeStatusError:
		return "error"
	case schema.NodeStatusLoading:
		return "loading"
	case schema.NodeStatusIdle:
		return "idle"
	default:
		return ""
	}
}
