package validation

import "github.com/rendis/nodeflow/pkg/schema"

// Validator checks workflow graph documents before they are stored.
// Documents are validated with JSON Schema Draft 2020-12.
type Validator interface {
	ValidateDocument(doc any) error
	ValidateGraph(g *schema.Graph) error
}
