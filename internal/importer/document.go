package importer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Document is the portable form of a workflow graph. The same shape is
// accepted as YAML or JSON:
//
//	workflow:
//	  name: signup
//	nodes:
//	  - id: start
//	    type: INITIAL
//	  - id: fetch
//	    type: HTTP_REQUEST
//	    config: {endpoint: "https://api.example.com/users/{{userId}}", variableName: user}
//	connections:
//	  - from: start
//	    to: fetch
type Document struct {
	Workflow    schema.Workflow     `yaml:"workflow"`
	Nodes       []schema.Node       `yaml:"nodes"`
	Connections []schema.Connection `yaml:"connections,omitempty"`
}

// Graph converts the document to a graph.
func (d *Document) Graph() *schema.Graph {
	return &schema.Graph{Workflow: d.Workflow, Nodes: d.Nodes, Connections: d.Connections}
}

// Parse decodes data as JSON when it starts with '{' and as YAML otherwise.
// It returns the generic document, used for schema validation, and the typed
// one.
func Parse(data []byte) (any, *Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "graph document is empty")
	}

	var raw any
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, nil, schema.NewErrorf(schema.ErrCodeValidation, "parse JSON: %v", err).WithCause(err)
		}
	} else if err := yaml.Unmarshal(trimmed, &raw); err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeValidation, "parse YAML: %v", err).WithCause(err)
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "graph document must be a mapping")
	}

	// Both encodings decode through the yaml field names.
	norm, err := yaml.Marshal(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("normalize document: %w", err)
	}
	doc := &Document{}
	if err := yaml.Unmarshal(norm, doc); err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeValidation, "decode graph document: %v", err).WithCause(err)
	}
	return raw, doc, nil
}

// Marshal encodes a graph as a YAML document.
func Marshal(g *schema.Graph) ([]byte, error) {
	doc := Document{Workflow: g.Workflow, Nodes: g.Nodes, Connections: g.Connections}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode graph document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
