package validation

import "github.com/rendis/nodeflow/pkg/schema"

// GraphValidator runs the three-stage validation pipeline:
// 1. Structural (JSON Schema over the raw document)
// 2. Semantic (node ids, connection endpoints, triggers)
// 3. DAG (cycles, reachability from triggers)
type GraphValidator struct {
	jsonSchema *JSONSchemaValidator
}

var _ Validator = (*GraphValidator)(nil)

// NewGraphValidator creates a GraphValidator.
func NewGraphValidator() (*GraphValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{jsonSchema: jsv}, nil
}

// Validate runs the full pipeline. doc is the decoded document g was built
// from; a nil doc skips the structural stage. Structural errors
// short-circuit the other stages.
func (v *GraphValidator) Validate(doc any, g *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if doc != nil {
		if err := v.jsonSchema.ValidateDocument(doc); err != nil {
			addStructural(result, err)
			return result
		}
	}
	if g == nil {
		result.AddError("/", schema.ErrCodeValidation, "workflow graph is nil")
		return result
	}

	result.Merge(validateSemantic(g))
	// DAG analysis of a graph with dangling or duplicate ids is meaningless.
	if result.Valid() {
		result.Merge(validateDAG(g))
	}
	return result
}

// ValidateDocument satisfies the Validator interface.
func (v *GraphValidator) ValidateDocument(doc any) error {
	return v.jsonSchema.ValidateDocument(doc)
}

// ValidateGraph satisfies the Validator interface.
func (v *GraphValidator) ValidateGraph(g *schema.Graph) error {
	return v.Validate(nil, g).Err()
}

func addStructural(result *schema.ValidationResult, err error) {
	fe, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
}
