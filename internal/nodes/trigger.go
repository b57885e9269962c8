package nodes

import (
	"context"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// TriggerExecutor starts a run. It records the incoming context under a step
// named after the trigger and passes it through unchanged.
type TriggerExecutor struct {
	base
	step string
}

// NewTriggerExecutor creates the executor of a trigger node type.
func NewTriggerExecutor(t schema.NodeType) *TriggerExecutor {
	return &TriggerExecutor{
		base: base{nodeType: t},
		step: strings.ToLower(strings.ReplaceAll(strings.TrimSuffix(string(t), "_TRIGGER"), "_", "-")) + "-trigger",
	}
}

// StepName returns the memoized step the trigger runs under, e.g.
// "manual-trigger" or "google-form-trigger".
func (e *TriggerExecutor) StepName() string { return e.step }

func (e *TriggerExecutor) Execute(ctx context.Context, p Params) (schema.Context, error) {
	return run(ctx, p, e.Channel(), func(ctx context.Context) (schema.Context, error) {
		return runStep(ctx, p.Steps, e.step, func(context.Context) (schema.Context, error) {
			return p.Context, nil
		})
	})
}
