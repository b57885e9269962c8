package nodes

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Executor runs one node type. Execute receives the context produced by the
// previous node and returns the context handed to the next one.
type Executor interface {
	Type() schema.NodeType
	Channel() string
	Execute(ctx context.Context, p Params) (schema.Context, error)
}

// StatusPublisher emits live node status. Implementations must not fail the
// caller. Satisfied by *streaming.StatusPublisher.
type StatusPublisher interface {
	Publish(ctx context.Context, channel, nodeID string, status schema.NodeStatus)
}

// StepFunc is the body of a memoized step. Its result must be JSON-encodable.
type StepFunc func(ctx context.Context) (any, error)

// StepRunner runs named run-once operations. When a step with the same name
// already completed in this run, its recorded output is decoded into out and
// fn is not called. Otherwise fn runs, its result is recorded and decoded into
// out. An error from fn is returned unchanged and nothing is recorded.
type StepRunner interface {
	Step(ctx context.Context, name string, fn StepFunc, out any) error
}

// Params is everything an executor may use for one invocation.
type Params struct {
	NodeID  string
	Config  map[string]any
	Context schema.Context
	UserID  string
	Status  StatusPublisher
	Steps   StepRunner
}

// DirectSteps is a StepRunner without memoization: every step runs.
type DirectSteps struct{}

// Step runs fn and decodes its result into out.
func (DirectSteps) Step(ctx context.Context, _ string, fn StepFunc, out any) error {
	v, err := fn(ctx)
	if err != nil {
		return err
	}
	return decodeInto(v, out)
}

func decodeInto(v, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "step result is not JSON-encodable: %v", err).WithCause(err)
	}
	return json.Unmarshal(b, out)
}

// runStep is the typed form of StepRunner.Step.
func runStep[T any](ctx context.Context, steps StepRunner, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if steps == nil {
		steps = DirectSteps{}
	}
	var out T
	err := steps.Step(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, &out)
	return out, err
}

// run wraps an executor body with the status protocol: loading once on entry,
// then exactly one of success or error. The body's error is returned as is.
func run(ctx context.Context, p Params, channel string, body func(ctx context.Context) (schema.Context, error)) (schema.Context, error) {
	ctx = logging.WithNodeID(ctx, p.NodeID)
	publish(ctx, p, channel, schema.NodeStatusLoading)

	out, err := body(ctx)
	if err != nil {
		publish(ctx, p, channel, schema.NodeStatusError)
		return schema.Context{}, err
	}
	publish(ctx, p, channel, schema.NodeStatusSuccess)
	return out, nil
}

func publish(ctx context.Context, p Params, channel string, status schema.NodeStatus) {
	if p.Status == nil {
		return
	}
	p.Status.Publish(ctx, channel, p.NodeID, status)
}

// base carries the node type shared by every executor.
type base struct {
	nodeType schema.NodeType
}

func (b base) Type() schema.NodeType { return b.nodeType }

func (b base) Channel() string { return streaming.ChannelFor(b.nodeType) }

// Param helpers used by all executor files.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

// requireString returns a non-blank string config value or the validation
// error naming the missing field.
func requireString(m map[string]any, label, key string) (string, error) {
	s := stringParam(m, key, "")
	if strings.TrimSpace(s) == "" {
		return "", schema.MissingConfig(label, key)
	}
	return s, nil
}
