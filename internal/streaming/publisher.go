package streaming

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// ChannelFor returns the status channel of a node type, e.g. HTTP_REQUEST
// publishes on "http-request-execution".
func ChannelFor(t schema.NodeType) string {
	return strings.ToLower(strings.ReplaceAll(string(t), "_", "-")) + "-execution"
}

// StatusPublisher emits node status on an EventHub. Publishing is
// fire-and-forget: a failure is logged and never reaches the run.
type StatusPublisher struct {
	hub      EventHub
	logger   *slog.Logger
	observer func(channel string, status schema.NodeStatus)
}

// PublisherOption configures a StatusPublisher.
type PublisherOption func(*StatusPublisher)

// WithObserver registers a callback invoked for every publish attempt.
func WithObserver(fn func(channel string, status schema.NodeStatus)) PublisherOption {
	return func(p *StatusPublisher) { p.observer = fn }
}

// NewStatusPublisher creates a publisher over hub.
func NewStatusPublisher(hub EventHub, logger *slog.Logger, opts ...PublisherOption) *StatusPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &StatusPublisher{hub: hub, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends {nodeId, status} on the "status" topic of channel.
func (p *StatusPublisher) Publish(ctx context.Context, channel, nodeID string, status schema.NodeStatus) {
	if p.observer != nil {
		p.observer(channel, status)
	}
	event := StreamEvent{
		Channel: channel,
		Topic:   schema.StatusTopic,
		Data:    schema.StatusMessage{NodeID: nodeID, Status: status},
	}
	if err := p.hub.Publish(context.WithoutCancel(ctx), event); err != nil {
		p.logger.WarnContext(ctx, "status publish failed",
			"channel", channel, "node_id", nodeID, "status", string(status), "error", err)
	}
}
