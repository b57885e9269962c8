package streaming

import (
	"context"

	"github.com/rendis/nodeflow/pkg/schema"
)

// StreamEvent is a real-time status message published on a node-type channel.
type StreamEvent struct {
	Channel string               `json:"channel"`
	Topic   string               `json:"topic"`
	Data    schema.StatusMessage `json:"data"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	Channels []string `json:"channels,omitempty"`
	Topic    string   `json:"topic,omitempty"`
	NodeID   string   `json:"node_id,omitempty"`
}

// EventHub provides pub/sub for real-time node status.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// matchFilter returns true if the event passes the filter criteria.
func matchFilter(f EventFilter, e StreamEvent) bool {
	if f.Topic != "" && f.Topic != e.Topic {
		return false
	}
	if f.NodeID != "" && f.NodeID != e.Data.NodeID {
		return false
	}
	if len(f.Channels) > 0 {
		found := false
		for _, c := range f.Channels {
			if c == e.Channel {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
