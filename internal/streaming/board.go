package streaming

import (
	"context"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

// StatusBoard keeps the last status seen for every node. It feeds the status
// overlay of workflow diagrams.
type StatusBoard struct {
	mu     sync.RWMutex
	latest map[string]schema.NodeStatus
}

// NewStatusBoard creates an empty board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{latest: make(map[string]schema.NodeStatus)}
}

// Follow subscribes to every status channel of hub and records messages
// until ctx ends.
func (b *StatusBoard) Follow(ctx context.Context, hub EventHub) error {
	ch, cancel, err := hub.Subscribe(ctx, EventFilter{Topic: schema.StatusTopic})
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		for event := range ch {
			b.Record(event.Data)
		}
	}()
	return nil
}

// Record stores msg as the node's latest status.
func (b *StatusBoard) Record(msg schema.StatusMessage) {
	b.mu.Lock()
	b.latest[msg.NodeID] = msg.Status
	b.mu.Unlock()
}

// Snapshot returns the latest status of each of nodeIDs that has one.
func (b *StatusBoard) Snapshot(nodeIDs ...string) map[string]schema.NodeStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]schema.NodeStatus, len(nodeIDs))
	for _, id := range nodeIDs {
		if st, ok := b.latest[id]; ok {
			out[id] = st
		}
	}
	return out
}
