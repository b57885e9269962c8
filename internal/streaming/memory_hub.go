package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultChannelBuffer = 64

type subscriber struct {
	ch     chan StreamEvent
	filter EventFilter
	once   sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.ch) }) }

// MemoryHub is an in-process EventHub. Delivery is best-effort: a slow
// subscriber loses events instead of stalling the publishing run.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	seq    atomic.Uint64
	closed bool
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[uint64]*subscriber),
	}
}

// Publish sends an event to all matching subscribers without blocking.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchFilter(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The returned channel is closed
// by the cancel function, when ctx ends, or when the hub is closed.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	sub := &subscriber{ch: make(chan StreamEvent, defaultChannelBuffer), filter: filter}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, context.Canceled
	}
	h.subs[id] = sub
	h.mu.Unlock()

	done := make(chan struct{})
	var stop sync.Once
	cancel := func() {
		stop.Do(func() {
			close(done)
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			sub.close()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return sub.ch, cancel, nil
}

// Close drops every subscription and rejects new ones.
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.close()
	}
	return nil
}
