package queue

import (
	"context"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

const defaultMemoryCapacity = 1024

// MemoryQueue is an in-process bounded queue. Enqueue blocks while it is full.
type MemoryQueue struct {
	events chan schema.TriggerEvent
	done   chan struct{}
	once   sync.Once
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue holding up to capacity events.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryQueue{
		events: make(chan schema.TriggerEvent, capacity),
		done:   make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, event schema.TriggerEvent) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (schema.TriggerEvent, error) {
	select {
	case ev := <-q.events:
		return ev, nil
	case <-ctx.Done():
		return schema.TriggerEvent{}, ctx.Err()
	case <-q.done:
		return schema.TriggerEvent{}, ErrClosed
	}
}

// Len returns the number of queued events.
func (q *MemoryQueue) Len() int { return len(q.events) }

// Close wakes blocked callers. Queued events are dropped.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
