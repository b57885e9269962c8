package queue

import (
	"context"
	"errors"

	"github.com/rendis/nodeflow/pkg/schema"
)

// ErrClosed is returned by a queue after Close.
var ErrClosed = errors.New("queue is closed")

// Queue carries trigger events from producers (webhooks, the scheduler, the
// CLI) to the Dispatcher. Delivery is at most once: a dequeued event is never
// handed out again.
type Queue interface {
	Enqueue(ctx context.Context, event schema.TriggerEvent) error
	// Dequeue blocks until an event is available, ctx is done or the queue
	// is closed.
	Dequeue(ctx context.Context) (schema.TriggerEvent, error)
	Close() error
}
