package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultRedisKey is the list trigger events are pushed to.
const DefaultRedisKey = "nodeflow:events"

// RedisQueue is a Redis list used as a FIFO: LPUSH to enqueue, BRPOP to
// dequeue. BRPOP removes the event atomically, so each event reaches one
// consumer once.
type RedisQueue struct {
	client *redis.Client
	key    string
	poll   time.Duration

	mu     sync.Mutex
	closed bool
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue creates a queue on key (DefaultRedisKey when empty).
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key, poll: time.Second}
}

func (q *RedisQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *RedisQueue) Enqueue(ctx context.Context, event schema.TriggerEvent) error {
	if q.isClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	return nil
}

// Dequeue polls BRPOP in short rounds so that ctx cancellation and Close are
// noticed without waiting for an event.
func (q *RedisQueue) Dequeue(ctx context.Context) (schema.TriggerEvent, error) {
	for {
		if q.isClosed() {
			return schema.TriggerEvent{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return schema.TriggerEvent{}, err
		}

		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return schema.TriggerEvent{}, ctx.Err()
			}
			return schema.TriggerEvent{}, fmt.Errorf("brpop %s: %w", q.key, err)
		}

		// res is [key, value].
		var event schema.TriggerEvent
		if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
			return schema.TriggerEvent{}, schema.NewErrorf(schema.ErrCodeValidation, "malformed event on %s: %v", q.key, err).WithCause(err)
		}
		return event, nil
	}
}

// Len returns the number of queued events.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close stops Dequeue. The client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
