package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "nodeflow:"

// RedisHub is an EventHub backed by Redis PUBLISH/PSUBSCRIBE. Events are
// published on "nodeflow:<channel>:<topic>" so that status subscribers in
// other processes see every run.
type RedisHub struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisHub wraps an existing client.
func NewRedisHub(client *redis.Client, logger *slog.Logger) *RedisHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisHub{client: client, logger: logger}
}

// RedisKey returns the Redis channel name for a status channel and topic.
func RedisKey(channel, topic string) string {
	return redisKeyPrefix + channel + ":" + topic
}

func parseRedisKey(key string) (channel, topic string, ok bool) {
	rest, found := strings.CutPrefix(key, redisKeyPrefix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func (h *RedisHub) Publish(ctx context.Context, event StreamEvent) error {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal status message: %w", err)
	}
	return h.client.Publish(ctx, RedisKey(event.Channel, event.Topic), payload).Err()
}

func (h *RedisHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	patterns := []string{redisKeyPrefix + "*"}
	if len(filter.Channels) > 0 {
		patterns = patterns[:0]
		for _, c := range filter.Channels {
			patterns = append(patterns, redisKeyPrefix+c+":*")
		}
	}

	pubsub := h.client.PSubscribe(ctx, patterns...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("psubscribe: %w", err)
	}

	out := make(chan StreamEvent, defaultChannelBuffer)
	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				event, ok := h.decode(msg)
				if !ok || !matchFilter(filter, event) {
					continue
				}
				select {
				case out <- event:
				default:
				}
			}
		}
	}()

	return out, cancel, nil
}

func (h *RedisHub) decode(msg *redis.Message) (StreamEvent, bool) {
	channel, topic, ok := parseRedisKey(msg.Channel)
	if !ok {
		return StreamEvent{}, false
	}
	event := StreamEvent{Channel: channel, Topic: topic}
	if err := json.Unmarshal([]byte(msg.Payload), &event.Data); err != nil {
		h.logger.Warn("discarding malformed status message", "channel", msg.Channel, "error", err)
		return StreamEvent{}, false
	}
	return event, true
}

// Close closes the underlying client.
func (h *RedisHub) Close() error { return h.client.Close() }
