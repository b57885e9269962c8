package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func statusEvent(channel, nodeID string, status schema.NodeStatus) StreamEvent {
	return StreamEvent{
		Channel: channel,
		Topic:   schema.StatusTopic,
		Data:    schema.StatusMessage{NodeID: nodeID, Status: status},
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := statusEvent("http-request-execution", "n1", schema.NodeStatusLoading)
	require.NoError(t, hub.Publish(ctx, event))

	select {
	case got := <-ch:
		assert.Equal(t, event, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterByChannel(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{Channels: []string{"gemini-execution", "slack-execution"}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, statusEvent("gemini-execution", "a", schema.NodeStatusLoading)))
	require.NoError(t, hub.Publish(ctx, statusEvent("http-request-execution", "b", schema.NodeStatusLoading)))
	require.NoError(t, hub.Publish(ctx, statusEvent("slack-execution", "c", schema.NodeStatusSuccess)))

	var received []string
	for i := 0; i < 2; i++ {
		select {
		case got := <-ch:
			received = append(received, got.Data.NodeID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []string{"a", "c"}, received)

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFilterByNodeAndTopic(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{NodeID: "n1", Topic: schema.StatusTopic})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, statusEvent("x", "n2", schema.NodeStatusLoading)))
	other := statusEvent("x", "n1", schema.NodeStatusLoading)
	other.Topic = "other"
	require.NoError(t, hub.Publish(ctx, other))
	require.NoError(t, hub.Publish(ctx, statusEvent("x", "n1", schema.NodeStatusError)))

	select {
	case got := <-ch:
		assert.Equal(t, schema.NodeStatusError, got.Data.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, hub.Publish(ctx, statusEvent("x", "n1", schema.NodeStatusLoading)))

	hub.mu.RLock()
	assert.Empty(t, hub.subs)
	hub.mu.RUnlock()
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())

	ch, unsubscribe, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer unsubscribe()

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestCloseDropsSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Close())
	_, open := <-ch
	assert.False(t, open)

	_, _, err = hub.Subscribe(ctx, EventFilter{})
	assert.Error(t, err)
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	// None of these should block.
	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, statusEvent("x", "n1", schema.NodeStatusLoading)))
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			assert.Equal(t, defaultChannelBuffer, drained)
			return
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = hub.Publish(ctx, statusEvent("x", "n1", schema.NodeStatusLoading))
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
			if err != nil {
				return
			}
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}
	wg.Wait()
}

func TestPublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := hub.Publish(ctx, statusEvent("x", "n1", schema.NodeStatusLoading))
	assert.ErrorIs(t, err, context.Canceled)
}
