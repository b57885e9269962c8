package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPool_BasicExecution(t *testing.T) {
	pool := NewRunPool(2, nil)
	defer pool.Shutdown()

	var ran int64
	require.NoError(t, pool.Start(context.Background(), "evt-1", func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	}))
	pool.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
	assert.Equal(t, int64(1), pool.Stats().Completed)
	assert.False(t, pool.Running("evt-1"))
}

func TestRunPool_ConcurrencyLimit(t *testing.T) {
	pool := NewRunPool(2, nil)
	defer pool.Shutdown()

	var current, peak int64
	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Start(context.Background(), fmt.Sprintf("evt-%d", i), func(ctx context.Context) error {
			n := atomic.AddInt64(&current, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
	assert.Equal(t, int64(6), pool.Stats().Completed)
}

func TestRunPool_Backpressure(t *testing.T) {
	pool := NewRunPool(1, nil)
	defer pool.Shutdown()

	block := make(chan struct{})
	require.NoError(t, pool.Start(context.Background(), "first", func(ctx context.Context) error {
		<-block
		return nil
	}))

	started := make(chan struct{})
	go func() {
		_ = pool.Start(context.Background(), "second", func(ctx context.Context) error { return nil })
		close(started)
	}()

	select {
	case <-started:
		t.Fatal("second run started while the only slot was busy")
	case <-time.After(30 * time.Millisecond):
	}
	assert.True(t, pool.Running("second"))

	close(block)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("second run never got a slot")
	}
	pool.Wait()
	assert.Equal(t, int64(2), pool.Stats().Completed)
}

func TestRunPool_ErrorsAndPanicsReported(t *testing.T) {
	var mu sync.Mutex
	reported := map[string]error{}
	pool := NewRunPool(2, func(eventID string, err error) {
		mu.Lock()
		defer mu.Unlock()
		reported[eventID] = err
	})
	defer pool.Shutdown()

	boom := errors.New("run failed")
	require.NoError(t, pool.Start(context.Background(), "fails", func(ctx context.Context) error { return boom }))
	require.NoError(t, pool.Start(context.Background(), "panics", func(ctx context.Context) error { panic("test panic") }))
	pool.Wait()

	s := pool.Stats()
	assert.Equal(t, int64(1), s.Panics)
	assert.Equal(t, int64(2), s.Failed)
	assert.Equal(t, int64(0), s.Active)

	mu.Lock()
	require.Len(t, reported, 2)
	assert.ErrorIs(t, reported["fails"], boom)
	assert.EqualError(t, reported["panics"], "run panic: test panic")
	mu.Unlock()

	// A panicked event can run again.
	var ran int64
	require.NoError(t, pool.Start(context.Background(), "panics", func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	}))
	pool.Wait()
	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}

func TestRunPool_DuplicateEventRejectedWhileInFlight(t *testing.T) {
	pool := NewRunPool(2, nil)
	defer pool.Shutdown()

	release := make(chan struct{})
	require.NoError(t, pool.Start(context.Background(), "evt", func(ctx context.Context) error {
		<-release
		return nil
	}))
	assert.True(t, pool.Running("evt"))

	err := pool.Start(context.Background(), "evt", func(ctx context.Context) error {
		t.Error("duplicate run executed")
		return nil
	})
	assert.ErrorIs(t, err, ErrRunInFlight)

	close(release)
	pool.Wait()
	assert.False(t, pool.Running("evt"))
	assert.Equal(t, int64(1), pool.Stats().Completed)

	require.NoError(t, pool.Start(context.Background(), "evt", func(ctx context.Context) error { return nil }))
	pool.Wait()
	assert.Equal(t, int64(2), pool.Stats().Completed)
}

func TestRunPool_RunOutlivesStartContext(t *testing.T) {
	pool := NewRunPool(1, nil)
	defer pool.Shutdown()

	type key struct{}
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "v"))

	release := make(chan struct{})
	var runErr error
	var value any
	require.NoError(t, pool.Start(ctx, "evt", func(runCtx context.Context) error {
		<-release
		runErr = runCtx.Err()
		value = runCtx.Value(key{})
		return nil
	}))

	cancel()
	close(release)
	pool.Wait()

	assert.NoError(t, runErr)
	assert.Equal(t, "v", value)
}

func TestRunPool_ContextCancellationWhileWaiting(t *testing.T) {
	pool := NewRunPool(1, nil)
	defer pool.Shutdown()

	block := make(chan struct{})
	require.NoError(t, pool.Start(context.Background(), "busy", func(ctx context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.Start(ctx, "waiting", func(ctx context.Context) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("start did not return after context cancellation")
	}
	assert.False(t, pool.Running("waiting"))
	close(block)
	pool.Wait()
}

func TestRunPool_GracefulShutdown(t *testing.T) {
	pool := NewRunPool(2, nil)

	var completed int64
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Start(context.Background(), fmt.Sprintf("evt-%d", i), func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&completed, 1)
			return nil
		}))
	}
	pool.Shutdown()
	assert.Equal(t, int64(5), atomic.LoadInt64(&completed))

	err := pool.Start(context.Background(), "late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)

	pool.Shutdown() // idempotent
}
