package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestStepLog_RecordAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	written, err := s.RecordStep(ctx, &StepRecord{RunID: "run-1", Name: "http-request", Output: json.RawMessage(`{"api":1}`)})
	require.NoError(t, err)
	assert.True(t, written)

	rec, err := s.GetStep(ctx, "run-1", "http-request")
	require.NoError(t, err)
	assert.JSONEq(t, `{"api":1}`, string(rec.Output))
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestStepLog_FirstWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RecordStep(ctx, &StepRecord{RunID: "run-1", Name: "step", Output: json.RawMessage(`"first"`)})
	require.NoError(t, err)
	written, err := s.RecordStep(ctx, &StepRecord{RunID: "run-1", Name: "step", Output: json.RawMessage(`"second"`)})
	require.NoError(t, err)
	assert.False(t, written)

	rec, err := s.GetStep(ctx, "run-1", "step")
	require.NoError(t, err)
	assert.Equal(t, `"first"`, string(rec.Output))
}

func TestStepLog_ScopedByRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RecordStep(ctx, &StepRecord{RunID: "run-1", Name: "step", Output: json.RawMessage(`1`)})
	require.NoError(t, err)

	_, err = s.GetStep(ctx, "run-2", "step")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestStepLog_ListInWriteOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"manual-trigger", "http-request", "http-request:1"} {
		_, err := s.RecordStep(ctx, &StepRecord{RunID: "run-1", Name: name})
		require.NoError(t, err)
	}

	recs, err := s.ListSteps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "manual-trigger", recs[0].Name)
	assert.Equal(t, "http-request:1", recs[2].Name)
	assert.Nil(t, recs[0].Output)
}

func TestStepLog_ConcurrentRecordSameKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			written, err := s.RecordStep(ctx, &StepRecord{RunID: "run-1", Name: "step", Output: json.RawMessage(`{}`)})
			if err != nil {
				t.Errorf("concurrent record error: %v", err)
				return
			}
			if written {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
