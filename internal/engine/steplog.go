package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/rendis/nodeflow/internal/metrics"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// StepLog is the memoized step host of one run. The first completion of a
// step is recorded under (run id, step name); every later call of the same
// step in the same run, including calls from a replayed run, reads the
// record instead of running the step again.
//
// A step name used more than once within a run is suffixed by occurrence:
// "http-request", "http-request:1", "http-request:2". The suffix depends only
// on call order, so a replay resolves every call to the same record.
type StepLog struct {
	store   store.StepLogStore
	runID   string
	metrics *metrics.Metrics

	mu   sync.Mutex
	seen map[string]int
}

var _ nodes.StepRunner = (*StepLog)(nil)

// NewStepLog creates the step host of run runID.
func NewStepLog(s store.StepLogStore, runID string, m *metrics.Metrics) *StepLog {
	return &StepLog{store: s, runID: runID, metrics: m, seen: make(map[string]int)}
}

// RunID returns the run the log belongs to.
func (l *StepLog) RunID() string { return l.runID }

// key returns the record name of the next call of name.
func (l *StepLog) key(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.seen[name]
	l.seen[name] = n + 1
	if n == 0 {
		return name
	}
	return name + ":" + strconv.Itoa(n)
}

// Step implements nodes.StepRunner.
func (l *StepLog) Step(ctx context.Context, name string, fn nodes.StepFunc, out any) error {
	key := l.key(name)

	rec, err := l.store.GetStep(ctx, l.runID, key)
	switch {
	case err == nil:
		l.metrics.StepResolved(true)
		return decodeStep(key, rec.Output, out)
	case !schema.HasCode(err, schema.ErrCodeNotFound):
		return schema.NewErrorf(schema.ErrCodeStore, "read step %s: %s", key, err.Error()).WithCause(err)
	}

	v, err := fn(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "step %s result is not JSON-encodable: %v", key, err).WithCause(err)
	}

	written, err := l.store.RecordStep(ctx, &store.StepRecord{RunID: l.runID, Name: key, Output: raw})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "record step %s: %s", key, err.Error()).WithCause(err)
	}
	if !written {
		// Another delivery of this run recorded first; its result is the one
		// every reader sees.
		rec, err := l.store.GetStep(ctx, l.runID, key)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "read step %s: %s", key, err.Error()).WithCause(err)
		}
		raw = rec.Output
	}
	l.metrics.StepResolved(!written)
	return decodeStep(key, raw, out)
}

func decodeStep(key string, raw json.RawMessage, out any) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "decode step %s: %v", key, err).WithCause(err)
	}
	return nil
}
