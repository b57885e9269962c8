package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// RunStats counts the runs a RunPool has handled.
type RunStats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

var (
	// ErrPoolShutdown is returned when a run is started on a shut-down pool.
	ErrPoolShutdown = errors.New("run pool is shut down")
	// ErrRunInFlight is returned when the event's run is already in the pool.
	ErrRunInFlight = errors.New("run already in flight")
)

// RunPool runs workflow runs on at most size goroutines, one run per trigger
// event at a time. A run's outcome lives in its Execution record; the pool
// only reports it to onFinish.
type RunPool struct {
	slots    chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stats    RunStats
	onFinish func(eventID string, err error)

	mu       sync.Mutex
	closed   bool
	inFlight map[string]struct{}
}

// NewRunPool creates a pool of size concurrent runs. onFinish, when set, is
// called after every run with its error; a panicking run reports a
// "run panic" error.
func NewRunPool(size int, onFinish func(eventID string, err error)) *RunPool {
	if size <= 0 {
		size = 1
	}
	return &RunPool{
		slots:    make(chan struct{}, size),
		done:     make(chan struct{}),
		onFinish: onFinish,
		inFlight: make(map[string]struct{}),
	}
}

// Start runs run for eventID once a slot is free. While waiting it gives up
// on ctx or shutdown. A started run gets ctx's values without its
// cancellation, so stopping the consumer never interrupts a run.
func (p *RunPool) Start(ctx context.Context, eventID string, run func(ctx context.Context) error) error {
	if err := p.reserve(eventID); err != nil {
		return err
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		p.release(eventID)
		return ctx.Err()
	case <-p.done:
		p.release(eventID)
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock to not race Shutdown's wg.Wait.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		p.release(eventID)
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.stats.Active, 1)
	p.mu.Unlock()

	go p.execute(context.WithoutCancel(ctx), eventID, run)
	return nil
}

func (p *RunPool) execute(ctx context.Context, eventID string, run func(ctx context.Context) error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.stats.Panics, 1)
			err = fmt.Errorf("run panic: %v", r)
		}
		if err != nil {
			atomic.AddInt64(&p.stats.Failed, 1)
		} else {
			atomic.AddInt64(&p.stats.Completed, 1)
		}
		atomic.AddInt64(&p.stats.Active, -1)
		<-p.slots
		p.release(eventID)
		if p.onFinish != nil {
			p.onFinish(eventID, err)
		}
		p.wg.Done()
	}()
	err = run(ctx)
}

func (p *RunPool) reserve(eventID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolShutdown
	}
	if _, ok := p.inFlight[eventID]; ok {
		return ErrRunInFlight
	}
	p.inFlight[eventID] = struct{}{}
	return nil
}

func (p *RunPool) release(eventID string) {
	p.mu.Lock()
	delete(p.inFlight, eventID)
	p.mu.Unlock()
}

// Running reports whether eventID's run is waiting for a slot or executing.
func (p *RunPool) Running(eventID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[eventID]
	return ok
}

// Wait blocks until every started run has finished.
func (p *RunPool) Wait() {
	p.wg.Wait()
}

// Shutdown refuses new runs and waits for the ones in flight.
func (p *RunPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns a snapshot of the run counters.
func (p *RunPool) Stats() RunStats {
	return RunStats{
		Active:    atomic.LoadInt64(&p.stats.Active),
		Completed: atomic.LoadInt64(&p.stats.Completed),
		Failed:    atomic.LoadInt64(&p.stats.Failed),
		Panics:    atomic.LoadInt64(&p.stats.Panics),
	}
}
