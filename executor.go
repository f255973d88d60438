package cardcache

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// executor caps simultaneously executing store-touching tasks with one
// weighted semaphore. Excess submissions queue as goroutines blocked on
// admission; no fairness guarantee. Coordination tasks that only fan
// out and wait run ungated via Spawn, so a blocked parent never holds a
// permit its children need — the store-side parallelism ceiling stays
// at the configured bound at every nesting level.
type executor struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup
}

// newExecutor builds an executor admitting at most bound tasks.
// bound <= 0 selects 4x GOMAXPROCS.
func newExecutor(bound int) *executor {
	if bound <= 0 {
		bound = 4 * runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &executor{
		sem:    semaphore.NewWeighted(int64(bound)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit queues task behind the admission gate. Queued-but-unstarted
// tasks are abandoned when the executor closes; tasks that acquired a
// permit run to completion.
func (e *executor) Submit(task func()) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.sem.Acquire(e.ctx, 1); err != nil {
			return // closed while queued
		}
		defer e.sem.Release(1)
		task()
	}()
	return nil
}

// Spawn runs an ungated coordination task tracked for shutdown.
func (e *executor) Spawn(task func()) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		task()
	}()
	return nil
}

// closing is signalled once Close begins; waiters on abandoned work
// must select on it.
func (e *executor) closing() <-chan struct{} { return e.ctx.Done() }

// Close stops admissions, abandons queued work, and waits for started
// work. Idempotent.
func (e *executor) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.cancel()
	e.wg.Wait()
}
