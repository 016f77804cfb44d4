// File: internal/concurrency/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks to a fixed set of worker goroutines through a
// bounded queue. Submit never blocks: a full queue is reported to the caller.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-relay/api"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Executor manages a pool of worker goroutines.
type Executor struct {
	tasks      chan TaskFunc  // bounded queue shared by all workers
	mu         sync.RWMutex   // orders Submit against Close
	closed     bool           // guarded by mu
	wg         sync.WaitGroup // running workers
	numWorkers int
	onPanic    func(any)

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	rejectedTasks  atomic.Int64
	panics         atomic.Int64
}

// Option customizes an Executor.
type Option func(*Executor)

// WithPanicHandler receives the value of every recovered task panic.
func WithPanicHandler(fn func(any)) Option {
	return func(e *Executor) {
		e.onPanic = fn
	}
}

// NewExecutor starts numWorkers workers sharing a queue of queueSize tasks.
// numWorkers <= 0 defaults to 2*runtime.NumCPU(); queueSize < 0 means 0.
func NewExecutor(numWorkers, queueSize int, opts ...Option) *Executor {
	if numWorkers <= 0 {
		numWorkers = 2 * runtime.NumCPU()
	}
	if queueSize < 0 {
		queueSize = 0
	}
	e := &Executor{
		tasks:      make(chan TaskFunc, queueSize),
		numWorkers: numWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		w := &worker{id: i, executor: e}
		go w.run()
	}
	return e
}

// Submit hands task to an idle worker or queues it. It returns
// api.ErrExecutorClosed after Close and api.ErrExecutorFull when every worker
// is busy and the queue is at capacity.
func (e *Executor) Submit(task TaskFunc) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return api.ErrExecutorClosed
	}
	select {
	case e.tasks <- task:
		e.totalTasks.Add(1)
		return nil
	default:
		e.rejectedTasks.Add(1)
		return api.ErrExecutorFull
	}
}

// NumWorkers returns the number of workers.
func (e *Executor) NumWorkers() int {
	return e.numWorkers
}

// Close stops accepting tasks, lets the workers finish what is queued and
// waits for them to exit. It is idempotent.
func (e *Executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.tasks)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	total := e.totalTasks.Load()
	completed := e.completedTasks.Load()
	return map[string]int64{
		"total_tasks":     total,
		"completed_tasks": completed,
		"pending_tasks":   total - completed,
		"rejected_tasks":  e.rejectedTasks.Load(),
		"panics":          e.panics.Load(),
		"num_workers":     int64(e.numWorkers),
	}
}

// worker represents a single executor goroutine.
type worker struct {
	id       int
	executor *Executor
}

// run executes tasks until the queue is closed and drained.
func (w *worker) run() {
	defer w.executor.wg.Done()
	for task := range w.executor.tasks {
		w.executeTask(task)
	}
}

// executeTask runs the task and updates statistics, recovering from panics.
func (w *worker) executeTask(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			w.executor.panics.Add(1)
			if w.executor.onPanic != nil {
				w.executor.onPanic(r)
			}
		}
		w.executor.completedTasks.Add(1)
	}()
	task()
}
