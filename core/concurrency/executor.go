// File: core/concurrency/executor.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor runs blocking work off the event loops. Tasks land in per-worker
// lock-free queues chosen round-robin, falling back to a shared channel when
// a local queue is full. Close drains everything already accepted.

package concurrency

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-net/api"
)

// TaskFunc is a unit of offloaded work.
type TaskFunc func()

var _ api.Executor = (*Executor)(nil)

const localQueueSize = 1024

// Executor manages a fixed pool of worker goroutines.
type Executor struct {
	globalQueue chan TaskFunc
	workers     []*worker
	next        atomic.Uint64

	mu     sync.RWMutex // guards closed against in-flight Submit
	closed bool
	wg     sync.WaitGroup
}

// NewExecutor starts numWorkers workers. numWorkers <= 0 uses runtime.NumCPU.
// When pin is true worker i is pinned to CPU i modulo the CPU count.
func NewExecutor(numWorkers int, pin bool) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		globalQueue: make(chan TaskFunc, numWorkers*4),
		workers:     make([]*worker, numWorkers),
	}
	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:         i,
			executor:   e,
			localQueue: NewLockFreeQueue[TaskFunc](localQueueSize),
			wake:       make(chan struct{}, 1),
			stopCh:     make(chan struct{}),
			cpu:        -1,
		}
		if pin {
			w.cpu = i % runtime.NumCPU()
		}
		e.workers[i] = w
		e.wg.Add(1)
		go w.run()
	}
	return e
}

// Submit enqueues a task. It never blocks; a saturated executor reports
// ErrExecutorBusy.
func (e *Executor) Submit(task func()) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}
	w := e.workers[e.next.Add(1)%uint64(len(e.workers))]
	if w.localQueue.Enqueue(task) {
		w.signal()
		return nil
	}
	select {
	case e.globalQueue <- task:
		return nil
	default:
		return ErrExecutorBusy
	}
}

// Close stops accepting tasks, runs what was queued, and waits for workers.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, w := range e.workers {
		close(w.stopCh)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// NumWorkers returns the worker count.
func (e *Executor) NumWorkers() int {
	return len(e.workers)
}

type worker struct {
	id         int
	executor   *Executor
	localQueue *LockFreeQueue[TaskFunc]
	wake       chan struct{}
	stopCh     chan struct{}
	cpu        int
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) run() {
	defer w.executor.wg.Done()
	if w.cpu >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := pinThread(w.cpu); err != nil {
			log.Debug("executor pinning skipped", "worker", w.id, "error", err)
		}
	}
	for {
		if task, ok := w.localQueue.Dequeue(); ok {
			w.safeExecute(task)
			continue
		}
		select {
		case task := <-w.executor.globalQueue:
			w.safeExecute(task)
		case <-w.wake:
		case <-w.stopCh:
			w.drain()
			return
		}
	}
}

// drain runs the remaining local tasks and helps empty the shared queue.
func (w *worker) drain() {
	for {
		if task, ok := w.localQueue.Dequeue(); ok {
			w.safeExecute(task)
			continue
		}
		select {
		case task := <-w.executor.globalQueue:
			w.safeExecute(task)
		default:
			return
		}
	}
}

func (w *worker) safeExecute(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in offloaded task", "worker", w.id, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
