// File: core/concurrency/eventloop.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop is a single-goroutine reactor. It owns a readiness poller and
// every descriptor registered with it, dispatches ready descriptors to their
// Registration, and runs tasks handed off from other goroutines. The loop
// goroutine is locked to its OS thread; that thread id is how InEventLoop
// recognises loop-affine callers.

package concurrency

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/logging"
	"github.com/momentics/hioload-net/reactor"
)

var log = logging.For("eventloop")

// ErrLoopStarted is returned when Run is called on a loop that already ran.
var ErrLoopStarted = errors.New("event loop already started")

// Registration receives readiness notifications for one descriptor.
type Registration interface {
	// HandleEvent is invoked on the loop goroutine for every readiness event.
	HandleEvent(events reactor.EventType)

	// ForceClose is invoked on the loop goroutine during shutdown for every
	// registration still present. Implementations must deregister themselves.
	ForceClose()
}

const (
	loopIdle int32 = iota
	loopRunning
	loopShuttingDown
	loopTerminated
)

const (
	defaultMaxEvents    = 256
	defaultInboxSize    = 4096
	maxTasksPerIterate  = 1024
	defaultLoopNoCPUPin = -1
)

var loopIDs atomic.Int32

var _ api.GracefulShutdown = (*EventLoop)(nil)

// EventLoop multiplexes I/O readiness for a disjoint set of descriptors.
type EventLoop struct {
	id        int
	poller    reactor.Poller
	maxEvents int
	cpu       int

	inbox      *LockFreeQueue[func()]
	overflowMu sync.Mutex
	overflow   []func()
	spilled    atomic.Int32 // len(overflow), read without the lock
	submitMu   sync.RWMutex // excludes task submission from the final drain

	regs map[int]Registration // loop goroutine only

	state   atomic.Int32
	tid     atomic.Int64
	started chan struct{}
	doneCh  chan struct{}
}

// LoopOption customises an EventLoop.
type LoopOption func(*EventLoop)

// WithMaxEvents bounds the number of readiness events handled per poll.
func WithMaxEvents(n int) LoopOption {
	return func(l *EventLoop) {
		if n > 0 {
			l.maxEvents = n
		}
	}
}

// WithInboxSize sets the capacity of the lock-free task inbox.
func WithInboxSize(n int) LoopOption {
	return func(l *EventLoop) {
		if n > 0 {
			l.inbox = NewLockFreeQueue[func()](n)
		}
	}
}

// WithCPU pins the loop thread to the given CPU.
func WithCPU(cpu int) LoopOption {
	return func(l *EventLoop) {
		l.cpu = cpu
	}
}

// WithPoller injects a poller backend.
func WithPoller(p reactor.Poller) LoopOption {
	return func(l *EventLoop) {
		l.poller = p
	}
}

// NewEventLoop creates an idle loop. Call Run to start it.
func NewEventLoop(opts ...LoopOption) (*EventLoop, error) {
	l := &EventLoop{
		id:        int(loopIDs.Add(1)),
		maxEvents: defaultMaxEvents,
		cpu:       defaultLoopNoCPUPin,
		regs:      make(map[int]Registration),
		started:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.inbox == nil {
		l.inbox = NewLockFreeQueue[func()](defaultInboxSize)
	}
	if l.poller == nil {
		p, err := reactor.NewPoller()
		if err != nil {
			return nil, err
		}
		l.poller = p
	}
	return l, nil
}

// ID returns the process-unique loop number.
func (l *EventLoop) ID() int { return l.id }

func (l *EventLoop) String() string { return fmt.Sprintf("eventloop-%d", l.id) }

// InEventLoop reports whether the caller runs on this loop's goroutine.
func (l *EventLoop) InEventLoop() bool {
	tid := l.tid.Load()
	return tid != 0 && int64(currentThreadID()) == tid
}

// IsShuttingDown reports whether ShutdownGracefully has been called.
func (l *EventLoop) IsShuttingDown() bool {
	return l.state.Load() >= loopShuttingDown
}

// Started is closed once the loop goroutine is running.
func (l *EventLoop) Started() <-chan struct{} { return l.started }

// Terminated is closed once the loop has fully stopped.
func (l *EventLoop) Terminated() <-chan struct{} { return l.doneCh }

// Execute hands task to the loop goroutine. It never blocks. Once shutdown
// has begun only the loop itself may still enqueue work.
func (l *EventLoop) Execute(task func()) error {
	if task == nil {
		return nil
	}
	l.submitMu.RLock()
	defer l.submitMu.RUnlock()

	switch s := l.state.Load(); {
	case s == loopTerminated:
		return ErrLoopShutdown
	case s == loopShuttingDown && !l.InEventLoop():
		return ErrLoopShutdown
	}
	l.enqueue(task)
	return l.poller.Wakeup()
}

// enqueue keeps submission order: once a task has spilled into overflow,
// later tasks follow it there until the loop drains the spill.
func (l *EventLoop) enqueue(task func()) {
	if l.spilled.Load() == 0 && l.inbox.Enqueue(task) {
		return
	}
	l.overflowMu.Lock()
	if len(l.overflow) > 0 || !l.inbox.Enqueue(task) {
		l.overflow = append(l.overflow, task)
		l.spilled.Store(int32(len(l.overflow)))
	}
	l.overflowMu.Unlock()
}

// Schedule runs task on the loop after delay. The returned timer may be
// stopped to cancel it.
func (l *EventLoop) Schedule(delay time.Duration, task func()) *time.Timer {
	return time.AfterFunc(delay, func() {
		if err := l.Execute(task); err != nil {
			log.Debug("scheduled task dropped", "loop", l.id, "error", err)
		}
	})
}

// Register adds fd to the poller and binds it to reg. Loop goroutine only.
func (l *EventLoop) Register(fd int, interest reactor.EventType, reg Registration) error {
	if !l.InEventLoop() {
		return ErrNotInLoop
	}
	if l.IsShuttingDown() {
		return ErrLoopShutdown
	}
	if err := l.poller.Add(fd, interest); err != nil {
		return err
	}
	l.regs[fd] = reg
	return nil
}

// Modify changes the interest set of a registered fd. Loop goroutine only.
func (l *EventLoop) Modify(fd int, interest reactor.EventType) error {
	if !l.InEventLoop() {
		return ErrNotInLoop
	}
	return l.poller.Modify(fd, interest)
}

// Deregister removes fd from the loop. Loop goroutine only.
func (l *EventLoop) Deregister(fd int) error {
	if !l.InEventLoop() {
		return ErrNotInLoop
	}
	if _, ok := l.regs[fd]; !ok {
		return nil
	}
	delete(l.regs, fd)
	return l.poller.Delete(fd)
}

// NumRegistrations returns the number of descriptors owned by the loop.
// Loop goroutine only.
func (l *EventLoop) NumRegistrations() int {
	return len(l.regs)
}

// Run drives the loop until ctx is cancelled or ShutdownGracefully is
// called. The goroutine calling Run becomes the loop goroutine.
func (l *EventLoop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(loopIdle, loopRunning) {
		return ErrLoopStarted
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.tid.Store(int64(currentThreadID()))
	if l.cpu >= 0 {
		if err := pinThread(l.cpu); err != nil {
			log.Warn("cpu pinning failed", "loop", l.id, "cpu", l.cpu, "error", err)
		}
	}
	close(l.started)

	stop := context.AfterFunc(ctx, func() { _ = l.beginShutdown() })
	defer stop()

	log.Debug("event loop started", "loop", l.id)
	events := make([]reactor.Event, l.maxEvents)
	for {
		timeout := -1
		if l.hasTasks() || l.IsShuttingDown() {
			timeout = 0
		}
		n, err := l.poller.Wait(events, timeout)
		if err != nil {
			log.Error("poll failed", "loop", l.id, "error", err)
			l.terminate()
			return err
		}
		for i := 0; i < n; i++ {
			l.dispatch(events[i])
		}
		l.runTasks(maxTasksPerIterate)

		if l.IsShuttingDown() {
			l.terminate()
			return nil
		}
	}
}

func (l *EventLoop) dispatch(ev reactor.Event) {
	reg, ok := l.regs[ev.Fd]
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in registration", "loop", l.id, "fd", ev.Fd, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	reg.HandleEvent(ev.Events)
}

func (l *EventLoop) hasTasks() bool {
	return l.inbox.Len() > 0 || l.spilled.Load() > 0
}

// runTasks executes at most limit queued tasks; limit <= 0 drains fully.
func (l *EventLoop) runTasks(limit int) int {
	ran := 0
	for limit <= 0 || ran < limit {
		task, ok := l.inbox.Dequeue()
		if !ok {
			l.overflowMu.Lock()
			if len(l.overflow) == 0 {
				l.overflowMu.Unlock()
				break
			}
			task = l.overflow[0]
			l.overflow[0] = nil
			l.overflow = l.overflow[1:]
			l.spilled.Store(int32(len(l.overflow)))
			l.overflowMu.Unlock()
		}
		l.safeExecute(task)
		ran++
	}
	return ran
}

func (l *EventLoop) safeExecute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in loop task", "loop", l.id, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}

func (l *EventLoop) beginShutdown() error {
	for {
		switch s := l.state.Load(); s {
		case loopIdle:
			if l.state.CompareAndSwap(loopIdle, loopTerminated) {
				l.submitMu.Lock()
				l.submitMu.Unlock()
				_ = l.poller.Close()
				close(l.doneCh)
				return nil
			}
		case loopRunning:
			if l.state.CompareAndSwap(loopRunning, loopShuttingDown) {
				return l.poller.Wakeup()
			}
		default:
			return nil
		}
	}
}

// terminate runs on the loop goroutine: it closes every remaining
// registration, drains tasks they produced, and releases the poller.
func (l *EventLoop) terminate() {
	l.state.Store(loopShuttingDown)
	l.runTasks(0)
	for fd, reg := range l.snapshotRegs() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic closing registration", "loop", l.id, "fd", fd, "panic", r)
				}
			}()
			reg.ForceClose()
		}()
		if _, still := l.regs[fd]; still {
			_ = l.Deregister(fd)
		}
	}
	l.runTasks(0)

	l.submitMu.Lock()
	l.state.Store(loopTerminated)
	l.submitMu.Unlock()
	l.runTasks(0)

	if err := l.poller.Close(); err != nil {
		log.Warn("poller close failed", "loop", l.id, "error", err)
	}
	log.Debug("event loop terminated", "loop", l.id)
	close(l.doneCh)
}

func (l *EventLoop) snapshotRegs() map[int]Registration {
	out := make(map[int]Registration, len(l.regs))
	for fd, reg := range l.regs {
		out[fd] = reg
	}
	return out
}

// ShutdownGracefully stops accepting new registrations and tasks, lets the
// current dispatch finish, closes every registration, and returns once the
// loop has terminated. It is idempotent. Called from the loop goroutine it
// only initiates shutdown.
func (l *EventLoop) ShutdownGracefully() error {
	if err := l.beginShutdown(); err != nil {
		return err
	}
	if l.InEventLoop() {
		return nil
	}
	<-l.doneCh
	return nil
}
