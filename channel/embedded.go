// File: channel/embedded.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EmbeddedChannel runs a pipeline without sockets or a loop goroutine: the
// caller's goroutine plays the loop. Inbound data is injected with
// WriteInbound and everything the transport would have sent is collected
// for ReadOutbound. Used to exercise handlers deterministically.

package channel

import (
	"net"
	"sync"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/pool"
	"github.com/momentics/hioload-net/reactor"
)

type embeddedAddr struct{}

func (embeddedAddr) Network() string { return "embedded" }
func (embeddedAddr) String() string  { return "embedded" }

// embeddedLoop queues tasks until RunPendingTasks.
type embeddedLoop struct {
	mu    sync.Mutex
	tasks []func()
}

func (l *embeddedLoop) Execute(task func()) error {
	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()
	return nil
}

func (l *embeddedLoop) Schedule(delay time.Duration, task func()) *time.Timer {
	return time.AfterFunc(delay, func() { _ = l.Execute(task) })
}

func (l *embeddedLoop) InEventLoop() bool { return true }

func (l *embeddedLoop) Register(int, reactor.EventType, concurrency.Registration) error { return nil }
func (l *embeddedLoop) Modify(int, reactor.EventType) error                             { return nil }
func (l *embeddedLoop) Deregister(int) error                                            { return nil }

func (l *embeddedLoop) run() int {
	ran := 0
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		l.mu.Unlock()
		if len(tasks) == 0 {
			return ran
		}
		for _, t := range tasks {
			t()
			ran++
		}
	}
}

// embeddedSocket records outbound bytes. WriteLimit caps bytes accepted per
// writev to simulate a congested peer; zero means unlimited.
type embeddedSocket struct {
	out        []byte
	writeLimit int
	writeErr   error
	closed     bool
}

func (s *embeddedSocket) fd() int                  { return -1 }
func (s *embeddedSocket) read([]byte) (int, error) { return 0, errWouldBlock }
func (s *embeddedSocket) connectError() error      { return nil }
func (s *embeddedSocket) localAddr() net.Addr      { return embeddedAddr{} }
func (s *embeddedSocket) remoteAddr() net.Addr     { return embeddedAddr{} }

func (s *embeddedSocket) close() error {
	s.closed = true
	return nil
}

func (s *embeddedSocket) writev(iov [][]byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	budget := s.writeLimit
	n := 0
	for _, p := range iov {
		if s.writeLimit > 0 && budget < len(p) {
			s.out = append(s.out, p[:budget]...)
			n += budget
			break
		}
		s.out = append(s.out, p...)
		n += len(p)
		budget -= len(p)
	}
	if n == 0 {
		return 0, errWouldBlock
	}
	return n, nil
}

// EmbeddedChannel is a Channel over an in-memory transport.
type EmbeddedChannel struct {
	*Channel
	loop   *embeddedLoop
	sock   *embeddedSocket
	errsMu sync.Mutex
	errs   []error
}

// NewEmbeddedChannel builds an active channel with handlers installed.
func NewEmbeddedChannel(handlers ...Handler) *EmbeddedChannel {
	return NewEmbeddedChannelWithOptions(Options{}, handlers...)
}

// NewEmbeddedChannelWithOptions is NewEmbeddedChannel with explicit options.
func NewEmbeddedChannelWithOptions(opts Options, handlers ...Handler) *EmbeddedChannel {
	e := &EmbeddedChannel{loop: &embeddedLoop{}, sock: &embeddedSocket{}}
	e.Channel = newChannel(e.loop, e.sock, opts)
	e.Channel.onUnhandled = func(err error) {
		e.errsMu.Lock()
		e.errs = append(e.errs, err)
		e.errsMu.Unlock()
	}
	e.Channel.Register(func(ch *Channel) error {
		return ch.Pipeline().AddLast(handlers...)
	}, false)
	return e
}

// WriteInbound feeds messages through the pipeline as if read from the
// socket. []byte values are copied into buffers from the channel allocator.
func (e *EmbeddedChannel) WriteInbound(msgs ...any) error {
	for _, m := range msgs {
		if b, ok := m.([]byte); ok {
			buf, err := pool.Wrap(e.alloc, b)
			if err != nil {
				return err
			}
			m = buf
			e.bytesRead.Add(uint64(len(b)))
			e.reads.Add(1)
		}
		if e.State() != api.StateActive {
			pool.SafeRelease(m)
			continue
		}
		e.pipeline.FireRead(m)
	}
	e.RunPendingTasks()
	return nil
}

// FireInboundError raises err at the head of the pipeline.
func (e *EmbeddedChannel) FireInboundError(err error) {
	e.pipeline.FireError(err)
	e.RunPendingTasks()
}

// ReadOutbound returns and clears the bytes written so far.
func (e *EmbeddedChannel) ReadOutbound() []byte {
	out := e.sock.out
	e.sock.out = nil
	return out
}

// SetWriteLimit caps bytes accepted per socket write; zero lifts the cap.
func (e *EmbeddedChannel) SetWriteLimit(n int) { e.sock.writeLimit = n }

// SetWriteError makes subsequent socket writes fail with err.
func (e *EmbeddedChannel) SetWriteError(err error) { e.sock.writeErr = err }

// SignalWritable simulates the socket becoming writable again.
func (e *EmbeddedChannel) SignalWritable() {
	e.HandleEvent(reactor.EventWrite)
	e.RunPendingTasks()
}

// RunPendingTasks runs tasks queued on the embedded loop, including results
// of Offload and scheduled timers that have fired.
func (e *EmbeddedChannel) RunPendingTasks() int { return e.loop.run() }

// UnhandledErrors returns errors that reached the pipeline tail.
func (e *EmbeddedChannel) UnhandledErrors() []error {
	e.errsMu.Lock()
	defer e.errsMu.Unlock()
	return append([]error(nil), e.errs...)
}

// SocketClosed reports whether the transport was closed.
func (e *EmbeddedChannel) SocketClosed() bool { return e.sock.closed }

// Finish closes the channel, forcing out anything still queued, and
// reports whether the close completed.
func (e *EmbeddedChannel) Finish() bool {
	e.Close()
	e.RunPendingTasks()
	if !e.closeFuture.IsDone() {
		e.closeNow(ErrCloseTimeout)
	}
	return e.closeFuture.IsDone()
}
