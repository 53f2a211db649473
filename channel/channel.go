// File: channel/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel is one connection owned by exactly one event loop. All socket
// work, pipeline delivery and write queue mutation happen on that loop;
// public methods called from elsewhere hop onto it with Execute.

package channel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/jpillora/sizestr"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/internal/logging"
	"github.com/momentics/hioload-net/pool"
	"github.com/momentics/hioload-net/reactor"
)

var log = logging.For("channel")

// ErrCloseTimeout fails writes still pending when a draining close gives up.
var ErrCloseTimeout = errors.New("close timed out with pending writes")

// Loop is the subset of the event loop a channel relies on.
type Loop interface {
	Execute(task func()) error
	Schedule(delay time.Duration, task func()) *time.Timer
	InEventLoop() bool
	Register(fd int, interest reactor.EventType, reg concurrency.Registration) error
	Modify(fd int, interest reactor.EventType) error
	Deregister(fd int) error
}

var _ Loop = (*concurrency.EventLoop)(nil)

// socket is the byte transport under a channel.
type socket interface {
	fd() int
	read(p []byte) (int, error)
	writev(iov [][]byte) (int, error)
	connectError() error
	close() error
	localAddr() net.Addr
	remoteAddr() net.Addr
}

// errWouldBlock signals an empty socket buffer.
var errWouldBlock = errors.New("would block")

const (
	DefaultReadBufferSize   = 4096
	DefaultMaxReadsPerEvent = 16
	DefaultCloseTimeout     = 5 * time.Second
	maxIovecs               = 64
)

// Options tune a channel.
type Options struct {
	Alloc            *pool.Allocator
	Executor         api.Executor
	ReadBufferSize   int
	MaxReadsPerEvent int
	CloseTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Alloc == nil {
		o.Alloc = pool.Default()
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.MaxReadsPerEvent <= 0 {
		o.MaxReadsPerEvent = DefaultMaxReadsPerEvent
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	return o
}

type pendingWrite struct {
	buf *pool.Buffer
	f   *Future
}

var channelIDs atomic.Uint64

// Channel is a connection with its pipeline.
type Channel struct {
	id       uint64
	loop     Loop
	sock     socket
	pipeline *Pipeline
	alloc    *pool.Allocator
	executor api.Executor
	opts     Options

	state atomic.Int32

	// loop-only fields
	pending       *queue.Queue
	flushed       int
	writeInterest bool
	registered    bool
	closing       bool
	closeTimer    *time.Timer
	connectFuture *Future
	batch         *pool.Batch
	completed     []*Future

	closeFuture *Future
	onUnhandled func(error)

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
	reads        atomic.Uint64
	writes       atomic.Uint64
	openedAt     time.Time
}

func newChannel(loop Loop, sock socket, opts Options) *Channel {
	opts = opts.withDefaults()
	c := &Channel{
		id:       channelIDs.Add(1),
		loop:     loop,
		sock:     sock,
		alloc:    opts.Alloc,
		executor: opts.Executor,
		opts:     opts,
		pending:  queue.New(),
		batch:    pool.NewBatch(maxIovecs),
		openedAt: time.Now(),
	}
	c.pipeline = newPipeline(c)
	c.closeFuture = NewFuture(c)
	return c
}

// ID returns the process-unique channel id.
func (c *Channel) ID() uint64 { return c.id }

// Pipeline returns the channel's handler chain.
func (c *Channel) Pipeline() *Pipeline { return c.pipeline }

// EventLoop returns the owning loop.
func (c *Channel) EventLoop() Loop { return c.loop }

// Alloc returns the allocator used for reads.
func (c *Channel) Alloc() *pool.Allocator { return c.alloc }

// LocalAddr returns the local socket address.
func (c *Channel) LocalAddr() net.Addr { return c.sock.localAddr() }

// RemoteAddr returns the peer address.
func (c *Channel) RemoteAddr() net.Addr { return c.sock.remoteAddr() }

// State returns the lifecycle state.
func (c *Channel) State() api.ChannelState { return api.ChannelState(c.state.Load()) }

// IsActive reports whether the channel is connected and not closing.
func (c *Channel) IsActive() bool { return c.State() == api.StateActive }

// CloseFuture completes once the channel is fully closed.
func (c *Channel) CloseFuture() *Future { return c.closeFuture }

// Stats returns a snapshot of the traffic counters.
func (c *Channel) Stats() api.ChannelStats {
	return api.ChannelStats{
		BytesRead:    c.bytesRead.Load(),
		BytesWritten: c.bytesWritten.Load(),
		Reads:        c.reads.Load(),
		Writes:       c.writes.Load(),
		OpenedAt:     c.openedAt,
	}
}

func (c *Channel) String() string {
	return fmt.Sprintf("channel-%d(%v -> %v)", c.id, c.LocalAddr(), c.RemoteAddr())
}

func (c *Channel) inLoop() bool { return c.loop.InEventLoop() }

// runOnLoop runs fn on the owning loop, inline when already there. It
// reports false when the loop refused the task.
func (c *Channel) runOnLoop(fn func()) bool {
	if c.inLoop() {
		fn()
		return true
	}
	if err := c.loop.Execute(fn); err != nil {
		log.Debug("loop refused channel task", "channel", c.id, "error", err)
		return false
	}
	return true
}

// Register builds the pipeline with init and registers the socket with the
// loop. For an accepted socket the channel turns active; for a socket with
// a connect in flight it waits for writability, and the returned future
// completes when the connection is established.
func (c *Channel) Register(init Initializer, connecting bool) *Future {
	f := NewFuture(c)
	ok := c.runOnLoop(func() {
		if init != nil {
			if err := init(c); err != nil {
				f.Fail(err)
				c.closeNow(err)
				return
			}
		}
		interest := reactor.EventRead
		if connecting {
			interest = reactor.EventWrite
			c.state.Store(int32(api.StateConnecting))
			c.connectFuture = f
		}
		if c.sock.fd() >= 0 {
			if err := c.loop.Register(c.sock.fd(), interest, c); err != nil {
				f.Fail(err)
				c.closeNow(err)
				return
			}
			c.registered = true
		}
		if !connecting {
			c.activate()
			f.Succeed()
		}
	})
	if !ok {
		_ = c.sock.close()
		c.state.Store(int32(api.StateClosed))
		f.Fail(api.ErrLoopShutdown)
		c.closeFuture.Succeed()
	}
	return f
}

func (c *Channel) activate() {
	c.state.Store(int32(api.StateActive))
	c.openedAt = time.Now()
	c.pipeline.FireActive()
}

// HandleEvent implements concurrency.Registration.
func (c *Channel) HandleEvent(ev reactor.EventType) {
	if c.State() == api.StateConnecting {
		if ev&(reactor.EventWrite|reactor.EventError) != 0 {
			c.finishConnect()
		}
		return
	}
	if ev&(reactor.EventRead|reactor.EventError) != 0 && c.State() == api.StateActive {
		c.readLoop()
	}
	if ev&reactor.EventWrite != 0 && c.State() != api.StateClosed {
		armed := c.writeInterest
		c.writeInterest = false
		c.flushPending()
		if armed && !c.writeInterest {
			_ = c.updateInterest()
		}
		return
	}
	if ev&reactor.EventError != 0 && c.State() == api.StateClosing {
		c.closeNow(&api.TransportError{Op: "close", Err: io.ErrUnexpectedEOF})
	}
}

// ForceClose implements concurrency.Registration.
func (c *Channel) ForceClose() {
	c.closeNow(api.ErrLoopShutdown)
}

func (c *Channel) finishConnect() {
	f := c.connectFuture
	c.connectFuture = nil
	if err := c.sock.connectError(); err != nil {
		terr := &api.TransportError{Op: "connect", Err: err}
		if f != nil {
			f.Fail(terr)
		}
		c.closeNow(terr)
		return
	}
	if err := c.updateInterest(); err != nil {
		if f != nil {
			f.Fail(err)
		}
		c.closeNow(err)
		return
	}
	c.activate()
	if f != nil {
		f.Succeed()
	}
	c.flushPending()
}

func (c *Channel) readLoop() {
	for i := 0; i < c.opts.MaxReadsPerEvent && c.State() == api.StateActive; i++ {
		buf, err := c.alloc.Allocate(c.opts.ReadBufferSize)
		if err != nil {
			c.pipeline.FireError(err)
			return
		}
		space := buf.Writable()
		if len(space) > c.opts.ReadBufferSize {
			space = space[:c.opts.ReadBufferSize]
		}
		n, err := c.sock.read(space)
		if n > 0 {
			_ = buf.Commit(n)
			c.bytesRead.Add(uint64(n))
			c.reads.Add(1)
			c.pipeline.FireRead(buf)
		} else {
			_ = buf.Release()
		}
		switch {
		case err == nil:
			if n < len(space) {
				return
			}
		case errors.Is(err, errWouldBlock):
			return
		case errors.Is(err, io.EOF):
			// peer finished sending; queued replies still drain
			c.beginClose()
			return
		default:
			c.pipeline.FireError(&api.TransportError{Op: "read", Err: err})
			c.closeNow(err)
			return
		}
	}
}

// Write queues msg without flushing. It never blocks.
func (c *Channel) Write(msg any) *Future {
	f := NewFuture(c)
	if !c.runOnLoop(func() { c.pipeline.Write(msg, f) }) {
		pool.SafeRelease(msg)
		f.Fail(api.ErrChannelClosed)
	}
	return f
}

// Flush pushes every queued write to the socket.
func (c *Channel) Flush() {
	c.runOnLoop(func() {
		c.flushed = c.pending.Length()
		c.flushPending()
	})
}

// WriteAndFlush is Write followed by Flush.
func (c *Channel) WriteAndFlush(msg any) *Future {
	f := c.Write(msg)
	c.Flush()
	return f
}

// transportWrite is the head of the outbound path.
func (c *Channel) transportWrite(msg any, f *Future) {
	var buf *pool.Buffer
	switch m := msg.(type) {
	case *pool.Buffer:
		buf = m
	case []byte:
		b, err := pool.Wrap(c.alloc, m)
		if err != nil {
			f.Fail(err)
			return
		}
		buf = b
	default:
		pool.SafeRelease(msg)
		f.Fail(fmt.Errorf("%T: %w", msg, api.ErrUnsupportedMessage))
		return
	}
	if c.closing || c.State() >= api.StateClosing || c.State() == api.StateIdle {
		_ = buf.Release()
		f.Fail(api.ErrChannelClosed)
		return
	}
	c.pending.Add(&pendingWrite{buf: buf, f: f})
}

// flushPending writes flushed entries with vectored I/O until the socket
// pushes back. Completed writes succeed in submission order.
func (c *Channel) flushPending() {
	if c.writeInterest || c.State() == api.StateConnecting || c.State() == api.StateClosed {
		return
	}
	for c.flushed > 0 {
		c.batch.Reset()
		for i := 0; i < c.flushed && !c.batch.Full(); i++ {
			c.batch.Append(c.pending.Get(i).(*pendingWrite).buf)
		}
		n := 0
		if c.batch.Size() > 0 {
			var err error
			n, err = c.sock.writev(c.batch.Iovecs())
			if err != nil && !errors.Is(err, errWouldBlock) {
				c.batch.Reset()
				c.notifyCompleted()
				terr := &api.TransportError{Op: "write", Err: err}
				c.pipeline.FireError(terr)
				c.closeNow(terr)
				return
			}
		}
		if n > 0 {
			c.bytesWritten.Add(uint64(n))
		}
		progressed := c.consume(n)
		c.batch.Reset()
		if !progressed && c.flushed > 0 {
			c.setWriteInterest(true)
			break
		}
	}
	c.notifyCompleted()
	if c.flushed == 0 && c.writeInterest {
		c.setWriteInterest(false)
	}
	if c.closing && c.pending.Length() == 0 {
		c.closeNow(nil)
	}
}

// consume advances the head entries over n written bytes and reports
// whether the whole batch was written.
func (c *Channel) consume(n int) bool {
	for count := c.batch.Len(); count > 0; count-- {
		pw := c.pending.Peek().(*pendingWrite)
		rem := pw.buf.ReadableBytes()
		if n < rem {
			_ = pw.buf.Skip(n)
			return false
		}
		n -= rem
		_ = pw.buf.Skip(rem)
		c.pending.Remove()
		c.flushed--
		c.writes.Add(1)
		_ = pw.buf.Release()
		c.completed = append(c.completed, pw.f)
	}
	return true
}

func (c *Channel) notifyCompleted() {
	done := c.completed
	c.completed = nil
	for _, f := range done {
		f.Succeed()
	}
}

func (c *Channel) setWriteInterest(on bool) {
	if c.writeInterest == on {
		return
	}
	c.writeInterest = on
	if err := c.updateInterest(); err != nil {
		log.Warn("interest update failed", "channel", c.id, "error", err)
	}
}

func (c *Channel) updateInterest() error {
	if !c.registered {
		return nil
	}
	interest := reactor.EventRead
	if c.closing {
		interest = 0
	}
	if c.writeInterest {
		interest |= reactor.EventWrite
	}
	return c.loop.Modify(c.sock.fd(), interest)
}

// Close starts an orderly close: everything already queued is flushed and
// the close completes once the queue drains or the close timeout expires.
// Later writes fail with api.ErrChannelClosed. Repeated calls return the
// same future.
func (c *Channel) Close() *Future {
	c.runOnLoop(c.beginClose)
	return c.closeFuture
}

func (c *Channel) beginClose() {
	if c.closing || c.State() >= api.StateClosing {
		return
	}
	if c.State() != api.StateActive {
		c.closeNow(nil)
		return
	}
	c.closing = true
	c.state.Store(int32(api.StateClosing))
	_ = c.updateInterest()
	c.flushed = c.pending.Length()
	c.flushPending()
	if c.State() == api.StateClosed {
		return
	}
	c.closeTimer = c.loop.Schedule(c.opts.CloseTimeout, func() {
		if c.State() != api.StateClosed {
			log.Warn("close timed out, dropping pending writes", "channel", c.id, "pending", c.pending.Length())
			c.closeNow(ErrCloseTimeout)
		}
	})
}

// closeNow tears the channel down immediately. Safe to call repeatedly.
func (c *Channel) closeNow(cause error) {
	prev := c.State()
	if prev == api.StateClosed {
		return
	}
	c.state.Store(int32(api.StateClosed))
	if c.closeTimer != nil {
		c.closeTimer.Stop()
		c.closeTimer = nil
	}
	if c.registered {
		if err := c.loop.Deregister(c.sock.fd()); err != nil {
			log.Debug("deregister failed", "channel", c.id, "error", err)
		}
		c.registered = false
	}
	if err := c.sock.close(); err != nil {
		log.Debug("socket close failed", "channel", c.id, "error", err)
	}

	failWith := api.ErrChannelClosed
	if cause != nil {
		failWith = fmt.Errorf("%w: %w", api.ErrChannelClosed, cause)
	}
	c.notifyCompleted()
	for c.pending.Length() > 0 {
		pw := c.pending.Remove().(*pendingWrite)
		_ = pw.buf.Release()
		pw.f.Fail(failWith)
	}
	c.flushed = 0
	if c.connectFuture != nil {
		c.connectFuture.Fail(failWith)
		c.connectFuture = nil
	}

	if prev == api.StateActive || prev == api.StateClosing {
		c.pipeline.FireInactive()
	}
	c.pipeline.teardown()
	c.closeFuture.Succeed()

	st := c.Stats()
	log.Debug("channel closed", "channel", c.id,
		"read", sizestr.ToString(int64(st.BytesRead)),
		"written", sizestr.ToString(int64(st.BytesWritten)),
		"lifetime", time.Since(st.OpenedAt).Round(time.Millisecond))
}

// unhandledError applies the tail policy: log and close.
func (c *Channel) unhandledError(err error) {
	if c.onUnhandled != nil {
		c.onUnhandled(err)
	}
	if c.State() == api.StateClosed {
		return
	}
	log.Warn("unhandled error reached pipeline tail, closing", "channel", c.id, "error", err)
	c.Close()
}
