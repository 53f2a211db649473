// File: channel/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/pool"
)

// Context binds a handler to its position in one pipeline generation.
// Fire methods forward to the next handler with the matching capability;
// outbound methods travel from this position toward the transport.
type Context struct {
	entry    *entry
	pipeline *Pipeline
	gen      *generation
	index    int
}

// Name returns the handler's pipeline name.
func (c *Context) Name() string { return c.entry.name }

// Handler returns the handler bound to this context.
func (c *Context) Handler() Handler { return c.entry.handler }

// Pipeline returns the owning pipeline.
func (c *Context) Pipeline() *Pipeline { return c.pipeline }

// Channel returns the owning channel.
func (c *Context) Channel() *Channel { return c.pipeline.ch }

// Alloc returns the channel's allocator.
func (c *Context) Alloc() *pool.Allocator { return c.pipeline.ch.alloc }

// IsRemoved reports whether the handler has left the pipeline.
func (c *Context) IsRemoved() bool { return c.entry.removed.Load() }

// FireActive forwards an active event.
func (c *Context) FireActive() { c.pipeline.invokeActive(c.gen, c.index+1) }

// FireInactive forwards an inactive event.
func (c *Context) FireInactive() { c.pipeline.invokeInactive(c.gen, c.index+1) }

// FireRead forwards msg together with its ownership.
func (c *Context) FireRead(msg any) { c.pipeline.invokeRead(c.gen, c.index+1, msg) }

// FireError forwards err.
func (c *Context) FireError(err error) { c.pipeline.invokeError(c.gen, c.index+1, err) }

// Write queues msg toward the transport and returns its completion handle.
func (c *Context) Write(msg any) *Future {
	f := NewFuture(c.pipeline.ch)
	c.WritePromise(msg, f)
	return f
}

// WritePromise queues msg and completes f once it has been written.
func (c *Context) WritePromise(msg any, f *Future) {
	ch := c.pipeline.ch
	if ch.inLoop() {
		c.pipeline.invokeWrite(c.gen, c.index-1, msg, f)
		return
	}
	if err := ch.loop.Execute(func() { c.pipeline.invokeWrite(c.gen, c.index-1, msg, f) }); err != nil {
		pool.SafeRelease(msg)
		f.Fail(api.ErrChannelClosed)
	}
}

// Flush pushes queued writes to the socket.
func (c *Context) Flush() { c.pipeline.ch.Flush() }

// WriteAndFlush is Write followed by Flush.
func (c *Context) WriteAndFlush(msg any) *Future {
	f := c.Write(msg)
	c.Flush()
	return f
}

// Close closes the channel.
func (c *Context) Close() *Future { return c.pipeline.ch.Close() }

// Offload runs work on the channel's executor and hands its result to done
// on the channel's loop, so done may touch handler state freely. Without an
// executor work runs on a fresh goroutine.
func (c *Context) Offload(work func() (any, error), done func(ctx *Context, v any, err error)) {
	ch := c.pipeline.ch
	run := func() {
		v, err := work()
		if execErr := ch.loop.Execute(func() { done(c, v, err) }); execErr != nil {
			log.Warn("offload result dropped", "channel", ch.ID(), "error", execErr)
			pool.SafeRelease(v)
		}
	}
	if ch.executor == nil {
		go run()
		return
	}
	if err := ch.executor.Submit(run); err != nil {
		done(c, nil, err)
	}
}
