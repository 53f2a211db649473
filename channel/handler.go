// File: channel/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handlers are plain values that implement any subset of the capability
// interfaces below. An event reaching a handler without the matching
// capability passes through to the next handler untouched. A handler that
// does implement a capability must forward explicitly through its Context,
// otherwise the event stops there.

package channel

// Handler is any value placed in a pipeline.
type Handler any

// ActiveHandler is notified when the channel becomes active.
type ActiveHandler interface {
	ChannelActive(ctx *Context)
}

// InactiveHandler is notified once when the channel becomes inactive.
type InactiveHandler interface {
	ChannelInactive(ctx *Context)
}

// ReadHandler receives inbound messages. A handler that neither forwards
// nor retains a reference-counted message must release it.
type ReadHandler interface {
	ChannelRead(ctx *Context, msg any)
}

// ErrorHandler receives errors raised inbound.
type ErrorHandler interface {
	ErrorCaught(ctx *Context, err error)
}

// WriteHandler intercepts outbound writes on their way to the transport.
type WriteHandler interface {
	Write(ctx *Context, msg any, f *Future)
}

// AddedHandler is told when it has been inserted into a pipeline.
type AddedHandler interface {
	HandlerAdded(ctx *Context)
}

// RemovedHandler is told when it has been removed, including on channel
// teardown. Per-handler state should be released here.
type RemovedHandler interface {
	HandlerRemoved(ctx *Context)
}

// Initializer populates the pipeline of a freshly created channel.
type Initializer func(ch *Channel) error

// HandlerFuncs adapts closures to the inbound capabilities. Nil fields
// forward. Use it by pointer.
type HandlerFuncs struct {
	OnActive   func(ctx *Context)
	OnInactive func(ctx *Context)
	OnRead     func(ctx *Context, msg any)
	OnError    func(ctx *Context, err error)
}

func (h *HandlerFuncs) ChannelActive(ctx *Context) {
	if h.OnActive == nil {
		ctx.FireActive()
		return
	}
	h.OnActive(ctx)
}

func (h *HandlerFuncs) ChannelInactive(ctx *Context) {
	if h.OnInactive == nil {
		ctx.FireInactive()
		return
	}
	h.OnInactive(ctx)
}

func (h *HandlerFuncs) ChannelRead(ctx *Context, msg any) {
	if h.OnRead == nil {
		ctx.FireRead(msg)
		return
	}
	h.OnRead(ctx, msg)
}

func (h *HandlerFuncs) ErrorCaught(ctx *Context, err error) {
	if h.OnError == nil {
		ctx.FireError(err)
		return
	}
	h.OnError(ctx, err)
}

// WriteFunc adapts a closure to WriteHandler.
type WriteFunc func(ctx *Context, msg any, f *Future)

func (w WriteFunc) Write(ctx *Context, msg any, f *Future) { w(ctx, msg, f) }
