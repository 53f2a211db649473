// File: channel/pipeline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pipeline is the ordered handler chain of one channel. Every mutation
// publishes a new immutable generation of contexts, so an event that has
// already entered the chain keeps walking the order it started with.
// Removed handlers are flagged and skipped by every generation.

package channel

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/pool"
)

type entry struct {
	name    string
	handler Handler
	removed atomic.Bool
}

type generation struct {
	ctxs []*Context
}

// Pipeline routes inbound events head to tail and outbound writes tail to
// head. Fire methods must be called on the channel's loop.
type Pipeline struct {
	ch *Channel

	mu   sync.Mutex // serialises mutations
	gen  atomic.Pointer[generation]
	torn bool
}

func newPipeline(ch *Channel) *Pipeline {
	p := &Pipeline{ch: ch}
	p.gen.Store(&generation{})
	return p
}

// Channel returns the owning channel.
func (p *Pipeline) Channel() *Channel { return p.ch }

// AddLast appends handlers in argument order under generated names.
func (p *Pipeline) AddLast(handlers ...Handler) error {
	for _, h := range handlers {
		if err := p.add("", h, false); err != nil {
			return err
		}
	}
	return nil
}

// AddFirst prepends handlers keeping argument order.
func (p *Pipeline) AddFirst(handlers ...Handler) error {
	for i := len(handlers) - 1; i >= 0; i-- {
		if err := p.add("", handlers[i], true); err != nil {
			return err
		}
	}
	return nil
}

// AddLastNamed appends h under an explicit, unique name.
func (p *Pipeline) AddLastNamed(name string, h Handler) error {
	return p.add(name, h, false)
}

func (p *Pipeline) add(name string, h Handler, first bool) error {
	if h == nil {
		return fmt.Errorf("nil handler: %w", api.ErrInvalidArgument)
	}
	p.mu.Lock()
	if p.torn {
		p.mu.Unlock()
		return api.ErrChannelClosed
	}
	old := p.gen.Load()
	if name == "" {
		name = p.generateName(old, h)
	} else if old.find(name) >= 0 {
		p.mu.Unlock()
		return fmt.Errorf("duplicate handler name %q: %w", name, api.ErrInvalidArgument)
	}
	e := &entry{name: name, handler: h}
	entries := old.entries()
	if first {
		entries = append([]*entry{e}, entries...)
	} else {
		entries = append(entries, e)
	}
	next := p.publish(entries)
	p.mu.Unlock()

	if ah, ok := h.(AddedHandler); ok {
		ctx := next.ctxs[next.find(name)]
		p.guard(ctx, func() { ah.HandlerAdded(ctx) })
	}
	return nil
}

// Remove takes h out of the pipeline and calls its HandlerRemoved.
func (p *Pipeline) Remove(h Handler) error {
	p.mu.Lock()
	old := p.gen.Load()
	idx := old.indexOf(h)
	if idx < 0 {
		p.mu.Unlock()
		return api.ErrHandlerNotFound
	}
	return p.removeAt(old, idx)
}

// RemoveByName takes the named handler out of the pipeline.
func (p *Pipeline) RemoveByName(name string) (Handler, error) {
	p.mu.Lock()
	old := p.gen.Load()
	idx := old.find(name)
	if idx < 0 {
		p.mu.Unlock()
		return nil, api.ErrHandlerNotFound
	}
	h := old.ctxs[idx].entry.handler
	return h, p.removeAt(old, idx)
}

// removeAt is entered with p.mu held and releases it.
func (p *Pipeline) removeAt(old *generation, idx int) error {
	removed := old.ctxs[idx]
	removed.entry.removed.Store(true)
	entries := old.entries()
	entries = append(entries[:idx], entries[idx+1:]...)
	p.publish(entries)
	p.mu.Unlock()

	if rh, ok := removed.entry.handler.(RemovedHandler); ok {
		p.guard(removed, func() { rh.HandlerRemoved(removed) })
	}
	return nil
}

func (p *Pipeline) publish(entries []*entry) *generation {
	g := &generation{ctxs: make([]*Context, len(entries))}
	for i, e := range entries {
		g.ctxs[i] = &Context{entry: e, pipeline: p, gen: g, index: i}
	}
	p.gen.Store(g)
	return g
}

func (p *Pipeline) generateName(g *generation, h Handler) string {
	base := strings.TrimPrefix(reflect.TypeOf(h).String(), "*")
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[i+1:]
	}
	for n := 0; ; n++ {
		name := fmt.Sprintf("%s#%d", base, n)
		if g.find(name) < 0 {
			return name
		}
	}
}

// Get returns the handler registered under name, or nil.
func (p *Pipeline) Get(name string) Handler {
	g := p.gen.Load()
	if i := g.find(name); i >= 0 {
		return g.ctxs[i].entry.handler
	}
	return nil
}

// Context returns the current context of h, or nil.
func (p *Pipeline) Context(h Handler) *Context {
	g := p.gen.Load()
	if i := g.indexOf(h); i >= 0 {
		return g.ctxs[i]
	}
	return nil
}

// Names lists handler names head to tail.
func (p *Pipeline) Names() []string {
	g := p.gen.Load()
	out := make([]string, len(g.ctxs))
	for i, c := range g.ctxs {
		out[i] = c.entry.name
	}
	return out
}

// Len returns the number of handlers.
func (p *Pipeline) Len() int { return len(p.gen.Load().ctxs) }

// FireActive starts an active event at the head.
func (p *Pipeline) FireActive() { p.invokeActive(p.gen.Load(), 0) }

// FireInactive starts an inactive event at the head.
func (p *Pipeline) FireInactive() { p.invokeInactive(p.gen.Load(), 0) }

// FireRead starts a read event at the head. Ownership of msg moves into
// the pipeline.
func (p *Pipeline) FireRead(msg any) { p.invokeRead(p.gen.Load(), 0, msg) }

// FireError starts an error event at the head.
func (p *Pipeline) FireError(err error) { p.invokeError(p.gen.Load(), 0, err) }

// Write sends msg outbound from the tail.
func (p *Pipeline) Write(msg any, f *Future) {
	g := p.gen.Load()
	p.invokeWrite(g, len(g.ctxs)-1, msg, f)
}

func nextInbound[T any](g *generation, from int) (*Context, T) {
	for i := from; i < len(g.ctxs); i++ {
		ctx := g.ctxs[i]
		if ctx.entry.removed.Load() {
			continue
		}
		if h, ok := ctx.entry.handler.(T); ok {
			return ctx, h
		}
	}
	var zero T
	return nil, zero
}

func (p *Pipeline) invokeActive(g *generation, from int) {
	if ctx, h := nextInbound[ActiveHandler](g, from); ctx != nil {
		p.guard(ctx, func() { h.ChannelActive(ctx) })
	}
}

func (p *Pipeline) invokeInactive(g *generation, from int) {
	if ctx, h := nextInbound[InactiveHandler](g, from); ctx != nil {
		p.guard(ctx, func() { h.ChannelInactive(ctx) })
	}
}

func (p *Pipeline) invokeRead(g *generation, from int, msg any) {
	ctx, h := nextInbound[ReadHandler](g, from)
	if ctx == nil {
		log.Debug("discarding inbound message at pipeline tail", "channel", p.ch.ID(), "type", fmt.Sprintf("%T", msg))
		pool.SafeRelease(msg)
		return
	}
	p.guard(ctx, func() { h.ChannelRead(ctx, msg) })
}

func (p *Pipeline) invokeError(g *generation, from int, err error) {
	ctx, h := nextInbound[ErrorHandler](g, from)
	if ctx == nil {
		p.ch.unhandledError(err)
		return
	}
	p.guard(ctx, func() { h.ErrorCaught(ctx, err) })
}

func (p *Pipeline) invokeWrite(g *generation, from int, msg any, f *Future) {
	for i := from; i >= 0; i-- {
		ctx := g.ctxs[i]
		if ctx.entry.removed.Load() {
			continue
		}
		if h, ok := ctx.entry.handler.(WriteHandler); ok {
			p.guard(ctx, func() { h.Write(ctx, msg, f) })
			return
		}
	}
	p.ch.transportWrite(msg, f)
}

// guard converts a handler panic into an error delivered to the handlers
// after ctx.
func (p *Pipeline) guard(ctx *Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler %s panicked: %v", ctx.entry.name, r)
			log.Error("handler panic", "channel", p.ch.ID(), "handler", ctx.entry.name, "panic", r)
			p.invokeError(ctx.gen, ctx.index+1, err)
		}
	}()
	fn()
}

// teardown removes every handler once the channel is closed.
func (p *Pipeline) teardown() {
	p.mu.Lock()
	if p.torn {
		p.mu.Unlock()
		return
	}
	p.torn = true
	old := p.gen.Load()
	p.gen.Store(&generation{})
	p.mu.Unlock()

	for _, ctx := range old.ctxs {
		if ctx.entry.removed.Swap(true) {
			continue
		}
		if rh, ok := ctx.entry.handler.(RemovedHandler); ok {
			ctx := ctx
			p.guard(ctx, func() { rh.HandlerRemoved(ctx) })
		}
	}
}

func (g *generation) entries() []*entry {
	out := make([]*entry, len(g.ctxs), len(g.ctxs)+1)
	for i, c := range g.ctxs {
		out[i] = c.entry
	}
	return out
}

func (g *generation) find(name string) int {
	for i, c := range g.ctxs {
		if c.entry.name == name {
			return i
		}
	}
	return -1
}

func (g *generation) indexOf(h Handler) int {
	t := reflect.TypeOf(h)
	if t == nil || !t.Comparable() {
		return -1
	}
	for i, c := range g.ctxs {
		if reflect.TypeOf(c.entry.handler) == t && c.entry.handler == h {
			return i
		}
	}
	return -1
}
