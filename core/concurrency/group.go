// File: core/concurrency/group.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// LoopGroup is a fixed set of event loops handed out round-robin.

package concurrency

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-net/api"
)

var _ api.GracefulShutdown = (*LoopGroup)(nil)

// LoopGroup owns N event loops and their goroutines.
type LoopGroup struct {
	loops []*EventLoop
	next  atomic.Uint64

	startOnce sync.Once
	eg        *errgroup.Group
	cancel    context.CancelFunc
}

// GroupOption customises a LoopGroup.
type GroupOption func(*groupConfig)

type groupConfig struct {
	pin      bool
	loopOpts []LoopOption
}

// WithCPUPinning pins loop i to CPU i modulo the CPU count.
func WithCPUPinning(enabled bool) GroupOption {
	return func(c *groupConfig) { c.pin = enabled }
}

// WithLoopOptions applies opts to every loop in the group.
func WithLoopOptions(opts ...LoopOption) GroupOption {
	return func(c *groupConfig) { c.loopOpts = append(c.loopOpts, opts...) }
}

// NewLoopGroup creates n idle loops. n == 0 uses runtime.NumCPU.
func NewLoopGroup(n int, opts ...GroupOption) (*LoopGroup, error) {
	if n < 0 {
		return nil, ErrInvalidLoopCount
	}
	if n == 0 {
		n = runtime.NumCPU()
	}
	var cfg groupConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	g := &LoopGroup{loops: make([]*EventLoop, 0, n)}
	for i := 0; i < n; i++ {
		loopOpts := cfg.loopOpts
		if cfg.pin {
			loopOpts = append(append([]LoopOption(nil), loopOpts...), WithCPU(i%runtime.NumCPU()))
		}
		l, err := NewEventLoop(loopOpts...)
		if err != nil {
			for _, created := range g.loops {
				_ = created.ShutdownGracefully()
			}
			return nil, err
		}
		g.loops = append(g.loops, l)
	}
	return g, nil
}

// Start launches every loop and waits until all of them are running. A loop
// failing fatally cancels the rest.
func (g *LoopGroup) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		ctx, g.cancel = context.WithCancel(ctx)
		var gctx context.Context
		g.eg, gctx = errgroup.WithContext(ctx)
		for _, l := range g.loops {
			l := l
			g.eg.Go(func() error { return l.Run(gctx) })
		}
		for _, l := range g.loops {
			select {
			case <-l.Started():
			case <-l.Terminated():
			}
		}
	})
}

// Next returns the next loop in round-robin order.
func (g *LoopGroup) Next() *EventLoop {
	return g.loops[(g.next.Add(1)-1)%uint64(len(g.loops))]
}

// Loops returns the group's loops.
func (g *LoopGroup) Loops() []*EventLoop {
	return g.loops
}

// Len returns the number of loops.
func (g *LoopGroup) Len() int { return len(g.loops) }

// ShutdownGracefully shuts every loop down and waits for their goroutines.
// The first fatal loop error, if any, is returned. Calling it from one of
// the group's own loops only initiates shutdown.
func (g *LoopGroup) ShutdownGracefully() error {
	for _, l := range g.loops {
		if l.InEventLoop() {
			for _, other := range g.loops {
				_ = other.beginShutdown()
			}
			return nil
		}
	}
	for _, l := range g.loops {
		_ = l.beginShutdown()
	}
	for _, l := range g.loops {
		<-l.Terminated()
	}
	if g.cancel != nil {
		g.cancel()
	}
	if g.eg != nil {
		return g.eg.Wait()
	}
	return nil
}
