// File: bootstrap/bootstrap.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bootstrap types and functional options. The socket work lives in the
// platform files.

package bootstrap

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/internal/logging"
	"github.com/momentics/hioload-net/pool"
)

var log = logging.For("bootstrap")

// Metric keys published by the server bootstrap.
const (
	MetricActiveConnections = "connections.active"
	MetricTotalConnections  = "connections.total"
	MetricAcceptPauses      = "accept.pauses"
)

// ServerBootstrap accepts connections on boss loops and serves them on
// worker loops.
type ServerBootstrap struct {
	boss    *concurrency.LoopGroup
	workers *concurrency.LoopGroup
	init    channel.Initializer

	cfg      Config
	live     atomic.Pointer[Config]
	store    *control.ConfigStore
	metrics  *control.MetricsRegistry
	alloc    *pool.Allocator
	executor api.Executor
}

// ServerOption customizes a ServerBootstrap.
type ServerOption func(*ServerBootstrap)

// WithServerConfig overrides the default configuration. Unset fields keep
// their defaults.
func WithServerConfig(cfg Config) ServerOption {
	return func(b *ServerBootstrap) {
		b.cfg = cfg.CombineWith(b.cfg)
	}
}

// WithConfigStore attaches a hot-reloadable option store. Accepted sockets
// take keepAlive and noDelay from its latest snapshot.
func WithConfigStore(store *control.ConfigStore) ServerOption {
	return func(b *ServerBootstrap) {
		b.store = store
	}
}

// WithMetrics publishes connection counters to m.
func WithMetrics(m *control.MetricsRegistry) ServerOption {
	return func(b *ServerBootstrap) {
		b.metrics = m
	}
}

// WithChildAllocator sets the buffer allocator of accepted channels.
func WithChildAllocator(a *pool.Allocator) ServerOption {
	return func(b *ServerBootstrap) {
		b.alloc = a
	}
}

// WithChildExecutor sets the offload executor of accepted channels.
func WithChildExecutor(e api.Executor) ServerOption {
	return func(b *ServerBootstrap) {
		b.executor = e
	}
}

// NewServerBootstrap builds a server bootstrap. init runs on the worker
// loop of every accepted channel before it turns active.
func NewServerBootstrap(boss, workers *concurrency.LoopGroup, init channel.Initializer, opts ...ServerOption) *ServerBootstrap {
	b := &ServerBootstrap{
		boss:    boss,
		workers: workers,
		init:    init,
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(b)
	}
	cfg := b.cfg
	b.live.Store(&cfg)
	if b.store != nil {
		b.reload(b.store.GetSnapshot())
		b.store.OnReload(b.reload)
	}
	return b
}

// Config returns the configuration applied to newly accepted sockets.
func (b *ServerBootstrap) Config() Config {
	return *b.live.Load()
}

func (b *ServerBootstrap) reload(snapshot map[string]any) {
	cfg, err := b.cfg.ApplyOptions(snapshot)
	if err != nil {
		log.Warn("rejected socket options", "error", err)
		return
	}
	b.live.Store(&cfg)
	log.Info("socket options updated", "backlog", cfg.Backlog,
		"keepAlive", flag(cfg.KeepAlive), "noDelay", flag(cfg.NoDelay))
}

func (b *ServerBootstrap) countAccepted(ch *channel.Channel) {
	if b.metrics == nil {
		return
	}
	b.metrics.Add(MetricTotalConnections, 1)
	b.metrics.Add(MetricActiveConnections, 1)
	ch.CloseFuture().AddListener(func(*channel.Future) {
		b.metrics.Add(MetricActiveConnections, -1)
	})
}

func (b *ServerBootstrap) childOptions(cfg Config) channel.Options {
	opts := cfg.channelOptions()
	opts.Alloc = b.alloc
	opts.Executor = b.executor
	return opts
}

// ServerChannel is a bound listening socket registered on a boss loop.
type ServerChannel struct {
	b    *ServerBootstrap
	loop *concurrency.EventLoop
	fd   int
	addr net.Addr

	// loop-only
	closed  bool
	paused  bool
	backoff backoff.Backoff
	resume  *time.Timer

	closeFuture *channel.Future
}

// Addr returns the bound local address.
func (s *ServerChannel) Addr() net.Addr { return s.addr }

// CloseFuture completes once the listening socket is closed.
func (s *ServerChannel) CloseFuture() *channel.Future { return s.closeFuture }

// Close stops accepting and closes the listening socket. Connections
// already accepted are unaffected.
func (s *ServerChannel) Close() *channel.Future {
	if s.loop.InEventLoop() {
		s.closeNow()
	} else if err := s.loop.Execute(s.closeNow); err != nil {
		// a stopped boss loop has force-closed the listener already
		log.Debug("listener close task refused", "addr", s.addr, "error", err)
	}
	return s.closeFuture
}

// ShutdownGracefully closes the listener and waits for the close to
// complete.
func (s *ServerChannel) ShutdownGracefully() error {
	return s.Close().Wait(context.Background())
}

var _ api.GracefulShutdown = (*ServerChannel)(nil)

// Bootstrap opens client channels.
type Bootstrap struct {
	group    *concurrency.LoopGroup
	init     channel.Initializer
	cfg      Config
	alloc    *pool.Allocator
	executor api.Executor
}

// ClientOption customizes a Bootstrap.
type ClientOption func(*Bootstrap)

// WithClientConfig overrides the default configuration.
func WithClientConfig(cfg Config) ClientOption {
	return func(b *Bootstrap) {
		b.cfg = cfg.CombineWith(b.cfg)
	}
}

// WithAllocator sets the buffer allocator of client channels.
func WithAllocator(a *pool.Allocator) ClientOption {
	return func(b *Bootstrap) {
		b.alloc = a
	}
}

// WithExecutor sets the offload executor of client channels.
func WithExecutor(e api.Executor) ClientOption {
	return func(b *Bootstrap) {
		b.executor = e
	}
}

// NewBootstrap builds a client bootstrap whose channels run on group.
func NewBootstrap(group *concurrency.LoopGroup, init channel.Initializer, opts ...ClientOption) *Bootstrap {
	b := &Bootstrap{
		group: group,
		init:  init,
		cfg:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bootstrap) channelOptions() channel.Options {
	opts := b.cfg.channelOptions()
	opts.Alloc = b.alloc
	opts.Executor = b.executor
	return opts
}
