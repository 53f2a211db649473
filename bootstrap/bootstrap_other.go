//go:build !linux

// File: bootstrap/bootstrap_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket bootstraps need the epoll reactor; other platforms report
// api.ErrNotSupported.

package bootstrap

import (
	"context"
	"net"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/reactor"
)

// Bind is not supported on this platform.
func (b *ServerBootstrap) Bind(ctx context.Context, addr string) (*ServerChannel, error) {
	return nil, api.ErrNotSupported
}

// Connect is not supported on this platform.
func (b *Bootstrap) Connect(ctx context.Context, addr string) *channel.Future {
	return channel.FailedFuture(nil, api.ErrNotSupported)
}

// Register is not supported on this platform.
func (b *Bootstrap) Register(conn net.Conn) *channel.Future {
	_ = conn.Close()
	return channel.FailedFuture(nil, api.ErrNotSupported)
}

// HandleEvent implements concurrency.Registration.
func (s *ServerChannel) HandleEvent(reactor.EventType) {}

// ForceClose implements concurrency.Registration.
func (s *ServerChannel) ForceClose() { s.closeNow() }

func (s *ServerChannel) closeNow() {
	if !s.closed {
		s.closed = true
		s.closeFuture.Succeed()
	}
}
