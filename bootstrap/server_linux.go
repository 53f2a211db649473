//go:build linux

// File: bootstrap/server_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listening socket setup and the accept path.

package bootstrap

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/reactor"
)

const maxAcceptsPerEvent = 64

// Bind opens a listening socket on addr and starts accepting on the next
// boss loop. Both loop groups must be started.
func (b *ServerBootstrap) Bind(ctx context.Context, addr string) (*ServerChannel, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	cfg := b.Config()
	fd, err := listenTCP(tcpAddr, cfg)
	if err != nil {
		return nil, err
	}

	s := &ServerChannel{
		b:           b,
		loop:        b.boss.Next(),
		fd:          fd,
		closeFuture: channel.NewFuture(nil),
	}
	s.backoff.Min = 5 * time.Millisecond
	s.backoff.Max = cfg.MaxAcceptPause
	s.backoff.Factor = 2
	if sa, err := unix.Getsockname(fd); err == nil {
		s.addr = channel.SockaddrToTCPAddr(sa)
	}

	registered := make(chan error, 1)
	if err := s.loop.Execute(func() {
		registered <- s.loop.Register(fd, reactor.EventRead, s)
	}); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	select {
	case err = <-registered:
	case <-ctx.Done():
		// the task may still run; let the loop own the cleanup
		_ = s.loop.Execute(func() {
			if err := <-registered; err == nil {
				s.closeNow()
			} else {
				_ = unix.Close(fd)
			}
		})
		return nil, ctx.Err()
	}
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("register listener: %w", err)
	}
	log.Info("listening", "addr", s.addr, "backlog", cfg.Backlog, "loop", s.loop.ID())
	return s, nil
}

func listenTCP(addr *net.TCPAddr, cfg Config) (int, error) {
	family, sa := toSockaddr(addr, true)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, &api.TransportError{Op: "socket", Err: err}
	}
	if flag(cfg.ReuseAddr) {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			_ = unix.Close(fd)
			return -1, &api.TransportError{Op: "setsockopt", Err: err}
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, &api.TransportError{Op: "bind", Err: err}
	}
	if err := unix.Listen(fd, cfg.Backlog); err != nil {
		_ = unix.Close(fd)
		return -1, &api.TransportError{Op: "listen", Err: err}
	}
	return fd, nil
}

// applySocketOptions sets per-connection options. Failures are not fatal;
// non-TCP sockets reject the TCP level options.
func applySocketOptions(fd int, cfg Config) {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolInt(flag(cfg.NoDelay))); err != nil {
		log.Debug("TCP_NODELAY not applied", "fd", fd, "error", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolInt(flag(cfg.KeepAlive))); err != nil {
		log.Debug("SO_KEEPALIVE not applied", "fd", fd, "error", err)
	}
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// HandleEvent implements concurrency.Registration.
func (s *ServerChannel) HandleEvent(ev reactor.EventType) {
	if s.closed || s.paused {
		return
	}
	for i := 0; i < maxAcceptsPerEvent; i++ {
		nfd, _, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			return
		case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM:
			s.pauseAccept(err)
			return
		default:
			log.Error("accept failed", "addr", s.addr, "error", err)
			return
		}
		s.backoff.Reset()
		s.b.serveChild(nfd)
	}
}

// pauseAccept stops polling the listener until a backoff delay passes.
// The pending connections stay queued in the kernel backlog.
func (s *ServerChannel) pauseAccept(cause error) {
	delay := s.backoff.Duration()
	log.Warn("accept paused", "addr", s.addr, "error", cause, "delay", delay)
	if s.b.metrics != nil {
		s.b.metrics.Add(MetricAcceptPauses, 1)
	}
	if err := s.loop.Modify(s.fd, 0); err != nil {
		log.Debug("listener interest not cleared", "error", err)
	}
	s.paused = true
	s.resume = s.loop.Schedule(delay, func() {
		if s.closed {
			return
		}
		s.paused = false
		s.resume = nil
		if err := s.loop.Modify(s.fd, reactor.EventRead); err != nil {
			log.Error("listener resume failed", "addr", s.addr, "error", err)
			s.closeNow()
			return
		}
		s.HandleEvent(reactor.EventRead)
	})
}

// ForceClose implements concurrency.Registration.
func (s *ServerChannel) ForceClose() {
	s.closeNow()
}

func (s *ServerChannel) closeNow() {
	if s.closed {
		return
	}
	s.closed = true
	if s.resume != nil {
		s.resume.Stop()
		s.resume = nil
	}
	if err := s.loop.Deregister(s.fd); err != nil {
		log.Debug("listener deregister failed", "error", err)
	}
	if err := unix.Close(s.fd); err != nil {
		log.Debug("listener close failed", "error", err)
	}
	s.fd = -1
	log.Info("listener closed", "addr", s.addr)
	s.closeFuture.Succeed()
}

// serveChild wraps an accepted descriptor in a channel owned by the next
// worker loop.
func (b *ServerBootstrap) serveChild(fd int) {
	cfg := b.Config()
	applySocketOptions(fd, cfg)
	ch := channel.NewSocketChannel(b.workers.Next(), fd, b.childOptions(cfg))
	b.countAccepted(ch)
	ch.Register(b.init, false).AddListener(func(f *channel.Future) {
		if !f.IsSuccess() {
			log.Warn("child registration failed", "channel", ch.ID(), "error", f.Err())
		}
	})
}
