//go:build linux

// File: bootstrap/client_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound connect and adoption of connected sockets.

package bootstrap

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
)

// Connect starts a non-blocking connect to addr. The returned future
// completes once the connection is established and the pipeline is active;
// its Channel is the new connection. Cancelling ctx before completion fails
// the future and closes the channel.
func (b *Bootstrap) Connect(ctx context.Context, addr string) *channel.Future {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return channel.FailedFuture(nil, fmt.Errorf("resolve %s: %w", addr, err))
	}
	family, sa := toSockaddr(tcpAddr, false)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return channel.FailedFuture(nil, &api.TransportError{Op: "socket", Err: err})
	}
	applySocketOptions(fd, b.cfg)
	for {
		err = unix.Connect(fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return channel.FailedFuture(nil, &api.TransportError{Op: "connect", Err: err})
	}

	ch := channel.NewSocketChannel(b.group.Next(), fd, b.channelOptions())
	f := ch.Register(b.init, true)
	stop := context.AfterFunc(ctx, func() {
		if f.Fail(ctx.Err()) {
			ch.Close()
		}
	})
	f.AddListener(func(*channel.Future) { stop() })
	return f
}

// Register adopts an already connected socket. conn is closed; the channel
// owns a duplicate of its descriptor.
func (b *Bootstrap) Register(conn net.Conn) *channel.Future {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return channel.FailedFuture(nil, fmt.Errorf("%w: %T has no descriptor", api.ErrNotSupported, conn))
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return channel.FailedFuture(nil, err)
	}
	fd := -1
	var dupErr error
	if err := raw.Control(func(s uintptr) {
		fd, dupErr = unix.FcntlInt(s, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return channel.FailedFuture(nil, err)
	}
	_ = conn.Close()
	if dupErr != nil {
		return channel.FailedFuture(nil, &api.TransportError{Op: "dup", Err: dupErr})
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return channel.FailedFuture(nil, &api.TransportError{Op: "setnonblock", Err: err})
	}
	applySocketOptions(fd, b.cfg)
	ch := channel.NewSocketChannel(b.group.Next(), fd, b.channelOptions())
	return ch.Register(b.init, false)
}

// toSockaddr converts addr for the socket syscalls. A missing IP means
// the wildcard address when listening and loopback when connecting.
func toSockaddr(addr *net.TCPAddr, listen bool) (int, unix.Sockaddr) {
	if ip4 := addr.IP.To4(); addr.IP == nil || ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		} else if !listen {
			copy(sa.Addr[:], net.IPv4(127, 0, 0, 1).To4())
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	if addr.Zone != "" {
		if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return unix.AF_INET6, sa
}
