//go:build linux

// File: channel/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking stream socket over a raw descriptor.

package channel

import (
	"io"
	"net"

	"golang.org/x/sys/unix"
)

type fdSocket struct {
	sysfd  int
	local  net.Addr
	remote net.Addr
}

// NewSocketChannel wraps a connected (or connecting) non-blocking stream
// socket. The channel owns fd from here on; call Register to start it.
func NewSocketChannel(loop Loop, fd int, opts Options) *Channel {
	s := &fdSocket{sysfd: fd}
	s.refreshAddrs()
	return newChannel(loop, s, opts)
}

func (s *fdSocket) refreshAddrs() {
	if sa, err := unix.Getsockname(s.sysfd); err == nil {
		s.local = SockaddrToTCPAddr(sa)
	}
	if sa, err := unix.Getpeername(s.sysfd); err == nil {
		s.remote = SockaddrToTCPAddr(sa)
	}
}

func (s *fdSocket) fd() int { return s.sysfd }

func (s *fdSocket) read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.sysfd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, errWouldBlock
		case err != nil:
			return 0, err
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (s *fdSocket) writev(iov [][]byte) (int, error) {
	for {
		n, err := unix.Writev(s.sysfd, iov)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, errWouldBlock
		case err != nil:
			return 0, err
		}
		return n, nil
	}
}

func (s *fdSocket) connectError() error {
	errno, err := unix.GetsockoptInt(s.sysfd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	s.refreshAddrs()
	return nil
}

func (s *fdSocket) close() error {
	if s.sysfd < 0 {
		return nil
	}
	fd := s.sysfd
	s.sysfd = -1
	return unix.Close(fd)
}

func (s *fdSocket) localAddr() net.Addr  { return s.local }
func (s *fdSocket) remoteAddr() net.Addr { return s.remote }

// SockaddrToTCPAddr converts a unix socket address into a *net.TCPAddr.
// Non-IP families yield nil.
func SockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]).To16(), Port: a.Port}
	case *unix.SockaddrInet6:
		addr := &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
		if a.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(a.ZoneId)); err == nil {
				addr.Zone = ifi.Name
			}
		}
		return addr
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: a.Name, Net: "unix"}
	}
	return nil
}
