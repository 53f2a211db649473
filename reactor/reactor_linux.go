//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller with an eventfd wakeup channel.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// epollPoller is a level-triggered epoll poller.
type epollPoller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
	woken  atomic.Bool
	closed atomic.Bool
}

// NewPoller constructs a new platform-specific Poller for Linux.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	p := &epollPoller{
		epfd:   epfd,
		wakefd: wakefd,
		raw:    make([]unix.EpollEvent, 128),
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakeup: %w", err)
	}
	return p, nil
}

func toEpoll(interest EventType) uint32 {
	var ev uint32
	if interest&EventRead != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpoll(ev uint32) EventType {
	var t EventType
	if ev&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		t |= EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		t |= EventWrite
	}
	if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		t |= EventError
	}
	return t
}

// Add adds a file descriptor to the epoll interest list.
func (p *epollPoller) Add(fd int, interest EventType) error {
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add fd=%d: %w", fd, err)
	}
	return nil
}

// Modify changes the interest set of a registered descriptor.
func (p *epollPoller) Modify(fd int, interest EventType) error {
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

// Delete removes a file descriptor from the epoll interest list.
func (p *epollPoller) Delete(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Wait blocks for readiness and translates raw epoll events.
func (p *epollPoller) Wait(events []Event, timeoutMs int) (int, error) {
	if len(events) == 0 {
		return 0, errors.New("reactor: empty event buffer")
	}
	if len(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	if timeoutMs < 0 {
		timeoutMs = -1
	}
	n, err := unix.EpollWait(p.epfd, p.raw[:len(events)], timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	k := 0
	for i := 0; i < n; i++ {
		raw := p.raw[i]
		if int(raw.Fd) == p.wakefd {
			p.drainWakeup()
			continue
		}
		events[k] = Event{Fd: int(raw.Fd), Events: fromEpoll(raw.Events)}
		k++
	}
	return k, nil
}

func (p *epollPoller) drainWakeup() {
	var b [8]byte
	for {
		if _, err := unix.Read(p.wakefd, b[:]); err != nil {
			break
		}
	}
	p.woken.Store(false)
}

// Wakeup writes to the eventfd. Concurrent wakeups coalesce into one.
func (p *epollPoller) Wakeup() error {
	if p.closed.Load() || !p.woken.CompareAndSwap(false, true) {
		return nil
	}
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(p.wakefd, b[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		p.woken.Store(false)
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Close closes the wakeup descriptor and the epoll instance.
func (p *epollPoller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err1 := unix.Close(p.wakefd)
	err2 := unix.Close(p.epfd)
	return errors.Join(err1, err2)
}
