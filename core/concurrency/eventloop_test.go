//go:build linux

package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/reactor"
)

func startLoop(t *testing.T) *EventLoop {
	t.Helper()
	l, err := NewEventLoop()
	require.NoError(t, err)
	go func() { _ = l.Run(context.Background()) }()
	<-l.Started()
	t.Cleanup(func() { _ = l.ShutdownGracefully() })
	return l
}

func runOn(t *testing.T, l *EventLoop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, l.Execute(func() {
		defer close(done)
		fn()
	}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop task did not run")
	}
}

func TestEventLoop_ExecuteOrderAndAffinity(t *testing.T) {
	l := startLoop(t)
	assert.False(t, l.InEventLoop())

	var mu sync.Mutex
	var got []int
	var inLoop atomic.Bool
	inLoop.Store(true)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, l.Execute(func() {
			if !l.InEventLoop() {
				inLoop.Store(false)
			}
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	runOn(t, l, func() {})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.True(t, inLoop.Load(), "tasks run on the loop goroutine")
}

func TestEventLoop_SpilledTasksKeepSubmissionOrder(t *testing.T) {
	l, err := NewEventLoop(WithInboxSize(2))
	require.NoError(t, err)
	go func() { _ = l.Run(context.Background()) }()
	<-l.Started()
	t.Cleanup(func() { _ = l.ShutdownGracefully() })

	var got []string // loop goroutine only until done closes
	record := func(name string) func() { return func() { got = append(got, name) } }

	aRunning, aRelease := make(chan struct{}), make(chan struct{})
	bRunning, bRelease := make(chan struct{}), make(chan struct{})
	require.NoError(t, l.Execute(func() {
		close(aRunning)
		<-aRelease
	}))
	<-aRunning

	require.NoError(t, l.Execute(func() {
		got = append(got, "B")
		close(bRunning)
		<-bRelease
	}))
	require.NoError(t, l.Execute(record("C")))
	require.NoError(t, l.Execute(record("D")), "inbox full, D spills")
	close(aRelease)

	<-bRunning
	require.NoError(t, l.Execute(record("E")), "inbox has room again")
	close(bRelease)

	done := make(chan struct{})
	require.NoError(t, l.Execute(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not drain")
	}
	assert.Equal(t, []string{"B", "C", "D", "E"}, got)
}

func TestEventLoop_Schedule(t *testing.T) {
	l := startLoop(t)
	fired := make(chan bool, 1)
	l.Schedule(10*time.Millisecond, func() { fired <- l.InEventLoop() })
	select {
	case ok := <-fired:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task did not fire")
	}
}

type pipeReg struct {
	loop   *EventLoop
	fd     int
	reads  chan []byte
	closed atomic.Bool
}

func (r *pipeReg) HandleEvent(ev reactor.EventType) {
	if ev&reactor.EventRead == 0 {
		return
	}
	buf := make([]byte, 64)
	n, err := unix.Read(r.fd, buf)
	if err == nil && n > 0 {
		r.reads <- buf[:n]
	}
}

func (r *pipeReg) ForceClose() {
	r.closed.Store(true)
	_ = r.loop.Deregister(r.fd)
	_ = unix.Close(r.fd)
}

func TestEventLoop_RegisterDispatchAndShutdown(t *testing.T) {
	l, err := NewEventLoop()
	require.NoError(t, err)
	go func() { _ = l.Run(context.Background()) }()
	<-l.Started()

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[1])

	reg := &pipeReg{loop: l, fd: p[0], reads: make(chan []byte, 4)}
	assert.ErrorIs(t, l.Register(p[0], reactor.EventRead, reg), ErrNotInLoop)

	var regErr error
	runOn(t, l, func() { regErr = l.Register(p[0], reactor.EventRead, reg) })
	require.NoError(t, regErr)

	_, err = unix.Write(p[1], []byte("ping"))
	require.NoError(t, err)
	select {
	case b := <-reg.reads:
		assert.Equal(t, "ping", string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("no read dispatched")
	}

	require.NoError(t, l.ShutdownGracefully())
	assert.True(t, reg.closed.Load(), "remaining registrations are force closed")
	assert.ErrorIs(t, l.Execute(func() {}), ErrLoopShutdown)
	require.NoError(t, l.ShutdownGracefully(), "shutdown is idempotent")
}

func TestEventLoop_ShutdownBeforeRun(t *testing.T) {
	l, err := NewEventLoop()
	require.NoError(t, err)
	require.NoError(t, l.ShutdownGracefully())
	assert.ErrorIs(t, l.Run(context.Background()), ErrLoopStarted)
}

func TestEventLoop_ContextCancelStops(t *testing.T) {
	l, err := NewEventLoop()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	<-l.Started()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}

func TestLoopGroup_RoundRobin(t *testing.T) {
	_, err := NewLoopGroup(-1)
	assert.ErrorIs(t, err, ErrInvalidLoopCount)

	g, err := NewLoopGroup(3)
	require.NoError(t, err)
	g.Start(context.Background())
	defer g.ShutdownGracefully()

	first := g.Next()
	second := g.Next()
	third := g.Next()
	assert.NotSame(t, first, second)
	assert.NotSame(t, second, third)
	assert.Same(t, first, g.Next(), "selection wraps")

	var hits atomic.Int32
	var wg sync.WaitGroup
	for _, l := range g.Loops() {
		wg.Add(1)
		l := l
		require.NoError(t, l.Execute(func() {
			defer wg.Done()
			if l.InEventLoop() {
				hits.Add(1)
			}
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(3), hits.Load())

	require.NoError(t, g.ShutdownGracefully())
	for _, l := range g.Loops() {
		assert.True(t, l.IsShuttingDown())
	}
}
