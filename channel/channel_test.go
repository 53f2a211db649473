package channel

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/pool"
)

func TestChannel_WritesCompleteInSubmissionOrder(t *testing.T) {
	alloc := pool.NewAllocator()
	e := NewEmbeddedChannelWithOptions(Options{Alloc: alloc})
	e.SetWriteLimit(3)

	var order []int
	for i, s := range []string{"abc", "defg", "hi"} {
		i := i
		e.Write([]byte(s)).AddListener(func(f *Future) {
			require.True(t, f.IsSuccess())
			order = append(order, i)
		})
	}
	e.Flush()
	assert.Equal(t, []int{0}, order, "first write fit, rest wait for writability")

	for i := 0; i < 10 && len(order) < 3; i++ {
		e.SignalWritable()
	}
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, "abcdefghi", string(e.ReadOutbound()))
	assert.Equal(t, uint64(9), e.Stats().BytesWritten)
	assert.Equal(t, uint64(3), e.Stats().Writes)
	assert.Equal(t, int64(0), alloc.Stats().InUse)
}

func TestChannel_UnflushedWritesStayQueued(t *testing.T) {
	e := NewEmbeddedChannel()
	f := e.Write([]byte("later"))
	assert.False(t, f.IsDone())
	assert.Empty(t, e.ReadOutbound())

	e.Flush()
	assert.True(t, f.IsSuccess())
	assert.Equal(t, "later", string(e.ReadOutbound()))
}

func TestChannel_CloseDrainsPendingWrites(t *testing.T) {
	e := NewEmbeddedChannel()
	e.SetWriteLimit(2)

	w := e.WriteAndFlush([]byte("drain-me"))
	closed := e.Close()
	assert.False(t, closed.IsDone(), "close waits for queued bytes")
	assert.Equal(t, api.StateClosing, e.State())

	late := e.Write([]byte("too late"))
	assert.ErrorIs(t, late.Err(), api.ErrChannelClosed)

	for i := 0; i < 10 && !closed.IsDone(); i++ {
		e.SignalWritable()
	}
	assert.True(t, w.IsSuccess())
	assert.True(t, closed.IsDone())
	assert.Equal(t, "drain-me", string(e.ReadOutbound()))
}

func TestChannel_FinishFailsStuckWrites(t *testing.T) {
	e := NewEmbeddedChannel()
	e.SetWriteLimit(1)
	w := e.WriteAndFlush([]byte("stuck"))

	e.SetWriteError(errWouldBlock)
	assert.True(t, e.Finish())
	assert.ErrorIs(t, w.Err(), api.ErrChannelClosed)
	assert.ErrorIs(t, w.Err(), ErrCloseTimeout)
}

func TestChannel_WriteErrorIsTransportError(t *testing.T) {
	var caught error
	e := NewEmbeddedChannel(&HandlerFuncs{OnError: func(_ *Context, err error) { caught = err }})
	e.SetWriteError(errors.New("broken pipe"))

	f := e.WriteAndFlush([]byte("x"))
	assert.ErrorIs(t, f.Err(), api.ErrChannelClosed)
	assert.ErrorIs(t, caught, api.ErrTransport)

	var terr *api.TransportError
	require.ErrorAs(t, caught, &terr)
	assert.Equal(t, "write", terr.Op)
	assert.Equal(t, api.StateClosed, e.State())
}

func TestChannel_UnsupportedOutboundMessage(t *testing.T) {
	e := NewEmbeddedChannel()
	f := e.WriteAndFlush(struct{}{})
	assert.ErrorIs(t, f.Err(), api.ErrUnsupportedMessage)
	assert.True(t, e.IsActive())
}

func TestChannel_InactiveFiresExactlyOnce(t *testing.T) {
	var inactive atomic.Int32
	e := NewEmbeddedChannel(&HandlerFuncs{OnInactive: func(*Context) { inactive.Add(1) }})
	first := e.Close()
	second := e.Close()
	e.ForceClose()
	assert.Equal(t, int32(1), inactive.Load())
	assert.True(t, first.IsSuccess())
	assert.True(t, second.IsSuccess())
	assert.Same(t, first, second)
}

func TestContext_OffloadDeliversOnLoop(t *testing.T) {
	exec := concurrency.NewExecutor(1, false)
	defer exec.Close()

	var result any
	var gotErr error
	h := &HandlerFuncs{OnRead: func(ctx *Context, msg any) {
		_ = pool.Release(msg)
		ctx.Offload(func() (any, error) {
			time.Sleep(5 * time.Millisecond)
			return "computed", nil
		}, func(_ *Context, v any, err error) {
			result, gotErr = v, err
		})
	}}
	e := NewEmbeddedChannelWithOptions(Options{Executor: exec}, h)
	require.NoError(t, e.WriteInbound([]byte("go")))

	assert.Eventually(t, func() bool {
		e.RunPendingTasks()
		return result != nil
	}, time.Second, time.Millisecond)
	assert.Equal(t, "computed", result)
	assert.NoError(t, gotErr)
}
