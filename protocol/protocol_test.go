package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/pool"
)

func TestTimeCodec(t *testing.T) {
	assert.Equal(t, uint32(0x83AA7E80), EncodeTime(time.Unix(0, 0)))
	assert.Equal(t, time.Unix(0, 0).UTC(), DecodeTime(0x83AA7E80))

	now := time.Date(2024, 5, 17, 12, 30, 45, 0, time.UTC)
	assert.Equal(t, now, DecodeTime(EncodeTime(now)))
}

func TestTimeServer_WritesTimeThenCloses(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	e := channel.NewEmbeddedChannel(&TimeServerHandler{Now: func() time.Time { return fixed }})

	out := e.ReadOutbound()
	require.Len(t, out, 4)
	want := EncodeTime(fixed)
	assert.Equal(t, []byte{byte(want >> 24), byte(want >> 16), byte(want >> 8), byte(want)}, out)
	assert.True(t, e.CloseFuture().IsDone(), "closed after the write completed")
}

func TestTimeServer_CloseWaitsForSlowWrite(t *testing.T) {
	slow := channel.NewEmbeddedChannel()
	slow.SetWriteLimit(1)
	require.NoError(t, slow.Pipeline().AddLast(&TimeServerHandler{}))
	slow.Pipeline().FireActive()
	assert.False(t, slow.CloseFuture().IsDone())
	for i := 0; i < 4; i++ {
		slow.SignalWritable()
	}
	assert.True(t, slow.CloseFuture().IsDone())
	assert.Len(t, slow.ReadOutbound(), 4)
}

func newTimeClient(alloc *pool.Allocator) (*channel.EmbeddedChannel, *time.Time, *error) {
	var got time.Time
	var gotErr error
	h := &TimeClientHandler{
		OnTime:  func(t time.Time) { got = t },
		OnError: func(err error) { gotErr = err },
	}
	return channel.NewEmbeddedChannelWithOptions(channel.Options{Alloc: alloc}, h), &got, &gotErr
}

func TestTimeClient_DecodesSplitDelivery(t *testing.T) {
	splits := [][][]byte{
		{{0x83, 0xAA, 0x7E, 0x80}},
		{{0x83}, {0xAA}, {0x7E}, {0x80}},
		{{0x83, 0xAA}, {0x7E, 0x80}},
		{{0x83, 0xAA, 0x7E}, {0x80}},
	}
	for _, chunks := range splits {
		alloc := pool.NewAllocator()
		e, got, gotErr := newTimeClient(alloc)
		for _, c := range chunks {
			require.NoError(t, e.WriteInbound(c))
		}
		assert.Equal(t, time.Unix(0, 0).UTC(), *got)
		assert.NoError(t, *gotErr)
		assert.True(t, e.CloseFuture().IsDone())
		assert.Equal(t, int64(0), alloc.Stats().InUse)
	}
}

func TestTimeClient_ReportsTruncation(t *testing.T) {
	alloc := pool.NewAllocator()
	e, got, gotErr := newTimeClient(alloc)
	require.NoError(t, e.WriteInbound([]byte{0x83, 0xAA}))
	e.Finish()

	assert.True(t, got.IsZero())
	var trunc *api.TruncatedMessageError
	require.ErrorAs(t, *gotErr, &trunc)
	assert.Equal(t, 2, trunc.Pending)
	assert.Equal(t, int64(0), alloc.Stats().InUse)
}

func TestTimeClient_CloseBeforeAnyByte(t *testing.T) {
	alloc := pool.NewAllocator()
	e, got, gotErr := newTimeClient(alloc)
	e.Finish()

	assert.True(t, got.IsZero())
	require.ErrorIs(t, *gotErr, api.ErrChannelClosed)
	assert.NotErrorIs(t, *gotErr, api.ErrTruncatedMessage)
	assert.Equal(t, int64(0), alloc.Stats().InUse)
}

func TestTimeClient_ErrorClosesChannel(t *testing.T) {
	e, _, gotErr := newTimeClient(nil)
	boom := errors.New("reset by peer")
	e.FireInboundError(boom)
	assert.ErrorIs(t, *gotErr, boom)
	assert.True(t, e.CloseFuture().IsDone())
}

func TestDiscard_ReleasesAndNeverWrites(t *testing.T) {
	alloc := pool.NewAllocator()
	d := NewDiscardHandler()
	e := channel.NewEmbeddedChannelWithOptions(channel.Options{Alloc: alloc}, d)

	require.NoError(t, e.WriteInbound([]byte("hello"), []byte(", world")))
	assert.Equal(t, uint64(12), d.Received())
	assert.Empty(t, e.ReadOutbound())
	assert.Equal(t, int64(0), alloc.Stats().InUse)
	assert.True(t, e.IsActive())
}

func TestEcho_WritesBackInOrder(t *testing.T) {
	alloc := pool.NewAllocator()
	e := channel.NewEmbeddedChannelWithOptions(channel.Options{Alloc: alloc}, EchoHandler{})

	require.NoError(t, e.WriteInbound([]byte("ping "), []byte("pong")))
	assert.Equal(t, "ping pong", string(e.ReadOutbound()))
	assert.Equal(t, int64(0), alloc.Stats().InUse)
}

func TestEcho_ErrorPolicyClosesChannel(t *testing.T) {
	e := channel.NewEmbeddedChannel(EchoHandler{})
	e.FireInboundError(errors.New("boom"))
	assert.True(t, e.CloseFuture().IsDone())
	assert.Empty(t, e.UnhandledErrors())
}
