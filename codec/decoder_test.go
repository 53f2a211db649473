package codec

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/pool"
)

type frameSink struct {
	frames []string
	errs   []error
}

func (s *frameSink) ChannelRead(_ *channel.Context, msg any) {
	b := msg.(*pool.Buffer)
	s.frames = append(s.frames, string(b.Bytes()))
	_ = b.Release()
}

func (s *frameSink) ErrorCaught(_ *channel.Context, err error) {
	s.errs = append(s.errs, err)
}

// splitRandomly cuts s into chunks of random size between 1 and max.
func splitRandomly(rng *rand.Rand, s string, max int) []any {
	var out []any
	for len(s) > 0 {
		n := 1 + rng.Intn(max)
		if n > len(s) {
			n = len(s)
		}
		out = append(out, []byte(s[:n]))
		s = s[n:]
	}
	return out
}

func TestFrameDecoder_SplitInvariance(t *testing.T) {
	lines := []string{"alpha", "", "beta gamma", "delta", strings.Repeat("z", 300)}
	stream := strings.Join(lines, "\n") + "\n"

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		alloc := pool.NewAllocator()
		sink := &frameSink{}
		e := channel.NewEmbeddedChannelWithOptions(channel.Options{Alloc: alloc},
			NewFrameDecoder(LineFramer{MaxLength: 1024}), sink)

		require.NoError(t, e.WriteInbound(splitRandomly(rng, stream, 1+trial)...))
		require.Equal(t, lines, sink.frames, "trial %d", trial)

		e.Finish()
		assert.Empty(t, sink.errs)
		assert.Equal(t, int64(0), alloc.Stats().InUse, "trial %d leaked buffers", trial)
	}
}

func TestFrameDecoder_ByteAtATimeFixedLength(t *testing.T) {
	sink := &frameSink{}
	e := channel.NewEmbeddedChannel(NewFrameDecoder(FixedLength(4)), sink)
	for _, c := range []byte{0x83, 0xAA, 0x7E, 0x80, 0x00} {
		require.NoError(t, e.WriteInbound([]byte{c}))
	}
	require.Len(t, sink.frames, 1)
	assert.Equal(t, "\x83\xAA\x7E\x80", sink.frames[0])
}

func TestFrameDecoder_TruncationReportedOnInactive(t *testing.T) {
	sink := &frameSink{}
	e := channel.NewEmbeddedChannel(NewFrameDecoder(FixedLength(4)), sink)
	require.NoError(t, e.WriteInbound([]byte{1, 2, 3}))
	e.Finish()

	require.Len(t, sink.errs, 1)
	assert.ErrorIs(t, sink.errs[0], api.ErrTruncatedMessage)
	assert.Empty(t, sink.frames)
}

func TestFrameDecoder_PassesThroughForeignMessages(t *testing.T) {
	var got []any
	e := channel.NewEmbeddedChannel(NewFrameDecoder(FixedLength(2)),
		&channel.HandlerFuncs{OnRead: func(_ *channel.Context, msg any) { got = append(got, msg) }})
	require.NoError(t, e.WriteInbound("a string"))
	assert.Equal(t, []any{"a string"}, got)
}
