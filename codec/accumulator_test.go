package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/pool"
)

func wrap(t *testing.T, a *pool.Allocator, s string) *pool.Buffer {
	t.Helper()
	b, err := pool.Wrap(a, []byte(s))
	require.NoError(t, err)
	return b
}

func TestAccumulator_FixedLengthStateMachine(t *testing.T) {
	a := pool.NewAllocator()
	acc := NewAccumulator(a, FixedLength(4))
	assert.Equal(t, Waiting, acc.State())

	require.NoError(t, acc.Append(wrap(t, a, "ab")))
	assert.Equal(t, Waiting, acc.State())
	_, err := acc.Next()
	assert.ErrorIs(t, err, api.ErrInsufficientData)

	require.NoError(t, acc.Append(wrap(t, a, "cdef")))
	assert.Equal(t, Ready, acc.State())

	frame, err := acc.Next()
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(frame.Bytes()))
	require.NoError(t, frame.Release())

	assert.Equal(t, Waiting, acc.State(), "remainder preserved but incomplete")
	assert.Equal(t, 2, acc.Pending())

	err = acc.Close()
	var trunc *api.TruncatedMessageError
	require.ErrorAs(t, err, &trunc)
	assert.Equal(t, 2, trunc.Pending)
	assert.ErrorIs(t, err, api.ErrTruncatedMessage)
	assert.NoError(t, acc.Close(), "idempotent")

	assert.Equal(t, int64(0), a.Stats().InUse, "inputs and cumulation released")
}

func TestAccumulator_MultipleFramesInOneChunk(t *testing.T) {
	a := pool.NewAllocator()
	acc := NewAccumulator(a, LineFramer{})
	require.NoError(t, acc.Append(wrap(t, a, "one\r\ntwo\nthr")))

	var got []string
	for {
		f, err := acc.Next()
		if errors.Is(err, api.ErrInsufficientData) {
			break
		}
		require.NoError(t, err)
		got = append(got, string(f.Bytes()))
		_ = f.Release()
	}
	assert.Equal(t, []string{"one", "two"}, got)
	assert.Equal(t, 3, acc.Pending())
	require.NoError(t, acc.Append(wrap(t, a, "ee\n")))
	f, err := acc.Next()
	require.NoError(t, err)
	assert.Equal(t, "three", string(f.Bytes()))
	_ = f.Release()
	assert.NoError(t, acc.Close())
}

func TestFramers(t *testing.T) {
	cases := []struct {
		name      string
		framer    Framer
		in        string
		wantLen   int
		wantTaken int
		wantOK    bool
		wantErr   error
	}{
		{"fixed short", FixedLength(4), "abc", 0, 0, false, nil},
		{"fixed exact", FixedLength(4), "abcd", 4, 4, true, nil},
		{"fixed invalid", FixedLength(0), "abcd", 0, 0, false, api.ErrInvalidArgument},
		{"delim strip", Delimiter{Delim: []byte("||")}, "ab||cd", 2, 4, true, nil},
		{"delim keep", Delimiter{Delim: []byte("||"), KeepDelimiter: true}, "ab||", 4, 4, true, nil},
		{"delim waiting", Delimiter{Delim: []byte("||"), MaxLength: 8}, "ab|", 0, 0, false, nil},
		{"delim too long", Delimiter{Delim: []byte("|"), MaxLength: 2}, "abcd", 0, 0, false, api.ErrFrameTooLong},
		{"line crlf", LineFramer{}, "hi\r\nrest", 2, 4, true, nil},
		{"line empty", LineFramer{}, "\n", 0, 1, true, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, taken, ok, err := tc.framer.Frame([]byte(tc.in))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantLen, n)
			assert.Equal(t, tc.wantTaken, taken)
		})
	}
}

func TestAccumulator_FramingErrorDiscards(t *testing.T) {
	a := pool.NewAllocator()
	acc := NewAccumulator(a, LineFramer{MaxLength: 4})
	require.NoError(t, acc.Append(wrap(t, a, "toolongline")))
	assert.Equal(t, Ready, acc.State())
	_, err := acc.Next()
	assert.ErrorIs(t, err, api.ErrFrameTooLong)
	assert.Equal(t, 0, acc.Pending())
	assert.NoError(t, acc.Close())
}
