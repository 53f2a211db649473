// File: protocol/time.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TIME protocol: the server sends one 32-bit big-endian count of seconds
// since 1900-01-01T00:00:00Z and closes; the client reads exactly those four
// bytes however they arrive.

package protocol

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/codec"
	"github.com/momentics/hioload-net/pool"
)

// TimeOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const TimeOffset = 2208988800

// EncodeTime converts t to the TIME wire value. It wraps after 2036.
func EncodeTime(t time.Time) uint32 {
	return uint32(t.Unix() + TimeOffset)
}

// DecodeTime converts a TIME wire value to UTC.
func DecodeTime(v uint32) time.Time {
	return time.Unix(int64(v)-TimeOffset, 0).UTC()
}

// TimeServerHandler answers every new connection with the current time.
type TimeServerHandler struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

func (h *TimeServerHandler) ChannelActive(ctx *channel.Context) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	buf, err := ctx.Alloc().Allocate(4)
	if err != nil {
		closeOnError(ctx, err)
		return
	}
	if err := buf.WriteUint32(EncodeTime(now())); err != nil {
		_ = buf.Release()
		closeOnError(ctx, err)
		return
	}
	ctx.WriteAndFlush(buf).AddListener(channel.CloseOnComplete)
	ctx.FireActive()
}

func (h *TimeServerHandler) ErrorCaught(ctx *channel.Context, err error) {
	closeOnError(ctx, err)
}

// TimeClientHandler accumulates the four TIME bytes, reports the decoded
// value through OnTime and closes the channel. A connection that ends early
// is reported through OnError with an api.TruncatedMessageError, or with
// api.ErrChannelClosed when no byte arrived at all. Use one instance per
// channel.
type TimeClientHandler struct {
	OnTime  func(time.Time)
	OnError func(error)

	acc  *codec.Accumulator
	done bool
}

func (h *TimeClientHandler) HandlerAdded(ctx *channel.Context) {
	h.acc = codec.NewAccumulator(ctx.Alloc(), codec.FixedLength(4))
}

func (h *TimeClientHandler) HandlerRemoved(*channel.Context) {
	if h.acc != nil {
		_ = h.acc.Close()
	}
}

func (h *TimeClientHandler) ChannelRead(ctx *channel.Context, msg any) {
	buf, ok := msg.(*pool.Buffer)
	if !ok {
		pool.SafeRelease(msg)
		h.ErrorCaught(ctx, fmt.Errorf("%T: %w", msg, api.ErrUnsupportedMessage))
		return
	}
	if h.done {
		_ = buf.Release()
		return
	}
	if err := h.acc.Append(buf); err != nil {
		h.ErrorCaught(ctx, err)
		return
	}
	if h.acc.State() != codec.Ready {
		return
	}
	frame, err := h.acc.Next()
	if err != nil {
		h.ErrorCaught(ctx, err)
		return
	}
	v, err := frame.ReadUint32()
	_ = frame.Release()
	if err != nil {
		h.ErrorCaught(ctx, err)
		return
	}
	h.done = true
	if h.OnTime != nil {
		h.OnTime(DecodeTime(v))
	}
	ctx.Close()
}

func (h *TimeClientHandler) ChannelInactive(ctx *channel.Context) {
	err := h.acc.Close()
	if !h.done {
		if err == nil {
			// nothing arrived, so no message was in progress
			err = fmt.Errorf("no time received: %w", api.ErrChannelClosed)
		}
		h.report(err)
	}
	ctx.FireInactive()
}

func (h *TimeClientHandler) ErrorCaught(ctx *channel.Context, err error) {
	h.report(err)
	closeOnError(ctx, err)
}

func (h *TimeClientHandler) report(err error) {
	if h.done {
		return
	}
	h.done = true
	if h.OnError != nil {
		h.OnError(err)
	}
}
