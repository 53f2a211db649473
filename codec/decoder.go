// File: codec/decoder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"errors"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/pool"
)

// FrameDecoder is a pipeline handler that forwards every complete frame
// downstream as its own buffer, however the stream was split on the wire.
// Non-buffer messages pass through. One instance per channel.
type FrameDecoder struct {
	framer Framer
	acc    *Accumulator
}

// NewFrameDecoder builds a decoder for framer.
func NewFrameDecoder(framer Framer) *FrameDecoder {
	return &FrameDecoder{framer: framer}
}

func (d *FrameDecoder) HandlerAdded(ctx *channel.Context) {
	d.acc = NewAccumulator(ctx.Alloc(), d.framer)
}

func (d *FrameDecoder) ChannelRead(ctx *channel.Context, msg any) {
	buf, ok := msg.(*pool.Buffer)
	if !ok {
		ctx.FireRead(msg)
		return
	}
	if err := d.acc.Append(buf); err != nil {
		ctx.FireError(err)
		return
	}
	for !ctx.IsRemoved() {
		frame, err := d.acc.Next()
		if errors.Is(err, api.ErrInsufficientData) {
			return
		}
		if err != nil {
			ctx.FireError(err)
			return
		}
		ctx.FireRead(frame)
	}
}

func (d *FrameDecoder) ChannelInactive(ctx *channel.Context) {
	if err := d.acc.Close(); err != nil {
		ctx.FireError(err)
	}
	ctx.FireInactive()
}

func (d *FrameDecoder) HandlerRemoved(*channel.Context) {
	if d.acc != nil {
		_ = d.acc.Close()
	}
}
