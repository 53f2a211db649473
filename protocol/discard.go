// File: protocol/discard.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"sync/atomic"

	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/internal/logging"
	"github.com/momentics/hioload-net/pool"
)

var log = logging.For("protocol")

// DiscardHandler drops every inbound message without inspecting it and
// never writes. A single instance may be shared by all channels.
type DiscardHandler struct {
	received atomic.Uint64
}

// NewDiscardHandler returns a shareable discard handler.
func NewDiscardHandler() *DiscardHandler { return &DiscardHandler{} }

func (d *DiscardHandler) ChannelRead(_ *channel.Context, msg any) {
	if b, ok := msg.(*pool.Buffer); ok {
		d.received.Add(uint64(b.ReadableBytes()))
	}
	pool.SafeRelease(msg)
}

func (d *DiscardHandler) ErrorCaught(ctx *channel.Context, err error) {
	closeOnError(ctx, err)
}

// Received returns the number of bytes discarded so far.
func (d *DiscardHandler) Received() uint64 { return d.received.Load() }

func closeOnError(ctx *channel.Context, err error) {
	log.Warn("closing channel on error", "channel", ctx.Channel().ID(), "remote", ctx.Channel().RemoteAddr(), "error", err)
	ctx.Close()
}
