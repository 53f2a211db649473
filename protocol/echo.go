// File: protocol/echo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import "github.com/momentics/hioload-net/channel"

// EchoHandler writes every inbound buffer straight back. Ownership moves
// with the write, so nothing is released here. Stateless and shareable.
type EchoHandler struct{}

func (EchoHandler) ChannelRead(ctx *channel.Context, msg any) {
	ctx.Write(msg).AddListener(channel.FireErrorOnFailure)
	ctx.Flush()
}

func (EchoHandler) ErrorCaught(ctx *channel.Context, err error) {
	closeOnError(ctx, err)
}
