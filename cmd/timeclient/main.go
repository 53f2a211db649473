// File: cmd/timeclient/main.go
// Package main
// TIME protocol client: connects, prints the server time and exits.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-net/bootstrap"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/internal/logging"
	"github.com/momentics/hioload-net/protocol"
)

const maxAttempts = 5

var log = logging.For("timeclient")

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <host> <port>\n", os.Args[0])
		os.Exit(2)
	}
	logging.Setup(logging.Console(os.Stderr), zerolog.WarnLevel)

	if err := run(net.JoinHostPort(os.Args[1], os.Args[2])); err != nil {
		fmt.Fprintln(os.Stderr, "timeclient:", err)
		os.Exit(1)
	}
}

func run(addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, err := concurrency.NewLoopGroup(1)
	if err != nil {
		return err
	}
	group.Start(context.Background())
	defer group.ShutdownGracefully()

	result := make(chan error, 1)
	b := bootstrap.NewBootstrap(group, func(ch *channel.Channel) error {
		return ch.Pipeline().AddLast(&protocol.TimeClientHandler{
			OnTime: func(t time.Time) {
				fmt.Println(t.Local().Format(time.RFC1123))
				result <- nil
			},
			OnError: func(err error) { result <- err },
		})
	})

	bo := backoff.Backoff{Min: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}
	var ch *channel.Channel
	for {
		f := b.Connect(ctx, addr)
		err := f.Wait(ctx)
		if err == nil {
			ch = f.Channel()
			break
		}
		if ctx.Err() != nil || bo.Attempt() >= maxAttempts-1 {
			return fmt.Errorf("connect %s: %w", addr, err)
		}
		d := bo.Duration()
		log.Warn("connect failed, retrying", "addr", addr, "error", err, "delay", d)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case err = <-result:
	case <-ctx.Done():
		ch.Close()
		return ctx.Err()
	}
	if werr := ch.CloseFuture().Wait(ctx); werr != nil && !errors.Is(werr, context.Canceled) {
		return werr
	}
	return err
}
