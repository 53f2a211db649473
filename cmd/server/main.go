// File: cmd/server/main.go
// Package main
// Discard, echo and TIME servers over the event loop framework.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/bootstrap"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/internal/logging"
	"github.com/momentics/hioload-net/pool"
	"github.com/momentics/hioload-net/protocol"
)

var log = logging.For("server")

func main() {
	port := flag.Int("port", 8082, "TCP listen port")
	proto := flag.String("protocol", "echo", "protocol to serve: discard, echo or time")
	configPath := flag.String("config", "", "JSON socket options file, reloaded on change")
	workers := flag.Int("workers", 0, "worker event loops (0 = one per CPU)")
	pin := flag.Bool("pin", false, "pin event loops to CPUs")
	level := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q\n", *level)
		os.Exit(2)
	}
	logging.Setup(logging.Console(os.Stderr), lvl)

	childInit, err := initializer(*proto)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(*port, childInit, *configPath, *workers, *pin); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func initializer(proto string) (channel.Initializer, error) {
	switch proto {
	case "discard":
		return func(ch *channel.Channel) error {
			return ch.Pipeline().AddLast(protocol.NewDiscardHandler())
		}, nil
	case "echo":
		return func(ch *channel.Channel) error {
			return ch.Pipeline().AddLast(protocol.EchoHandler{})
		}, nil
	case "time":
		return func(ch *channel.Channel) error {
			return ch.Pipeline().AddLast(&protocol.TimeServerHandler{})
		}, nil
	}
	return nil, fmt.Errorf("unknown protocol %q", proto)
}

func run(port int, childInit channel.Initializer, configPath string, workers int, pin bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := control.NewConfigStore()
	if configPath != "" {
		if err := control.Watch(ctx, configPath, store); err != nil {
			return err
		}
	}
	metrics := control.NewMetricsRegistry()
	hooks := control.NewDebugHooks()
	control.RegisterPlatformHooks(hooks)

	boss, err := concurrency.NewLoopGroup(1)
	if err != nil {
		return err
	}
	workerGroup, err := concurrency.NewLoopGroup(workers, concurrency.WithCPUPinning(pin))
	if err != nil {
		return err
	}
	executor := concurrency.NewExecutor(workerGroup.Len(), false)
	defer executor.Close()

	alloc := pool.Default()
	hooks.RegisterHook("pool.in_use", func() any { return alloc.Stats().InUse })
	hooks.RegisterHook("pool.classes", func() any { return alloc.ClassStats() })
	hooks.RegisterHook("loops.workers", func() any { return workerGroup.Len() })

	// loops outlive ctx; shutdown below is ordered explicitly
	boss.Start(context.Background())
	workerGroup.Start(context.Background())

	b := bootstrap.NewServerBootstrap(boss, workerGroup, childInit,
		bootstrap.WithConfigStore(store),
		bootstrap.WithMetrics(metrics),
		bootstrap.WithChildAllocator(alloc),
		bootstrap.WithChildExecutor(executor),
	)
	srv, err := b.Bind(ctx, net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return errors.Join(err, shutdown(workerGroup, boss))
	}
	log.Info("server started", "addr", srv.Addr(), "workers", workerGroup.Len())

	<-ctx.Done()
	log.Info("shutdown signal received")

	err = shutdown(srv, workerGroup, boss)
	log.Info("server stopped",
		"connections", metrics.Counter(bootstrap.MetricTotalConnections),
		"state", hooks.DumpState())
	return err
}

// shutdown stops components in the given order and joins their errors.
func shutdown(components ...api.GracefulShutdown) error {
	var errs []error
	for _, c := range components {
		if err := c.ShutdownGracefully(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
