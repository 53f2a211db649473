// File: core/concurrency/errors.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import (
	"errors"

	"github.com/momentics/hioload-net/api"
)

var (
	// ErrExecutorClosed indicates the executor has been shut down
	ErrExecutorClosed = errors.New("executor is closed")

	// ErrExecutorBusy indicates every executor queue is full
	ErrExecutorBusy = errors.New("executor queue is full")

	// ErrInvalidLoopCount indicates a loop group was sized below one
	ErrInvalidLoopCount = errors.New("invalid event loop count")

	// ErrNotInLoop is returned by loop-affine calls made from a foreign goroutine
	ErrNotInLoop = errors.New("call must be made from the event loop goroutine")

	// ErrAffinityNotSupported indicates CPU pinning is not available on this platform
	ErrAffinityNotSupported = errors.New("CPU affinity not supported")

	// ErrLoopShutdown is re-exported so callers of this package need not import api.
	ErrLoopShutdown = api.ErrLoopShutdown
)
