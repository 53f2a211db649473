// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that stop accepting work,
// drain what is in flight, and then terminate.
type GracefulShutdown interface {
	// ShutdownGracefully is idempotent; it returns once the component has terminated.
	ShutdownGracefully() error
}
