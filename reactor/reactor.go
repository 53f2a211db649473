// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness poller interface used by event loops.

package reactor

import "strings"

// EventType is a bitmask of readiness conditions.
type EventType uint32

const (
	EventRead EventType = 1 << iota
	EventWrite
	EventError
)

func (e EventType) String() string {
	var parts []string
	if e&EventRead != 0 {
		parts = append(parts, "read")
	}
	if e&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if e&EventError != 0 {
		parts = append(parts, "error")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event contains readiness information returned by Wait.
type Event struct {
	Fd     int
	Events EventType
}

// Poller multiplexes readiness notifications for a set of descriptors.
// A Poller is owned by exactly one event loop; only Wakeup may be called
// from other goroutines.
type Poller interface {
	// Add registers fd for the given interest set.
	Add(fd int, interest EventType) error

	// Modify replaces the interest set of a registered fd.
	Modify(fd int, interest EventType) error

	// Delete removes fd from the interest list.
	Delete(fd int) error

	// Wait blocks until at least one event is ready, Wakeup is called, or
	// timeoutMs elapses (timeoutMs < 0 blocks indefinitely). It fills events
	// and returns the number written.
	Wait(events []Event, timeoutMs int) (int, error)

	// Wakeup interrupts a blocked Wait. Safe for concurrent use.
	Wakeup() error

	// Close releases the poller backend.
	Close() error
}
