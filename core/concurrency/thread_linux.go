//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "golang.org/x/sys/unix"

// currentThreadID identifies the OS thread of the calling goroutine. Event
// loop goroutines are locked to their thread, so the id identifies the loop.
func currentThreadID() int {
	return unix.Gettid()
}

// pinThread binds the calling OS thread to a single CPU.
func pinThread(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
