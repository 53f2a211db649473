//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

// currentThreadID is unavailable off Linux; NewEventLoop already fails there
// because no poller backend exists.
func currentThreadID() int {
	return -1
}

func pinThread(int) error { return ErrAffinityNotSupported }
