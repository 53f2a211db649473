// File: channel/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Future is the completion handle of an asynchronous channel operation.

package channel

import (
	"context"
	"sync"
)

const (
	futurePending int32 = iota
	futureSucceeded
	futureFailed
)

// Listener observes the completion of a Future.
type Listener func(f *Future)

// Future transitions exactly once from pending to succeeded or failed.
// Listeners fire in registration order, each at most once; a listener added
// after completion fires immediately on the caller's goroutine.
type Future struct {
	ch *Channel

	mu        sync.Mutex
	state     int32
	err       error
	listeners []Listener
	done      chan struct{}
}

// NewFuture returns a pending future bound to ch (which may be nil).
func NewFuture(ch *Channel) *Future {
	return &Future{ch: ch, done: make(chan struct{})}
}

// SucceededFuture returns an already successful future.
func SucceededFuture(ch *Channel) *Future {
	f := NewFuture(ch)
	f.Succeed()
	return f
}

// FailedFuture returns an already failed future.
func FailedFuture(ch *Channel, err error) *Future {
	f := NewFuture(ch)
	f.Fail(err)
	return f
}

// Channel returns the channel the operation belongs to.
func (f *Future) Channel() *Channel { return f.ch }

// Succeed completes the future successfully. It reports false if the future
// was already complete.
func (f *Future) Succeed() bool { return f.complete(futureSucceeded, nil) }

// Fail completes the future with err. It reports false if the future was
// already complete.
func (f *Future) Fail(err error) bool { return f.complete(futureFailed, err) }

func (f *Future) complete(state int32, err error) bool {
	f.mu.Lock()
	if f.state != futurePending {
		f.mu.Unlock()
		return false
	}
	f.state = state
	f.err = err
	listeners := f.listeners
	f.listeners = nil
	close(f.done)
	f.mu.Unlock()

	for _, l := range listeners {
		f.notify(l)
	}
	return true
}

func (f *Future) notify(l Listener) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in future listener", "panic", r)
		}
	}()
	l(f)
}

// AddListener registers l and returns f for chaining.
func (f *Future) AddListener(l Listener) *Future {
	f.mu.Lock()
	if f.state == futurePending {
		f.listeners = append(f.listeners, l)
		f.mu.Unlock()
		return f
	}
	f.mu.Unlock()
	f.notify(l)
	return f
}

// IsDone reports whether the future has completed.
func (f *Future) IsDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != futurePending
}

// IsSuccess reports whether the future completed successfully.
func (f *Future) IsSuccess() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == futureSucceeded
}

// Err returns the failure cause, or nil while pending or on success.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Done is closed on completion.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until completion or ctx expiry. Never call it from a loop
// goroutine: the loop is what completes the future.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseOnComplete closes the channel once the operation completes.
func CloseOnComplete(f *Future) {
	if f.ch != nil {
		f.ch.Close()
	}
}

// CloseOnFailure closes the channel if the operation failed.
func CloseOnFailure(f *Future) {
	if f.ch != nil && !f.IsSuccess() {
		f.ch.Close()
	}
}

// FireErrorOnFailure sends the failure cause through the channel's pipeline.
func FireErrorOnFailure(f *Future) {
	if f.ch != nil && !f.IsSuccess() {
		err := f.Err()
		f.ch.runOnLoop(func() { f.ch.pipeline.FireError(err) })
	}
}
