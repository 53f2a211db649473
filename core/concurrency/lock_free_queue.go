// File: core/concurrency/lock_free_queue.go
// Package concurrency provides a lock-free queue for loop inboxes and slab pools.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync/atomic"

	"github.com/momentics/hioload-net/api"
)

var _ api.Ring[any] = (*LockFreeQueue[any])(nil)

// LockFreeQueue is a bounded MPMC queue using per-cell sequence numbers.
// Based on the pattern by Dmitry Vyukov for MPMC queues.
type LockFreeQueue[T any] struct {
	head  uint64
	_     [cacheLinePad]byte
	tail  uint64
	_     [cacheLinePad]byte
	mask  uint64
	cells []cell[T]
}

const cacheLinePad = 64

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// NewLockFreeQueue creates a new queue with capacity rounded to power of two.
func NewLockFreeQueue[T any](capacity int) *LockFreeQueue[T] {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}

	q := &LockFreeQueue[T]{
		mask:  uint64(size - 1),
		cells: make([]cell[T], size),
	}
	for i := range q.cells {
		q.cells[i].sequence.Store(uint64(i))
	}
	return q
}

// Enqueue adds val; returns false if full.
func (q *LockFreeQueue[T]) Enqueue(val T) bool {
	for {
		tail := atomic.LoadUint64(&q.tail)
		c := &q.cells[tail&q.mask]
		dif := int64(c.sequence.Load()) - int64(tail)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.tail, tail, tail+1) {
				c.data = val
				c.sequence.Store(tail + 1)
				return true
			}
		case dif < 0:
			return false // full
		}
	}
}

// Dequeue removes and returns an item; ok false if empty.
func (q *LockFreeQueue[T]) Dequeue() (item T, ok bool) {
	for {
		head := atomic.LoadUint64(&q.head)
		c := &q.cells[head&q.mask]
		dif := int64(c.sequence.Load()) - int64(head+1)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.head, head, head+1) {
				item = c.data
				var zero T
				c.data = zero
				c.sequence.Store(head + q.mask + 1)
				return item, true
			}
		case dif < 0:
			return item, false // empty
		}
	}
}

// Len returns an approximate number of queued items.
func (q *LockFreeQueue[T]) Len() int {
	head := atomic.LoadUint64(&q.head)
	tail := atomic.LoadUint64(&q.tail)
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Cap returns the fixed queue capacity.
func (q *LockFreeQueue[T]) Cap() int {
	return len(q.cells)
}
