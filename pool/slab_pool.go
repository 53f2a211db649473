// File: pool/slab_pool.go
// Package pool implements lock-free slab allocation with size class support.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/concurrency"
)

// slabPool recycles backing arrays of one fixed size class.
type slabPool struct {
	size  int
	queue api.Ring[[]byte]

	allocated atomic.Uint64
	reused    atomic.Uint64
	dropped   atomic.Uint64
}

const defaultSlabCapacity = 1024

func newSlabPool(size, capacity int) *slabPool {
	return &slabPool{
		size:  size,
		queue: concurrency.NewLockFreeQueue[[]byte](capacity),
	}
}

// get returns a zero-length slice with cap == sp.size.
func (sp *slabPool) get() (buf []byte, reused bool) {
	if b, ok := sp.queue.Dequeue(); ok {
		sp.reused.Add(1)
		return b[:0], true
	}
	sp.allocated.Add(1)
	return make([]byte, 0, sp.size), false
}

// put hands storage back; a full slab lets the GC have it.
func (sp *slabPool) put(b []byte) {
	if cap(b) != sp.size {
		return
	}
	if !sp.queue.Enqueue(b[:0]) {
		sp.dropped.Add(1)
	}
}

func (sp *slabPool) stats() api.SlabStats {
	return api.SlabStats{
		Size:      sp.size,
		Allocated: sp.allocated.Load(),
		Reused:    sp.reused.Load(),
		Dropped:   sp.dropped.Load(),
		Idle:      sp.queue.Len(),
		Capacity:  sp.queue.Cap(),
	}
}
