// Package pool: zero-alloc batching without locks.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Batch gathers the readable views of several Buffers into one iovec list
// for vectored writes. It is NOT thread-safe and is reused by its owner.

package pool

// Batch is a reusable list of buffer views.
type Batch struct {
	buffers []*Buffer
	iovecs  [][]byte
	size    int
}

// NewBatch creates a batch with the given capacity.
func NewBatch(capacity int) *Batch {
	return &Batch{
		buffers: make([]*Buffer, 0, capacity),
		iovecs:  make([][]byte, 0, capacity),
	}
}

// Append adds the readable region of buf. Empty buffers are recorded so
// callers can complete them, but contribute no iovec.
func (b *Batch) Append(buf *Buffer) {
	b.buffers = append(b.buffers, buf)
	if p := buf.Bytes(); len(p) > 0 {
		b.iovecs = append(b.iovecs, p)
		b.size += len(p)
	}
}

// Len returns the number of buffers in the batch.
func (b *Batch) Len() int { return len(b.buffers) }

// Size returns the total readable bytes.
func (b *Batch) Size() int { return b.size }

// Full reports whether the batch reached its capacity.
func (b *Batch) Full() bool { return len(b.buffers) >= cap(b.buffers) }

// Iovecs returns the gathered views.
func (b *Batch) Iovecs() [][]byte { return b.iovecs }

// Buffers returns the batched buffers.
func (b *Batch) Buffers() []*Buffer { return b.buffers }

// Reset clears the batch retaining its backing arrays.
func (b *Batch) Reset() {
	for i := range b.buffers {
		b.buffers[i] = nil
	}
	for i := range b.iovecs {
		b.iovecs[i] = nil
	}
	b.buffers = b.buffers[:0]
	b.iovecs = b.iovecs[:0]
	b.size = 0
}
