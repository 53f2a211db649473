// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Buffer is a contiguous byte region with independent read and write
// cursors, 0 <= ReaderIndex <= WriterIndex <= Cap. Its lifetime is governed
// by an explicit reference count; the last Release returns the storage to
// the allocator. A Buffer is owned by one goroutine at a time, only the
// reference count is atomic.

package pool

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/momentics/hioload-net/api"
)

// ReferenceCounted is implemented by messages whose lifetime is explicit.
type ReferenceCounted interface {
	Retain() error
	Release() error
	RefCnt() int32
}

var (
	_ ReferenceCounted = (*Buffer)(nil)
	_ io.Writer        = (*Buffer)(nil)
	_ io.Reader        = (*Buffer)(nil)
)

// Buffer is obtained from Allocator.Allocate or Wrap.
type Buffer struct {
	alloc *Allocator
	data  []byte // len(data) == w
	r, w  int
	refs  atomic.Int32
}

// Alloc returns the allocator the buffer grows from.
func (b *Buffer) Alloc() *Allocator { return b.alloc }

// RefCnt returns the current reference count.
func (b *Buffer) RefCnt() int32 { return b.refs.Load() }

func (b *Buffer) live() error {
	if b.refs.Load() <= 0 {
		return b.alloc.violation(api.ErrUseAfterRelease, b)
	}
	return nil
}

// Retain adds a reference.
func (b *Buffer) Retain() error {
	for {
		cur := b.refs.Load()
		if cur <= 0 {
			return b.alloc.violation(api.ErrUseAfterRelease, b)
		}
		if b.refs.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// Release drops a reference; at zero the storage goes back to the allocator.
func (b *Buffer) Release() error {
	for {
		cur := b.refs.Load()
		if cur <= 0 {
			return b.alloc.violation(api.ErrDoubleRelease, b)
		}
		if !b.refs.CompareAndSwap(cur, cur-1) {
			continue
		}
		if cur == 1 {
			data := b.data
			b.data = nil
			b.r, b.w = 0, 0
			b.alloc.recycle(data)
			b.alloc.released()
		}
		return nil
	}
}

// Cap returns the current capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// ReaderIndex returns the read cursor.
func (b *Buffer) ReaderIndex() int { return b.r }

// WriterIndex returns the write cursor.
func (b *Buffer) WriterIndex() int { return b.w }

// ReadableBytes returns WriterIndex - ReaderIndex.
func (b *Buffer) ReadableBytes() int { return b.w - b.r }

// WritableBytes returns Cap - WriterIndex.
func (b *Buffer) WritableBytes() int { return cap(b.data) - b.w }

// Bytes returns the readable region. The view is invalidated by the next
// mutating call and by the final Release.
func (b *Buffer) Bytes() []byte {
	if b.live() != nil {
		return nil
	}
	return b.data[b.r:b.w]
}

// Writable returns the unused tail for direct fills; pair it with Commit.
func (b *Buffer) Writable() []byte {
	if b.live() != nil {
		return nil
	}
	return b.data[b.w:cap(b.data)]
}

// Commit advances the writer index over n bytes filled through Writable.
func (b *Buffer) Commit(n int) error {
	if err := b.live(); err != nil {
		return err
	}
	if n < 0 || n > b.WritableBytes() {
		return fmt.Errorf("commit %d of %d writable: %w", n, b.WritableBytes(), api.ErrInvalidArgument)
	}
	b.w += n
	b.data = b.data[:b.w]
	return nil
}

// EnsureWritable makes room for n more bytes, compacting or growing.
func (b *Buffer) EnsureWritable(n int) error {
	if err := b.live(); err != nil {
		return err
	}
	if n < 0 {
		return api.ErrInvalidArgument
	}
	if b.WritableBytes() >= n {
		return nil
	}
	readable := b.ReadableBytes()
	need := readable + n
	if need <= cap(b.data) {
		b.compact()
		return nil
	}
	if need > b.alloc.maxCapacity {
		return api.NewError(api.ErrCodeResourceExhausted, api.ErrAllocationFailure, "buffer growth exceeds allocator limit").
			WithContext("requested", need).
			WithContext("max", b.alloc.maxCapacity)
	}
	grown := b.alloc.storage(need)
	grown = append(grown, b.data[b.r:b.w]...)
	old := b.data
	b.data, b.r, b.w = grown, 0, readable
	b.alloc.recycle(old)
	return nil
}

// Write appends p, growing as needed.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.EnsureWritable(len(p)); err != nil {
		return 0, err
	}
	b.data = append(b.data, p...)
	b.w += len(p)
	return len(p), nil
}

// WriteBytes appends the readable bytes of src and consumes them from src.
func (b *Buffer) WriteBytes(src *Buffer) error {
	if err := src.live(); err != nil {
		return err
	}
	n, err := b.Write(src.data[src.r:src.w])
	if err != nil {
		return err
	}
	src.r += n
	return nil
}

// WriteUint32 appends v in network byte order.
func (b *Buffer) WriteUint32(v uint32) error {
	if err := b.EnsureWritable(4); err != nil {
		return err
	}
	b.data = binary.BigEndian.AppendUint32(b.data, v)
	b.w += 4
	return nil
}

// ReadUint32 consumes four bytes in network byte order.
func (b *Buffer) ReadUint32() (uint32, error) {
	if err := b.live(); err != nil {
		return 0, err
	}
	if b.ReadableBytes() < 4 {
		return 0, api.ErrInsufficientData
	}
	v := binary.BigEndian.Uint32(b.data[b.r:])
	b.r += 4
	return v, nil
}

// ReadBytes consumes n bytes and returns a copy of them.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if err := b.live(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, api.ErrInvalidArgument
	}
	if b.ReadableBytes() < n {
		return nil, api.ErrInsufficientData
	}
	out := make([]byte, n)
	copy(out, b.data[b.r:b.r+n])
	b.r += n
	return out, nil
}

// Read implements io.Reader over the readable region.
func (b *Buffer) Read(p []byte) (int, error) {
	if err := b.live(); err != nil {
		return 0, err
	}
	if b.ReadableBytes() == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[b.r:b.w])
	b.r += n
	return n, nil
}

// Skip advances the reader index by n.
func (b *Buffer) Skip(n int) error {
	if err := b.live(); err != nil {
		return err
	}
	if n < 0 {
		return api.ErrInvalidArgument
	}
	if b.ReadableBytes() < n {
		return api.ErrInsufficientData
	}
	b.r += n
	return nil
}

// DiscardReadBytes moves unread bytes to the front, reclaiming the consumed
// prefix.
func (b *Buffer) DiscardReadBytes() error {
	if err := b.live(); err != nil {
		return err
	}
	b.compact()
	return nil
}

func (b *Buffer) compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.data[:cap(b.data)], b.data[b.r:b.w])
	b.data = b.data[:n]
	b.r, b.w = 0, n
}

// Reset empties the buffer keeping its storage.
func (b *Buffer) Reset() error {
	if err := b.live(); err != nil {
		return err
	}
	b.data = b.data[:0]
	b.r, b.w = 0, 0
	return nil
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(ridx: %d, widx: %d, cap: %d, refCnt: %d)", b.r, b.w, cap(b.data), b.refs.Load())
}
