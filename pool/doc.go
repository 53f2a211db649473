// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for hioload-net: reference-counted byte buffers with
// independent read/write cursors, a size-class allocator whose slabs are
// backed by the lock-free MPMC queue, and write batches for vectored I/O.
// See buffer.go, allocator.go and batch.go for implementation details.
package pool
