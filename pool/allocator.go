// File: pool/allocator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Allocator hands out reference-counted Buffers whose storage comes from
// power-of-two size classes. Storage of released buffers is recycled
// through per-class slabs; the Buffer headers themselves are never reused,
// so a stale reference always observes the release.

package pool

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/logging"
)

var log = logging.For("pool")

const (
	minClassShift = 6  // 64 B
	maxClassShift = 16 // 64 KiB, largest pooled class

	// DefaultMaxCapacity bounds a single buffer.
	DefaultMaxCapacity = 16 << 20
)

// Allocator is safe for concurrent use from any number of loops.
type Allocator struct {
	slabs       []*slabPool
	maxCapacity int
	paranoid    bool

	totalAlloc atomic.Int64
	totalFree  atomic.Int64
	reused     atomic.Int64
}

// Option configures an Allocator.
type Option func(*allocatorConfig)

type allocatorConfig struct {
	maxCapacity  int
	paranoid     bool
	slabCapacity int
}

// WithMaxCapacity bounds any single buffer.
func WithMaxCapacity(n int) Option {
	return func(c *allocatorConfig) {
		if n > 0 {
			c.maxCapacity = n
		}
	}
}

// WithParanoid turns ownership violations into panics.
func WithParanoid(enabled bool) Option {
	return func(c *allocatorConfig) { c.paranoid = enabled }
}

// WithSlabCapacity sets how many idle arrays each size class retains.
func WithSlabCapacity(n int) Option {
	return func(c *allocatorConfig) {
		if n > 0 {
			c.slabCapacity = n
		}
	}
}

// NewAllocator builds an allocator with one slab per size class.
func NewAllocator(opts ...Option) *Allocator {
	cfg := allocatorConfig{
		maxCapacity:  DefaultMaxCapacity,
		slabCapacity: defaultSlabCapacity,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	a := &Allocator{
		maxCapacity: cfg.maxCapacity,
		paranoid:    cfg.paranoid,
	}
	for shift := minClassShift; shift <= maxClassShift; shift++ {
		a.slabs = append(a.slabs, newSlabPool(1<<shift, cfg.slabCapacity))
	}
	return a
}

var (
	defaultOnce  sync.Once
	defaultAlloc *Allocator
)

// Default returns the process-wide allocator so all channels share slabs.
func Default() *Allocator {
	defaultOnce.Do(func() {
		defaultAlloc = NewAllocator()
	})
	return defaultAlloc
}

// MaxCapacity returns the per-buffer limit.
func (a *Allocator) MaxCapacity() int { return a.maxCapacity }

// Paranoid reports whether ownership violations panic.
func (a *Allocator) Paranoid() bool { return a.paranoid }

// Allocate returns a Buffer with reference count 1 and capacity of at
// least minCapacity.
func (a *Allocator) Allocate(minCapacity int) (*Buffer, error) {
	if minCapacity < 0 || minCapacity > a.maxCapacity {
		return nil, api.NewError(api.ErrCodeResourceExhausted, api.ErrAllocationFailure, "allocation outside allocator bounds").
			WithContext("requested", minCapacity).
			WithContext("max", a.maxCapacity)
	}
	b := &Buffer{alloc: a, data: a.storage(minCapacity)}
	b.refs.Store(1)
	a.totalAlloc.Add(1)
	return b, nil
}

// Wrap allocates a buffer holding a copy of p.
func Wrap(a *Allocator, p []byte) (*Buffer, error) {
	if a == nil {
		a = Default()
	}
	b, err := a.Allocate(len(p))
	if err != nil {
		return nil, err
	}
	b.data = append(b.data, p...)
	b.w = len(p)
	return b, nil
}

// Stats reports allocator-wide counters.
func (a *Allocator) Stats() api.BufferPoolStats {
	alloc := a.totalAlloc.Load()
	free := a.totalFree.Load()
	return api.BufferPoolStats{
		TotalAlloc: alloc,
		TotalFree:  free,
		InUse:      alloc - free,
		Reused:     a.reused.Load(),
	}
}

// ClassStats reports per size class counters, smallest class first.
func (a *Allocator) ClassStats() []api.SlabStats {
	out := make([]api.SlabStats, len(a.slabs))
	for i, sp := range a.slabs {
		out[i] = sp.stats()
	}
	return out
}

// storage returns a zero-length slice with capacity >= n. Requests above the
// largest class are allocated exactly rounded to a power of two and never
// pooled.
func (a *Allocator) storage(n int) []byte {
	if idx, ok := classIndex(n); ok {
		b, reused := a.slabs[idx].get()
		if reused {
			a.reused.Add(1)
		}
		return b
	}
	size := roundPow2(n)
	if size > a.maxCapacity {
		size = a.maxCapacity
	}
	return make([]byte, 0, size)
}

func (a *Allocator) recycle(b []byte) {
	if b == nil {
		return
	}
	if idx, ok := classIndex(cap(b)); ok && cap(b) == 1<<(idx+minClassShift) {
		a.slabs[idx].put(b)
	}
}

func (a *Allocator) released() { a.totalFree.Add(1) }

// violation reports an ownership error loudly and returns it.
func (a *Allocator) violation(err error, b *Buffer) error {
	log.Error("buffer ownership violation", "error", err, "buffer", b.String())
	if a.paranoid {
		panic(err)
	}
	return err
}

func classIndex(n int) (int, bool) {
	size := roundPow2(n)
	shift := bits.TrailingZeros(uint(size))
	if shift < minClassShift {
		shift = minClassShift
	}
	if shift > maxClassShift {
		return 0, false
	}
	return shift - minClassShift, true
}

func roundPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
