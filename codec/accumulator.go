// File: codec/accumulator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Accumulator turns an arbitrarily split byte stream into whole frames.
// It is a two state machine: Waiting until the framer sees a complete
// frame, Ready while at least one frame can be taken. Remainder bytes after
// a frame stay queued for the next one.

package codec

import (
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/pool"
)

// State of an Accumulator.
type State int

const (
	Waiting State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "waiting"
}

// Accumulator owns its cumulation buffer. Not safe for concurrent use; it
// lives on one channel's loop.
type Accumulator struct {
	framer Framer
	alloc  *pool.Allocator
	cum    *pool.Buffer
	closed bool
}

// NewAccumulator creates an empty accumulator. A nil alloc uses the
// process default.
func NewAccumulator(alloc *pool.Allocator, framer Framer) *Accumulator {
	if alloc == nil {
		alloc = pool.Default()
	}
	return &Accumulator{framer: framer, alloc: alloc}
}

// Append copies the readable bytes of in and releases it.
func (a *Accumulator) Append(in *pool.Buffer) error {
	defer in.Release()
	if a.closed {
		return api.ErrChannelClosed
	}
	if a.cum == nil {
		b, err := a.alloc.Allocate(in.ReadableBytes())
		if err != nil {
			return err
		}
		a.cum = b
	}
	return a.cum.WriteBytes(in)
}

// State reports whether a frame can be taken.
func (a *Accumulator) State() State {
	if a.cum == nil {
		return Waiting
	}
	_, _, ok, err := a.framer.Frame(a.cum.Bytes())
	if ok || err != nil {
		return Ready
	}
	return Waiting
}

// Pending returns the number of accumulated, unframed bytes.
func (a *Accumulator) Pending() int {
	if a.cum == nil {
		return 0
	}
	return a.cum.ReadableBytes()
}

// Next removes exactly one frame from the front and returns it as a new
// buffer owned by the caller. It returns api.ErrInsufficientData while
// waiting. A framing error discards everything accumulated.
func (a *Accumulator) Next() (*pool.Buffer, error) {
	if a.cum == nil {
		return nil, api.ErrInsufficientData
	}
	readable := a.cum.Bytes()
	frameLen, consumed, ok, err := a.framer.Frame(readable)
	if err != nil {
		_ = a.cum.Reset()
		return nil, err
	}
	if !ok {
		return nil, api.ErrInsufficientData
	}
	frame, err := pool.Wrap(a.alloc, readable[:frameLen])
	if err != nil {
		return nil, err
	}
	_ = a.cum.Skip(consumed)
	switch {
	case a.cum.ReadableBytes() == 0:
		_ = a.cum.Reset()
	case a.cum.ReaderIndex() > a.cum.Cap()/2:
		_ = a.cum.DiscardReadBytes()
	}
	return frame, nil
}

// Close releases the cumulation. It reports a TruncatedMessageError when
// unframed bytes were still pending. Close is idempotent.
func (a *Accumulator) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	pending := a.Pending()
	if a.cum != nil {
		_ = a.cum.Release()
		a.cum = nil
	}
	if pending > 0 {
		return &api.TruncatedMessageError{Pending: pending}
	}
	return nil
}
