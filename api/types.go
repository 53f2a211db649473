// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import "time"

// ChannelState enumerates the lifecycle of a channel.
type ChannelState int32

const (
	StateIdle ChannelState = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelStats is a point-in-time copy of a channel's traffic counters.
type ChannelStats struct {
	BytesRead    uint64
	BytesWritten uint64
	Reads        uint64
	Writes       uint64
	OpenedAt     time.Time
}

// BufferPoolStats aggregates buffer allocation/reuse stats.
type BufferPoolStats struct {
	TotalAlloc int64
	TotalFree  int64
	InUse      int64
	Reused     int64
}

// SlabStats describes one allocator size class.
type SlabStats struct {
	Size      int
	Allocated uint64 // arrays created because the slab was empty
	Reused    uint64
	Dropped   uint64 // arrays returned while the slab was full
	Idle      int
	Capacity  int
}
