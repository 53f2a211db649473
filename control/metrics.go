// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring.
// Exposes gauges in a thread-safe map and lock-free counters.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRegistry holds mutable and read-only metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	metrics  map[string]any
	counters map[string]*atomic.Int64
	updated  time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics:  make(map[string]any),
		counters: make(map[string]*atomic.Int64),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Add adjusts counter key by delta and returns the new value.
func (mr *MetricsRegistry) Add(key string, delta int64) int64 {
	mr.mu.RLock()
	c, ok := mr.counters[key]
	mr.mu.RUnlock()
	if !ok {
		mr.mu.Lock()
		if c, ok = mr.counters[key]; !ok {
			c = new(atomic.Int64)
			mr.counters[key] = c
		}
		mr.mu.Unlock()
	}
	return c.Add(delta)
}

// Counter returns the current value of counter key.
func (mr *MetricsRegistry) Counter(key string) int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if c, ok := mr.counters[key]; ok {
		return c.Load()
	}
	return 0
}

// GetSnapshot returns the latest metrics, counters included.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics)+len(mr.counters)+1)
	for k, v := range mr.metrics {
		out[k] = v
	}
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	if !mr.updated.IsZero() {
		out["updated"] = mr.updated
	}
	return out
}
