package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockFreeQueue_MPMC(t *testing.T) {
	q := NewLockFreeQueue[int](1024)
	producers := 10
	consumers := 10
	itemsPerProducer := 10000

	var wg sync.WaitGroup
	var sentSum, receivedSum, receivedCount int64
	totalItems := int64(producers * itemsPerProducer)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := pid*itemsPerProducer + i + 1
				for !q.Enqueue(val) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sentSum, int64(val))
			}
		}(p)
	}

	consumerWg := sync.WaitGroup{}
	for c := 0; c < consumers; c++ {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			for {
				if val, ok := q.Dequeue(); ok {
					atomic.AddInt64(&receivedSum, int64(val))
					if atomic.AddInt64(&receivedCount, 1) == totalItems {
						return
					}
				} else {
					if atomic.LoadInt64(&receivedCount) >= totalItems {
						return
					}
					runtime.Gosched()
				}
			}
		}()
	}

	wg.Wait()

	done := make(chan struct{})
	go func() {
		consumerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		assert.Equal(t, atomic.LoadInt64(&sentSum), atomic.LoadInt64(&receivedSum), "checksum mismatch")
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for consumers, received %d/%d", atomic.LoadInt64(&receivedCount), totalItems)
	}
}

func TestLockFreeQueue_Bounds(t *testing.T) {
	q := NewLockFreeQueue[string](3)
	require.Equal(t, 4, q.Cap(), "capacity rounds up to a power of two")

	for _, s := range []string{"a", "b", "c", "d"} {
		require.True(t, q.Enqueue(s))
	}
	assert.False(t, q.Enqueue("e"), "full queue rejects")
	assert.Equal(t, 4, q.Len())

	for _, want := range []string{"a", "b", "c", "d"} {
		got, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.Dequeue()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestExecutor_RunsAndDrains(t *testing.T) {
	e := NewExecutor(4, false)
	require.Equal(t, 4, e.NumWorkers())

	var ran atomic.Int64
	for i := 0; i < 500; i++ {
		for e.Submit(func() { ran.Add(1) }) == ErrExecutorBusy {
			runtime.Gosched()
		}
	}
	require.NoError(t, e.Submit(func() { panic("boom") }), "panicking task is accepted")
	e.Close()

	assert.Equal(t, int64(500), ran.Load())
	assert.ErrorIs(t, e.Submit(func() {}), ErrExecutorClosed)
	e.Close()
}
