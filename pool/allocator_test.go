package pool_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/pool"
)

func TestAllocator_Bounds(t *testing.T) {
	a := pool.NewAllocator(pool.WithMaxCapacity(1024))

	_, err := a.Allocate(-1)
	assert.ErrorIs(t, err, api.ErrAllocationFailure)
	_, err = a.Allocate(2048)
	assert.ErrorIs(t, err, api.ErrAllocationFailure)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.ErrCodeResourceExhausted, apiErr.Code)
	assert.Equal(t, 2048, apiErr.Context["requested"])

	b, err := a.Allocate(1000)
	require.NoError(t, err)
	defer b.Release()
	assert.Equal(t, 1024, b.Cap())
	_, err = b.Write(make([]byte, 1024))
	require.NoError(t, err)
	_, err = b.Write([]byte{1})
	assert.ErrorIs(t, err, api.ErrAllocationFailure)
}

func TestAllocator_SizeClassesAndReuse(t *testing.T) {
	a := pool.NewAllocator()

	b1, err := a.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, 128, b1.Cap())
	require.NoError(t, b1.Release())

	b2, err := a.Allocate(65)
	require.NoError(t, err)
	defer b2.Release()
	assert.Equal(t, 128, b2.Cap())
	assert.Equal(t, int64(1), a.Stats().Reused, "storage of a released buffer is recycled")

	small, err := a.Allocate(0)
	require.NoError(t, err)
	defer small.Release()
	assert.Equal(t, 64, small.Cap())
}

func TestAllocator_ClassStats(t *testing.T) {
	a := pool.NewAllocator(pool.WithSlabCapacity(2))
	var bufs []*pool.Buffer
	for i := 0; i < 3; i++ {
		b, err := a.Allocate(64)
		require.NoError(t, err)
		bufs = append(bufs, b)
	}
	for _, b := range bufs {
		require.NoError(t, b.Release())
	}

	st := a.ClassStats()[0]
	assert.Equal(t, 64, st.Size)
	assert.Equal(t, uint64(3), st.Allocated)
	assert.Equal(t, uint64(1), st.Dropped, "a full slab drops the extra array")
	assert.Equal(t, 2, st.Idle)
	assert.Equal(t, 2, st.Capacity)

	b, err := a.Allocate(10)
	require.NoError(t, err)
	defer b.Release()
	st = a.ClassStats()[0]
	assert.Equal(t, uint64(1), st.Reused)
	assert.Equal(t, 1, st.Idle)
	assert.Len(t, a.ClassStats(), 11, "64 B through 64 KiB")
}

func TestAllocator_ConcurrentAllocateRelease(t *testing.T) {
	a := pool.NewAllocator(pool.WithSlabCapacity(64))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b, err := a.Allocate(512)
				if err != nil {
					t.Error(err)
					return
				}
				_, _ = b.Write([]byte("data"))
				_ = b.Release()
			}
		}()
	}
	wg.Wait()

	st := a.Stats()
	assert.Equal(t, int64(8000), st.TotalAlloc)
	assert.Equal(t, int64(8000), st.TotalFree)
	assert.Equal(t, int64(0), st.InUse)
}

func TestBatch_GathersReadableViews(t *testing.T) {
	a := pool.NewAllocator()
	x, _ := pool.Wrap(a, []byte("ab"))
	y, _ := a.Allocate(4)
	z, _ := pool.Wrap(a, []byte("cde"))
	defer x.Release()
	defer y.Release()
	defer z.Release()

	batch := pool.NewBatch(2)
	batch.Append(x)
	assert.False(t, batch.Full())
	batch.Append(y)
	assert.True(t, batch.Full())
	batch.Append(z)

	assert.Equal(t, 3, batch.Len())
	assert.Equal(t, 5, batch.Size())
	assert.Equal(t, [][]byte{[]byte("ab"), []byte("cde")}, batch.Iovecs())

	batch.Reset()
	assert.Equal(t, 0, batch.Len())
	assert.Equal(t, 0, batch.Size())
}
