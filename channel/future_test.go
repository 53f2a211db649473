package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_ListenersFireInOrderOnce(t *testing.T) {
	f := NewFuture(nil)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		f.AddListener(func(*Future) { order = append(order, i) })
	}
	assert.False(t, f.IsDone())

	require.True(t, f.Succeed())
	assert.False(t, f.Succeed(), "second completion is ignored")
	assert.False(t, f.Fail(errors.New("late")))

	assert.Equal(t, []int{0, 1, 2}, order)
	assert.True(t, f.IsSuccess())
	assert.NoError(t, f.Err())

	f.AddListener(func(*Future) { order = append(order, 3) })
	assert.Equal(t, []int{0, 1, 2, 3}, order, "late listener fires immediately")
}

func TestFuture_FailureAndWait(t *testing.T) {
	boom := errors.New("boom")
	f := NewFuture(nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Fail(boom)
	}()
	assert.ErrorIs(t, f.Wait(context.Background()), boom)
	assert.False(t, f.IsSuccess())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, NewFuture(nil).Wait(ctx), context.DeadlineExceeded)
}

func TestFuture_ListenerPanicDoesNotStopOthers(t *testing.T) {
	f := NewFuture(nil)
	called := false
	f.AddListener(func(*Future) { panic("listener") })
	f.AddListener(func(*Future) { called = true })
	f.Succeed()
	assert.True(t, called)
}

func TestFuture_CloseListeners(t *testing.T) {
	e := NewEmbeddedChannel()
	FailedFuture(e.Channel, errors.New("x")).AddListener(CloseOnFailure)
	assert.True(t, e.CloseFuture().IsDone())

	e2 := NewEmbeddedChannel()
	SucceededFuture(e2.Channel).AddListener(CloseOnFailure)
	assert.False(t, e2.CloseFuture().IsDone())
	SucceededFuture(e2.Channel).AddListener(CloseOnComplete)
	assert.True(t, e2.CloseFuture().IsDone())
}
