package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDropOldest(t *testing.T) {
	q := NewQueue[int](2, OverflowDropOldest)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Push(ctx, i))
	}
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, int64(3), q.Dropped())

	v, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	v, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestQueueBlockWaitsForConsumer(t *testing.T) {
	q := NewQueue[int](1, OverflowBlock)
	require.NoError(t, q.Push(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Push(ctx, 2), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- q.Push(context.Background(), 3) }()

	v, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, <-done)

	v, err = q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Zero(t, q.Dropped())
}

func TestQueueClosedByConsumer(t *testing.T) {
	for _, overflow := range []Overflow{OverflowDropOldest, OverflowBlock} {
		t.Run(string(overflow), func(t *testing.T) {
			q := NewQueue[int](1, overflow)
			q.Close()
			q.Close()
			assert.ErrorIs(t, q.Push(context.Background(), 1), ErrQueueClosed)
		})
	}
}

func TestQueueCloseUnblocksProducer(t *testing.T) {
	q := NewQueue[int](1, OverflowBlock)
	require.NoError(t, q.Push(context.Background(), 1))

	done := make(chan error, 1)
	go func() { done <- q.Push(context.Background(), 2) }()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("push did not return after close")
	}
}

func TestQueuePopHonorsContext(t *testing.T) {
	q := NewQueue[int](1, OverflowDropOldest)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseOverflow(t *testing.T) {
	tests := map[string]Overflow{
		"":            OverflowDropOldest,
		"drop-oldest": OverflowDropOldest,
		"block":       OverflowBlock,
	}
	for in, want := range tests {
		got, err := ParseOverflow(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseOverflow("drop-newest")
	assert.Error(t, err)
}

func TestLivenessStopCancels(t *testing.T) {
	live, ctx := newLiveness(context.Background())
	assert.True(t, live.Alive())

	cause := queueError("frame", ErrQueueClosed)
	live.Stop(cause)
	live.Stop(nil)

	assert.False(t, live.Alive())
	<-ctx.Done()
	assert.Equal(t, cause, context.Cause(ctx))
}

func TestQueueFinishDrainsBufferedItems(t *testing.T) {
	q := NewQueue[int](4, OverflowDropOldest)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Push(ctx, i))
	}
	q.Finish()
	q.Finish()

	for want := 1; want <= 3; want++ {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, ErrQueueDrained)
}

func TestQueueFinishWakesWaitingConsumer(t *testing.T) {
	q := NewQueue[int](1, OverflowBlock)

	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Finish()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueDrained)
	case <-time.After(time.Second):
		t.Fatal("pop did not return after finish")
	}
}
