package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolProcessesItems(t *testing.T) {
	var sum atomic.Int64
	pool := NewPool(2, 16, func(_ context.Context, n int64) error {
		sum.Add(n)
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, int64(55), sum.Load())
	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestPoolCountsFailures(t *testing.T) {
	pool := NewPool(1, 4, func(_ context.Context, fail bool) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(true))
	require.NoError(t, pool.Submit(false))
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Processed)
}

func TestPoolQueueFullDrops(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	// First item occupies the worker, second fills the queue.
	require.NoError(t, pool.Submit(1))
	// The worker may not have picked up item 1 yet; keep submitting until
	// the queue rejects.
	var dropErr error
	for i := 0; i < 3; i++ {
		if err := pool.Submit(i); err != nil {
			dropErr = err
			break
		}
	}
	assert.ErrorIs(t, dropErr, ErrQueueFull)

	close(block)
	require.NoError(t, pool.Stop(time.Second))
	assert.GreaterOrEqual(t, pool.Stats().Dropped, int64(1))
}

func TestPoolLifecycleErrors(t *testing.T) {
	pool := NewPool(1, 1, func(_ context.Context, _ int) error { return nil })

	assert.ErrorIs(t, pool.Submit(1), ErrNotStarted)
	assert.ErrorIs(t, pool.Stop(time.Second), ErrNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrAlreadyExists)

	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Submit(1), ErrStopped)
	assert.NoError(t, pool.Stop(time.Second))
}

func TestNewPoolNilProcessorPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewPool[int](1, 1, nil)
	})
}
