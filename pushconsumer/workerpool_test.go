package pushconsumer_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/242617/pushconsumer/pushconsumer"
)

func TestWorkerPool_SubmitRunsTask(t *testing.T) {
	pool := pushconsumer.NewWorkerPool(context.Background(), 2, 2)
	defer pool.Stop()

	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	err := pool.Submit(func(ctx context.Context) error {
		defer wg.Done()
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)

	wg.Wait()
	assert.True(t, ran.Load())
}

func TestWorkerPool_RejectsWhenSaturated(t *testing.T) {
	pool := pushconsumer.NewWorkerPool(context.Background(), 1, 0)
	defer pool.Stop()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		<-block
		return nil
	}))

	// the single slot is occupied and the admission queue has no spare
	// capacity, so the next submit must be rejected rather than block.
	err := pool.Submit(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, pushconsumer.ErrPoolRejected)

	close(block)
}

func TestWorkerPool_SubmitAfterStopIsRejected(t *testing.T) {
	pool := pushconsumer.NewWorkerPool(context.Background(), 1, 1)
	require.NoError(t, pool.Stop())

	err := pool.Submit(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, pushconsumer.ErrClientClosed)
}

func TestWorkerPool_StopCancelsInFlightTasks(t *testing.T) {
	pool := pushconsumer.NewWorkerPool(context.Background(), 1, 0)

	started := make(chan struct{})
	var sawCancel atomic.Bool
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}))

	<-started
	require.NoError(t, pool.Stop())
	assert.True(t, sawCancel.Load())
}

func TestWorkerPool_WaitDrainsWithoutCancel(t *testing.T) {
	pool := pushconsumer.NewWorkerPool(context.Background(), 2, 2)
	defer pool.Stop()

	var done atomic.Bool
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		done.Store(true)
		return nil
	}))

	require.NoError(t, pool.Wait())
	assert.True(t, done.Load())
}
