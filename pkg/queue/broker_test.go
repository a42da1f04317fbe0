package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBroker(t *testing.T) *RedisBroker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisBroker(rdb)
}

// brokerImpls runs a subtest against each Broker implementation.
func brokerImpls(t *testing.T, fn func(t *testing.T, b Broker)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryBroker(16))
	})
	t.Run("redis", func(t *testing.T) {
		fn(t, newRedisBroker(t))
	})
}

func TestBrokerEnqueueDequeue(t *testing.T) {
	brokerImpls(t, func(t *testing.T, b Broker) {
		ctx := context.Background()

		require.NoError(t, b.Enqueue(ctx, &Task{Name: TaskSolveJob, JobID: "job-1"}))
		require.NoError(t, b.Enqueue(ctx, &Task{Name: TaskSolveJob, JobID: "job-2"}))

		// FIFO order.
		task, err := b.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "job-1", task.JobID)
		assert.Equal(t, TaskSolveJob, task.Name)

		task, err = b.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "job-2", task.JobID)
	})
}

func TestBrokerDequeueEmpty(t *testing.T) {
	brokerImpls(t, func(t *testing.T, b Broker) {
		_, err := b.Dequeue(context.Background(), 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrNoTasksAvailable)
	})
}

func TestBrokerRevocation(t *testing.T) {
	brokerImpls(t, func(t *testing.T, b Broker) {
		ctx := context.Background()

		revoked, err := b.IsRevoked(ctx, "job-1")
		require.NoError(t, err)
		assert.False(t, revoked)

		require.NoError(t, b.Revoke(ctx, "job-1"))

		revoked, err = b.IsRevoked(ctx, "job-1")
		require.NoError(t, err)
		assert.True(t, revoked)

		// Other jobs are unaffected.
		revoked, err = b.IsRevoked(ctx, "job-2")
		require.NoError(t, err)
		assert.False(t, revoked)
	})
}

func TestMemoryBrokerClosed(t *testing.T) {
	b := NewMemoryBroker(4)
	require.NoError(t, b.Close())

	err := b.Enqueue(context.Background(), &Task{Name: TaskSolveJob, JobID: "job-1"})
	assert.ErrorIs(t, err, ErrBrokerClosed)

	_, err = b.Dequeue(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestMemoryBrokerDequeueContextCancel(t *testing.T) {
	b := NewMemoryBroker(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
