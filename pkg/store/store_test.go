package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRedisStore spins up a miniredis-backed store for tests.
func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(rdb)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

// storeImpls runs a subtest against both implementations.
func storeImpls(t *testing.T, run func(t *testing.T, s Store)) {
	t.Run("redis", func(t *testing.T) {
		s, _ := newRedisStore(t)
		run(t, s)
	})
	t.Run("memory", func(t *testing.T) {
		run(t, NewMemoryStore())
	})
}

func TestStoreJobFields(t *testing.T) {
	storeImpls(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetJobFields(ctx, "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)

		require.NoError(t, s.SetJobFields(ctx, "job-1", map[string]string{
			"status":   "pending",
			"question": "What is 2+2?",
		}))

		fields, err := s.GetJobFields(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "pending", fields["status"])
		assert.Equal(t, "What is 2+2?", fields["question"])

		// Partial update merges, does not replace.
		require.NoError(t, s.SetJobFields(ctx, "job-1", map[string]string{"status": "running"}))
		fields, err = s.GetJobFields(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "running", fields["status"])
		assert.Equal(t, "What is 2+2?", fields["question"])

		ok, err := s.Exists(ctx, "job-1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Exists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStoreDeleteJob(t *testing.T) {
	storeImpls(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SetJobFields(ctx, "job-1", map[string]string{"status": "pending"}))
		require.NoError(t, s.DeleteJob(ctx, "job-1"))

		_, err := s.GetJobFields(ctx, "job-1")
		assert.ErrorIs(t, err, ErrJobNotFound)

		// Deleting a missing job is a no-op.
		assert.NoError(t, s.DeleteJob(ctx, "job-1"))
	})
}

func TestStoreLocks(t *testing.T) {
	storeImpls(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		ok, err := s.AcquireLock(ctx, "job-1", "worker-0", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		// Second acquire fails while held.
		ok, err = s.AcquireLock(ctx, "job-1", "worker-1", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		held, err := s.LockHeld(ctx, "job-1")
		require.NoError(t, err)
		assert.True(t, held)

		require.NoError(t, s.ReleaseLock(ctx, "job-1"))

		held, err = s.LockHeld(ctx, "job-1")
		require.NoError(t, err)
		assert.False(t, held)

		// Reacquirable after release.
		ok, err = s.AcquireLock(ctx, "job-1", "worker-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestStoreListJobIDs(t *testing.T) {
	storeImpls(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		ids, err := s.ListJobIDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)

		require.NoError(t, s.SetJobFields(ctx, "job-1", map[string]string{"status": "pending"}))
		require.NoError(t, s.SetJobFields(ctx, "job-2", map[string]string{"status": "running"}))

		ids, err = s.ListJobIDs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"job-1", "job-2"}, ids)
	})
}

func TestRedisStoreTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetJobFields(ctx, "job-1", map[string]string{"status": "completed"}))
	require.NoError(t, s.SetTTL(ctx, "job-1", time.Hour))

	mr.FastForward(2 * time.Hour)

	_, err := s.GetJobFields(ctx, "job-1")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRedisStoreLockExpiry(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "job-1", "worker-0", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = s.AcquireLock(ctx, "job-1", "worker-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock should be reacquirable after expiry")
}

func TestMemoryStoreTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.SetJobFields(ctx, "job-1", map[string]string{"status": "completed"}))
	require.NoError(t, s.SetTTL(ctx, "job-1", time.Hour))

	now = now.Add(2 * time.Hour)

	_, err := s.GetJobFields(ctx, "job-1")
	assert.ErrorIs(t, err, ErrJobNotFound)

	ids, err := s.ListJobIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
