package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis hash per job.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing Redis client. The caller owns client
// configuration; Close closes the client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Ping verifies connectivity, used by startup and health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisStore) SetJobFields(ctx context.Context, jobID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), flatten(fields)...)
	pipe.SAdd(ctx, jobsIndexKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write job %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisStore) GetJobFields(ctx context.Context, jobID string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return fields, nil
}

func (s *RedisStore) SetTTL(ctx context.Context, jobID string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, jobKey(jobID), ttl).Err(); err != nil {
		return fmt.Errorf("set TTL on job %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, jobID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, jobKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("check job %s: %w", jobID, err)
	}
	return n > 0, nil
}

func (s *RedisStore) DeleteJob(ctx context.Context, jobID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, jobKey(jobID))
	pipe.SRem(ctx, jobsIndexKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisStore) AcquireLock(ctx context.Context, jobID, holder string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, lockKey(jobID), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock for job %s: %w", jobID, err)
	}
	return ok, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, jobID string) error {
	if err := s.rdb.Del(ctx, lockKey(jobID)).Err(); err != nil {
		return fmt.Errorf("release lock for job %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisStore) LockHeld(ctx context.Context, jobID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, lockKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("check lock for job %s: %w", jobID, err)
	}
	return n > 0, nil
}

func (s *RedisStore) ListJobIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, jobsIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// flatten converts a field map into the alternating key/value slice HSet takes.
func flatten(fields map[string]string) []any {
	flat := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		flat = append(flat, k, v)
	}
	return flat
}
