package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tasksKey   = "queue:tasks"
	revokedKey = "queue:revoked"
)

// RedisBroker implements Broker on a Redis list plus a revocation set.
type RedisBroker struct {
	rdb *redis.Client
}

// NewRedisBroker wraps an existing Redis client.
func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Enqueue(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := b.rdb.LPush(ctx, tasksKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue task for job %s: %w", task.JobID, err)
	}
	return nil
}

func (b *RedisBroker) Dequeue(ctx context.Context, wait time.Duration) (*Task, error) {
	res, err := b.rdb.BRPop(ctx, wait, tasksKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoTasksAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue task: %w", err)
	}
	// BRPop returns [key, value].
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

func (b *RedisBroker) Revoke(ctx context.Context, jobID string) error {
	if err := b.rdb.SAdd(ctx, revokedKey, jobID).Err(); err != nil {
		return fmt.Errorf("revoke job %s: %w", jobID, err)
	}
	return nil
}

func (b *RedisBroker) IsRevoked(ctx context.Context, jobID string) (bool, error) {
	ok, err := b.rdb.SIsMember(ctx, revokedKey, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation for job %s: %w", jobID, err)
	}
	return ok, nil
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}

// MemoryBroker is an in-process Broker for tests and single-node development.
type MemoryBroker struct {
	mu      sync.Mutex
	tasks   chan *Task
	revoked map[string]bool
	closed  bool
}

// NewMemoryBroker creates a MemoryBroker with a bounded queue.
func NewMemoryBroker(capacity int) *MemoryBroker {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryBroker{
		tasks:   make(chan *Task, capacity),
		revoked: make(map[string]bool),
	}
}

func (b *MemoryBroker) Enqueue(_ context.Context, task *Task) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}
	select {
	case b.tasks <- task:
		return nil
	default:
		return fmt.Errorf("queue full")
	}
}

func (b *MemoryBroker) Dequeue(ctx context.Context, wait time.Duration) (*Task, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case task, ok := <-b.tasks:
		if !ok {
			return nil, ErrBrokerClosed
		}
		return task, nil
	case <-timer.C:
		return nil, ErrNoTasksAvailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *MemoryBroker) Revoke(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[jobID] = true
	return nil
}

func (b *MemoryBroker) IsRevoked(_ context.Context, jobID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revoked[jobID], nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.tasks)
	}
	return nil
}
