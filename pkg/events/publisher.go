package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher broadcasts job events to Redis pub/sub channels. All publishes
// are fire-and-forget from the caller's perspective: the worker logs and
// continues on publish failure, it never fails a job over event delivery.
//
// Each public method accepts a specific typed payload struct — see payloads.go.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a Publisher on an existing Redis client.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// PublishJobStatus broadcasts a job.status event.
func (p *Publisher) PublishJobStatus(ctx context.Context, jobID string, payload JobStatusPayload) error {
	return p.publish(ctx, jobID, payload)
}

// PublishJobProgress broadcasts a job.progress event.
func (p *Publisher) PublishJobProgress(ctx context.Context, jobID string, payload JobProgressPayload) error {
	return p.publish(ctx, jobID, payload)
}

// PublishJobPartial broadcasts a job.partial event.
func (p *Publisher) PublishJobPartial(ctx context.Context, jobID string, payload JobPartialPayload) error {
	return p.publish(ctx, jobID, payload)
}

func (p *Publisher) publish(ctx context.Context, jobID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if err := p.rdb.Publish(ctx, JobChannel(jobID), data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", JobChannel(jobID), err)
	}
	return nil
}
