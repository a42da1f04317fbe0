package events

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Subscriber delivers a job's event stream to one consumer, typically the
// SSE endpoint. Messages are raw JSON payloads as published.
type Subscriber struct {
	pubsub *redis.PubSub
	msgs   chan []byte
}

// Subscribe opens a subscription on a job's event channel. The returned
// Subscriber must be Closed when the consumer disconnects. The internal
// buffer absorbs bursts; messages beyond it are dropped rather than
// blocking the pub/sub reader.
func Subscribe(ctx context.Context, rdb *redis.Client, jobID string) *Subscriber {
	pubsub := rdb.Subscribe(ctx, JobChannel(jobID))
	s := &Subscriber{
		pubsub: pubsub,
		msgs:   make(chan []byte, 64),
	}
	go s.run()
	return s
}

// Messages returns the channel of event payloads. It is closed when the
// subscription ends.
func (s *Subscriber) Messages() <-chan []byte {
	return s.msgs
}

// Close tears down the subscription and closes the message channel.
func (s *Subscriber) Close() error {
	return s.pubsub.Close()
}

func (s *Subscriber) run() {
	defer close(s.msgs)
	for msg := range s.pubsub.Channel() {
		select {
		case s.msgs <- []byte(msg.Payload):
		default:
			// Slow consumer: drop rather than stall the reader.
		}
	}
}
