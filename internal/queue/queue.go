package queue

import (
	"context"
	"fmt"
)

// Publisher publishes outcome events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// EventHandler handles a consumed event.
type EventHandler func(ctx context.Context, event Event) error

// Consumer consumes outcome events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler EventHandler) error
	Close() error
}

var supportedKinds = []EventKind{
	EventEmailSent,
	EventEmailFailed,
	EventEmailSkipped,
	EventCampaignCompleted,
}

const queuePrefix = "campaign-engine"

// QueueName returns the queue an event kind is routed to, e.g. campaign-engine.email.sent.
func QueueName(kind EventKind) string {
	return fmt.Sprintf("%s.%s", queuePrefix, kind)
}

// DLQName returns the dead-letter queue for an event kind.
func DLQName(kind EventKind) string {
	return fmt.Sprintf("dlq.%s", QueueName(kind))
}

func EventQueueNames() []string {
	queues := make([]string, 0, len(supportedKinds))
	for _, kind := range supportedKinds {
		queues = append(queues, QueueName(kind))
	}
	return queues
}

func DLQNames() []string {
	queues := make([]string, 0, len(supportedKinds))
	for _, kind := range supportedKinds {
		queues = append(queues, DLQName(kind))
	}
	return queues
}

// NopPublisher drops events. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }
