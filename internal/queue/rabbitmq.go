package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	eventsExchangeName = "campaign-engine.events"
	dlxExchangeName    = "campaign-engine.dlx"
	reconnectBackoff   = time.Second
	maxBackoff         = 30 * time.Second
	dialTimeout        = 15 * time.Second
)

// RabbitMQ owns the broker connection. A dropped connection is redialed with
// exponential backoff the next time a channel is requested, and the event
// topology is declared once per connection.
type RabbitMQ struct {
	url string

	mu       sync.Mutex
	conn     *amqp.Connection
	declared bool
}

func NewRabbitMQ(ctx context.Context, url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ch, err := r.channel(dialCtx)
	if err != nil {
		return nil, err
	}
	_ = ch.Close()

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel opens a channel on a live connection, redialing at most once when
// the cached connection turns out to be dead.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if r.conn == nil || r.conn.IsClosed() {
			conn, err := dialWithBackoff(ctx, r.url)
			if err != nil {
				return nil, err
			}
			r.conn = conn
			r.declared = false
		}

		ch, err := r.conn.Channel()
		if err != nil {
			_ = r.conn.Close()
			r.conn = nil
			if attempt == 0 {
				continue
			}
			return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}

		if !r.declared {
			if err := declareTopology(ch); err != nil {
				_ = ch.Close()
				return nil, err
			}
			r.declared = true
		}

		return ch, nil
	}
}

func dialWithBackoff(ctx context.Context, url string) (*amqp.Connection, error) {
	wait := reconnectBackoff
	for {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}

		wait = nextBackoff(wait)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// declareTopology declares the events topic exchange and, per event kind, a
// durable queue bound by routing key with its own dead-letter queue.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(eventsExchangeName, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare events exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, kind := range supportedKinds {
		if err := declareKind(ch, kind); err != nil {
			return err
		}
	}
	return nil
}

func declareKind(ch *amqp.Channel, kind EventKind) error {
	routingKey := kind.String()

	dlq := DLQName(kind)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, routingKey, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", dlq, err)
	}

	name := QueueName(kind)
	args := amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": routingKey,
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", name, err)
	}
	if err := ch.QueueBind(name, routingKey, eventsExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", name, err)
	}
	return nil
}
