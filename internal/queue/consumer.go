package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer reads outcome events from one queue at a time, resuming
// after broker disconnects until the context ends.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler EventHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("event handler is required")
	}

	wait := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("event consumer disconnected",
			zap.String("queue", queue),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler EventHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", queue)
			}
			if err := c.settle(d, c.dispatch(ctx, d.Body, handler)); err != nil {
				return err
			}
		}
	}
}

// verdict is what happens to a delivery once its handler has run.
type verdict int

const (
	verdictAck verdict = iota
	// verdictRequeue puts the event back for another attempt.
	verdictRequeue
	// verdictDeadLetter routes the event to the kind's DLQ.
	verdictDeadLetter
)

// dispatch decodes the payload and runs the handler. Payloads that can never
// be handled are dead-lettered; handler failures are requeued.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, body []byte, handler EventHandler) verdict {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("dead-lettering undecodable event", zap.Error(err))
		return verdictDeadLetter
	}
	if err := event.Validate(); err != nil {
		c.logger.Warn("dead-lettering invalid event",
			zap.String("messageId", event.MessageID()),
			zap.Error(err),
		)
		return verdictDeadLetter
	}

	if err := handler(ctx, event); err != nil {
		c.logger.Warn("event handler failed, requeueing",
			zap.String("kind", event.Kind.String()),
			zap.String("campaignId", event.CampaignID),
			zap.Error(err),
		)
		return verdictRequeue
	}
	return verdictAck
}

func (c *RabbitMQConsumer) settle(d amqp.Delivery, v verdict) error {
	var err error
	switch v {
	case verdictDeadLetter:
		err = d.Reject(false)
	case verdictRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Ack(false)
	}
	if err != nil {
		return fmt.Errorf("failed to settle delivery %d: %w", d.DeliveryTag, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
