package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/logger"
)

// Client owns the broker connection and channel for the worker: consuming
// the push queue, ack/reject, and dead-letter publishes.
type Client struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	pushQueue   string
	failedQueue string
	log         zerolog.Logger
}

// Connect dials the broker, opens a channel with the configured prefetch and
// declares both queues as durable.
func Connect(url, pushQueue, failedQueue string, prefetchCount int) (*Client, error) {
	log := logger.WithComponent("rabbitmq")

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	for _, queue := range []string{pushQueue, failedQueue} {
		_, err := ch.QueueDeclare(
			queue,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,
		)
		if err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}

	log.Info().
		Str("push_queue", pushQueue).
		Str("failed_queue", failedQueue).
		Int("prefetch", prefetchCount).
		Msg("rabbitmq connected")

	return &Client{
		conn:        conn,
		ch:          ch,
		pushQueue:   pushQueue,
		failedQueue: failedQueue,
		log:         log,
	}, nil
}

// CreateConsumer registers a manual-ack consumer on the push queue and
// returns its delivery stream. The channel closes when the connection drops.
func (c *Client) CreateConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.Consume(
		c.pushQueue,
		"push_worker", // consumer tag
		false,         // autoAck
		false,         // exclusive
		false,         // noLocal
		false,         // noWait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	c.log.Info().Str("queue", c.pushQueue).Msg("consumer started")
	return deliveries, nil
}

// Ack acknowledges one delivery.
func (c *Client) Ack(deliveryTag uint64) error {
	if err := c.ch.Ack(deliveryTag, false); err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// Reject rejects one delivery, optionally requeueing it.
func (c *Client) Reject(deliveryTag uint64, requeue bool) error {
	if err := c.ch.Reject(deliveryTag, requeue); err != nil {
		return fmt.Errorf("failed to reject message: %w", err)
	}
	return nil
}

// PublishToDLQ writes a DlqMessage to the failed queue with persistent
// delivery through the default exchange.
func (c *Client) PublishToDLQ(ctx context.Context, msg domain.DlqMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode DLQ message: %w", err)
	}

	err = c.ch.PublishWithContext(
		ctx,
		"",            // default exchange routes by queue name
		c.failedQueue, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	c.log.Info().
		Str("trace_id", msg.OriginalMessage.TraceID).
		Str("reason", msg.FailureReason).
		Msg("message published to DLQ")
	return nil
}

// IsClosed reports whether the underlying connection has dropped.
func (c *Client) IsClosed() bool {
	return c.conn == nil || c.conn.IsClosed()
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
