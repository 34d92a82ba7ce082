package amqp

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/jwalitptl/dispatch-api/pkg/messaging"
)

type Config struct {
	URL            string
	Prefetch       int
	PublishTimeout time.Duration
}

// Queue is an AMQP-backed TaskQueue. Messages are persistent and delivery is
// at-least-once: a handler error nacks with requeue.
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  Config
	logger  *zerolog.Logger
}

func NewQueue(config Config, logger *zerolog.Logger) (messaging.TaskQueue, error) {
	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if config.Prefetch > 0 {
		if err := ch.Qos(config.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	return &Queue{
		conn:    conn,
		channel: ch,
		config:  config,
		logger:  logger,
	}, nil
}

func (q *Queue) declare(queue string) error {
	_, err := q.channel.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return nil
}

func (q *Queue) Publish(ctx context.Context, queue string, body []byte) error {
	if err := q.declare(queue); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := q.channel.Publish(
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

func (q *Queue) Consume(ctx context.Context, queue string, handler func([]byte) error) error {
	if err := q.declare(queue); err != nil {
		return err
	}

	deliveries, err := q.channel.Consume(
		queue,
		"",    // consumer tag
		false, // autoAck: we ack after the handler succeeds
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", queue, err)
	}

	return q.drain(ctx, queue, deliveries, handler)
}

// drain blocks the caller until ctx is cancelled or the broker closes the
// delivery channel; the consumer binaries run nothing else on their main
// goroutine.
func (q *Queue) drain(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler func([]byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queue)
			}
			if err := handler(d.Body); err != nil {
				q.logger.Error().Err(err).Str("queue", queue).Msg("task handler failed, requeueing")
				if nackErr := d.Nack(false, true); nackErr != nil {
					q.logger.Error().Err(nackErr).Str("queue", queue).Msg("nack failed")
				}
				continue
			}
			if ackErr := d.Ack(false); ackErr != nil {
				q.logger.Error().Err(ackErr).Str("queue", queue).Msg("ack failed")
			}
		}
	}
}

func (q *Queue) Close() error {
	if err := q.channel.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
