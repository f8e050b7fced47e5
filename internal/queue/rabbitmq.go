package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-converter/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const resubscribeDelay = time.Second

// Broker is the part of the shared RabbitMQ client the adapter needs
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	WaitReady(ctx context.Context) error
}

// RabbitMQ adapts the shared RabbitMQ client to Publisher and Consumer
type RabbitMQ struct {
	client Broker
	logger *slog.Logger
}

// NewRabbitMQ creates a new RabbitMQ queue instance
func NewRabbitMQ(client Broker, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{client: client, logger: logger}
}

// Publish enqueues a task as a persistent, broker-confirmed message
func (q *RabbitMQ) Publish(ctx context.Context, task domain.Task) error {
	body, err := EncodeTask(task)
	if err != nil {
		return err
	}

	if err := q.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return domain.NewTransientError("failed to publish task", err)
	}

	return nil
}

// Consume streams deliveries from the work queue. When the broker channel
// goes away it waits for the client to reconnect and subscribes again;
// unacked messages are redelivered by the broker. The returned channel closes
// when ctx is cancelled or the client is closed.
func (q *RabbitMQ) Consume(ctx context.Context, consumerTag string) (<-chan Delivery, error) {
	msgs, err := q.client.Consume(consumerTag)
	if err != nil {
		return nil, domain.NewTransientError("failed to start consuming", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)

		for {
			if !q.forward(ctx, msgs, out) {
				return
			}

			q.logger.Warn("RabbitMQ delivery channel closed, waiting for reconnect")
			msgs = q.resubscribe(ctx, consumerTag)
			if msgs == nil {
				return
			}
		}
	}()

	return out, nil
}

// forward copies deliveries to out. It returns true when msgs closed while
// ctx is still live.
func (q *RabbitMQ) forward(ctx context.Context, msgs <-chan amqp.Delivery, out chan<- Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-msgs:
			if !ok {
				return ctx.Err() == nil
			}

			select {
			case out <- fromAMQP(msg):
			case <-ctx.Done():
				if err := msg.Nack(false, true); err != nil {
					q.logger.Error("Failed to requeue message on shutdown", slog.Any("error", err))
				}
				return false
			}
		}
	}
}

// resubscribe waits for the client to reconnect and consumes again. It
// returns nil once ctx is done or the client is closed for good.
func (q *RabbitMQ) resubscribe(ctx context.Context, consumerTag string) <-chan amqp.Delivery {
	for {
		if err := q.client.WaitReady(ctx); err != nil {
			q.logger.Warn("Stopped waiting for RabbitMQ", slog.Any("error", err))
			return nil
		}

		msgs, err := q.client.Consume(consumerTag)
		if err == nil {
			q.logger.Info("Resubscribed to RabbitMQ", slog.String("consumer_tag", consumerTag))
			return msgs
		}

		q.logger.Error("Failed to resubscribe to RabbitMQ",
			slog.Any("error", err),
			slog.Duration("retry_after", resubscribeDelay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeDelay):
		}
	}
}

func fromAMQP(msg amqp.Delivery) Delivery {
	d := Delivery{
		Body:        msg.Body,
		Redelivered: msg.Redelivered,
		ack:         func() error { return msg.Ack(false) },
		nack:        func(requeue bool) error { return msg.Nack(false, requeue) },
	}
	d.Task, d.Err = DecodeTask(msg.Body)
	return d
}
