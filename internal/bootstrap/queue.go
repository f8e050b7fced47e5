package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/media-converter/internal/api/router"
	"github.com/cuongbtq/media-converter/internal/config"
	"github.com/cuongbtq/media-converter/internal/queue"
	"github.com/cuongbtq/media-converter/shared/rabbitmq"
)

// Queue is the configured Work Queue
type Queue struct {
	Publisher queue.Publisher
	Consumer  queue.Consumer
	Health    router.HealthCheck
	// InProcess is true for the memory driver, whose tasks never leave this process
	InProcess bool

	close func() error
}

// OpenQueue connects the Work Queue selected by queue.driver
func OpenQueue(cfg *config.Config, logger *slog.Logger) (*Queue, error) {
	queueLogger := logger.With(slog.String("component", "queue"))

	if cfg.Queue.Driver == config.QueueDriverMemory {
		mem := queue.NewMemory(cfg.Queue.LeaseTimeout, queueLogger)
		return &Queue{
			Publisher: mem,
			Consumer:  mem,
			Health:    func(context.Context) error { return nil },
			InProcess: true,
			close:     mem.Close,
		}, nil
	}

	rc := cfg.RabbitMQ
	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               rc.Host,
		Port:               rc.Port,
		User:               rc.User,
		Password:           rc.Password,
		VHost:              rc.VHost,
		ExchangeName:       rc.Exchange.Name,
		ExchangeType:       rc.Exchange.Type,
		ExchangeDurable:    rc.Exchange.Durable,
		QueueName:          rc.Queue.Name,
		QueueDurable:       rc.Queue.Durable,
		RoutingKey:         rc.RoutingKey,
		DeadLetterExchange: rc.DeadLetter.Exchange,
		DeadLetterQueue:    rc.DeadLetter.Queue,
		ConsumerTimeout:    rc.Consumer.Timeout,
		PrefetchCount:      rc.Consumer.PrefetchCount,
		RetryAttempts:      rc.Connection.RetryAttempts,
		RetryInterval:      rc.Connection.RetryInterval,
		Heartbeat:          rc.Connection.Heartbeat,
		PublishRetries:     rc.Publish.RetryAttempts,
		PublishRetryDelay:  rc.Publish.RetryInterval,
		PublishBackoffMult: rc.Publish.BackoffMultiplier,

		ReconnectMinInterval: rc.Connection.ReconnectMinInterval,
		ReconnectMaxInterval: rc.Connection.ReconnectMaxInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	rq := queue.NewRabbitMQ(client, queueLogger)
	return &Queue{
		Publisher: rq,
		Consumer:  rq,
		Health: func(context.Context) error {
			if !client.IsConnected() {
				return errors.New("rabbitmq connection closed")
			}
			return nil
		},
		close: client.Close,
	}, nil
}

// Close releases the queue connection
func (q *Queue) Close() error {
	if q.close == nil {
		return nil
	}
	return q.close()
}
