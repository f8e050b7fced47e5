package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	QueueName          string
	QueueDurable       bool
	RoutingKey         string
	DeadLetterExchange string
	DeadLetterQueue    string
	ConsumerTimeout    time.Duration
	PrefetchCount      int
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
	// ReconnectMinInterval and ReconnectMaxInterval bound the re-dial backoff
	ReconnectMinInterval time.Duration
	ReconnectMaxInterval time.Duration
}

// ErrClosed is returned once Close has been called
var ErrClosed = errors.New("rabbitmq client closed")

// ErrNotConnected is returned while the client is re-dialing the broker
var ErrNotConnected = errors.New("not connected to RabbitMQ")

const (
	defaultReconnectMin = 2 * time.Second
	defaultReconnectMax = 30 * time.Second
)

// Client represents a RabbitMQ client. It re-dials the broker with capped
// exponential backoff whenever the channel closes unexpectedly.
type Client struct {
	config    *Config
	logger    *slog.Logger
	publishMu sync.Mutex

	mu          sync.RWMutex
	conn        *amqp.Connection
	channel     *amqp.Channel
	isConnected bool
	// ready is closed while a channel is usable and replaced on disconnect
	ready chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// BuildURL returns the AMQP URL for a config, escaping credentials
func BuildURL(config *Config) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(config.User, config.Password),
		Host:   fmt.Sprintf("%s:%d", config.Host, config.Port),
		Path:   config.VHost,
	}
	return u.String()
}

// connect establishes connection to RabbitMQ with retry logic and starts
// watching it for unexpected closes
func (c *Client) connect() error {
	var (
		conn *amqp.Connection
		ch   *amqp.Channel
		err  error
	)

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, ch, err = c.dial()
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	go c.watch(c.attach(conn, ch))

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
	)

	return nil
}

// dial opens a connection and a confirm-mode channel with the topology declared
func (c *Client) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(BuildURL(c.config), amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Publisher confirms: a publish only succeeds once the broker has taken the message
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := c.setup(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	return conn, ch, nil
}

// attach installs a fresh connection and returns the channel's close notifications
func (c *Client) attach(conn *amqp.Connection, ch *amqp.Channel) <-chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed() {
		_ = conn.Close()
		return nil
	}

	closeChan := ch.NotifyClose(make(chan *amqp.Error, 1))
	c.conn = conn
	c.channel = ch
	c.isConnected = true
	close(c.ready)

	return closeChan
}

// detach marks the client disconnected so callers wait for the next attach
func (c *Client) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return
	}
	c.isConnected = false
	c.ready = make(chan struct{})

	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}
}

// watch re-dials after every unexpected channel close until Close is called
func (c *Client) watch(closeChan <-chan *amqp.Error) {
	for {
		select {
		case <-c.done:
			return
		case amqpErr := <-closeChan:
			if c.closed() {
				return
			}

			c.detach()
			c.logger.Warn("RabbitMQ channel closed, reconnecting", slog.Any("error", amqpErr))

			closeChan = c.reconnect()
			if closeChan == nil {
				return
			}
		}
	}
}

// reconnect dials until it succeeds or the client is closed
func (c *Client) reconnect() <-chan *amqp.Error {
	delay, maxDelay := c.reconnectBounds()

	for attempt := 1; ; attempt++ {
		conn, ch, err := c.dial()
		if err == nil {
			c.logger.Info("Reconnected to RabbitMQ", slog.Int("attempt", attempt))
			return c.attach(conn, ch)
		}

		c.logger.Error("Failed to reconnect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", delay),
		)

		select {
		case <-c.done:
			return nil
		case <-time.After(delay):
		}
		delay = nextBackoff(delay, maxDelay)
	}
}

func (c *Client) reconnectBounds() (time.Duration, time.Duration) {
	minDelay := c.config.ReconnectMinInterval
	if minDelay <= 0 {
		minDelay = defaultReconnectMin
	}
	maxDelay := c.config.ReconnectMaxInterval
	if maxDelay < minDelay {
		maxDelay = max(minDelay, defaultReconnectMax)
	}
	return minDelay, maxDelay
}

// nextBackoff doubles delay up to maxDelay
func nextBackoff(delay, maxDelay time.Duration) time.Duration {
	delay *= 2
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// current returns the live channel or ErrNotConnected
func (c *Client) current() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed() {
		return nil, ErrClosed
	}
	if !c.isConnected {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

// WaitReady blocks until a channel is usable, ctx is done or the client is closed
func (c *Client) WaitReady(ctx context.Context) error {
	c.mu.RLock()
	ready := c.ready
	c.mu.RUnlock()

	select {
	case <-ready:
		if c.closed() {
			return ErrClosed
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queueArgs builds the work queue arguments: delivery lease and dead-lettering
func (c *Client) queueArgs() amqp.Table {
	args := amqp.Table{}
	if c.config.ConsumerTimeout > 0 {
		args["x-consumer-timeout"] = c.config.ConsumerTimeout.Milliseconds()
	}
	if c.config.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = c.config.DeadLetterExchange
	}
	return args
}

// setup declares exchanges, queues, and bindings
func (c *Client) setup(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		c.config.ExchangeName,    // name
		c.config.ExchangeType,    // type
		c.config.ExchangeDurable, // durable
		false,                    // auto-deleted
		false,                    // internal
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if c.config.DeadLetterExchange != "" {
		if err := c.setupDeadLetter(ch); err != nil {
			return err
		}
	}

	_, err = ch.QueueDeclare(
		c.config.QueueName,    // name
		c.config.QueueDurable, // durable
		false,                 // auto-delete
		false,                 // exclusive
		false,                 // no-wait
		c.queueArgs(),         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		c.config.QueueName,    // queue name
		c.config.RoutingKey,   // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// setupDeadLetter declares the fanout exchange and queue that collect rejected messages
func (c *Client) setupDeadLetter(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(c.config.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter exchange: %w", err)
	}

	queue := c.config.DeadLetterQueue
	if queue == "" {
		queue = c.config.QueueName + ".dead"
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter queue: %w", err)
	}

	if err := ch.QueueBind(queue, "", c.config.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead letter queue: %w", err)
	}

	return nil
}

// Publish publishes a persistent message and waits for the broker confirm
func (c *Client) Publish(ctx context.Context, body []byte, contentType string) error {
	ch, err := c.current()
	if err != nil {
		return err
	}

	c.publishMu.Lock()
	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		c.config.RoutingKey,   // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	c.publishMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker rejected message")
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.Int("body_size", len(body)),
		slog.String("content_type", contentType),
	)

	return nil
}

// PublishWithRetry publishes a message with retry logic and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.Publish(ctx, body, contentType)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		lastErr = err
		if errors.Is(err, ErrClosed) {
			return err
		}

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)

			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// Consume starts consuming messages from the queue with manual acknowledgement
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	ch, err := c.current()
	if err != nil {
		return nil, err
	}

	if c.config.PrefetchCount > 0 {
		if err := ch.Qos(c.config.PrefetchCount, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	messages, err := ch.Consume(
		c.config.QueueName, // queue
		consumerTag,        // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch", c.config.PrefetchCount),
	)

	return messages, nil
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	wasConnected := c.isConnected
	c.isConnected = false

	if wasConnected && c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}
