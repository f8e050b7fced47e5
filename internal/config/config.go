package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Supported driver names
const (
	AuditDriverSQL   = "sql"
	AuditDriverRedis = "redis"

	QueueDriverRabbitMQ = "rabbitmq"
	QueueDriverMemory   = "memory"

	ConverterDriverFFmpeg = "ffmpeg"
	ConverterDriverDocker = "docker"
)

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Audit      AuditConfig      `yaml:"audit"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Storage    StorageConfig    `yaml:"storage"`
	Upload     UploadConfig     `yaml:"upload"`
	Converter  ConverterConfig  `yaml:"converter"`
	Worker     WorkerConfig     `yaml:"worker"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// DatabaseConfig holds the Job Record Store connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// AuditConfig selects the Audit Log Store backend
type AuditConfig struct {
	Driver   string         `yaml:"driver"`
	Database DatabaseConfig `yaml:"database"`
	// StreamMaxLen caps each Redis stream; 0 keeps every entry
	StreamMaxLen  int64         `yaml:"stream_max_len"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig selects the Work Queue backend
type QueueConfig struct {
	Driver string `yaml:"driver"`
	// LeaseTimeout only applies to the in-process memory queue
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      RabbitQueue      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// RabbitQueue holds RabbitMQ queue configuration
type RabbitQueue struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// DeadLetterConfig names where rejected tasks are routed
type DeadLetterConfig struct {
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
	// Backoff bounds for re-dialing after the broker drops the connection
	ReconnectMinInterval time.Duration `yaml:"reconnect_min_interval"`
	ReconnectMaxInterval time.Duration `yaml:"reconnect_max_interval"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
	// Timeout is the broker-side lease; unacked deliveries are redelivered after it
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig holds media file locations
type StorageConfig struct {
	UploadDir string `yaml:"upload_dir"`
	OutputDir string `yaml:"output_dir"`
}

// UploadConfig holds submission limits
type UploadConfig struct {
	MaxBytes            int64    `yaml:"max_bytes"`
	AllowedContentTypes []string `yaml:"allowed_content_types"`
	MaxConcurrent       int64    `yaml:"max_concurrent"`
	RatePerSecond       float64  `yaml:"rate_per_second"`
	Burst               int      `yaml:"burst"`
}

// ConverterConfig selects and tunes the conversion backend
type ConverterConfig struct {
	Driver  string        `yaml:"driver"`
	Binary  string        `yaml:"binary"`
	Image   string        `yaml:"image"`
	Codec   string        `yaml:"codec"`
	Quality int           `yaml:"quality"`
	Timeout time.Duration `yaml:"timeout"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ReconcilerConfig holds the stale QUEUED sweep configuration
type ReconcilerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	GracePeriod time.Duration `yaml:"grace_period"`
	BatchSize   int           `yaml:"batch_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Port serves /metrics for binaries without an HTTP API
	Port int `yaml:"port"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	config := Default()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Default returns a configuration with every optional setting filled in
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "media-converter", Environment: "development"},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
			AutoMigrate:     true,
		},
		Audit: AuditConfig{
			Driver:        AuditDriverSQL,
			RetryAttempts: 3,
			RetryBackoff:  100 * time.Millisecond,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Queue: QueueConfig{Driver: QueueDriverRabbitMQ, LeaseTimeout: 30 * time.Minute},
		RabbitMQ: RabbitMQConfig{
			Port:       5672,
			VHost:      "/",
			Exchange:   ExchangeConfig{Name: "conversion", Type: "direct", Durable: true},
			Queue:      RabbitQueue{Name: "conversion_tasks", Durable: true},
			RoutingKey: "conversion.task",
			DeadLetter: DeadLetterConfig{Exchange: "conversion.dlx"},
			Connection: ConnectionConfig{
				RetryAttempts: 5,
				RetryInterval: 2 * time.Second,
				Heartbeat:     10 * time.Second,

				ReconnectMinInterval: 2 * time.Second,
				ReconnectMaxInterval: 30 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     200 * time.Millisecond,
				BackoffMultiplier: 2,
			},
			Consumer: ConsumerConfig{PrefetchCount: 1, Timeout: 30 * time.Minute},
		},
		Storage: StorageConfig{UploadDir: "data/uploads", OutputDir: "data/outputs"},
		Upload: UploadConfig{
			MaxBytes:            512 << 20,
			AllowedContentTypes: []string{"video/*"},
			MaxConcurrent:       16,
			RatePerSecond:       10,
			Burst:               20,
		},
		Converter: ConverterConfig{
			Driver:  ConverterDriverFFmpeg,
			Binary:  "ffmpeg",
			Image:   "linuxserver/ffmpeg:latest",
			Codec:   "mp3",
			Quality: 2,
			Timeout: 10 * time.Minute,
		},
		Worker: WorkerConfig{Concurrency: 4, ShutdownTimeout: 30 * time.Second},
		Reconciler: ReconcilerConfig{
			Interval:    time.Minute,
			GracePeriod: 5 * time.Minute,
			BatchSize:   100,
		},
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stdout"},
		Metrics: MetricsConfig{Enabled: true, Port: 9090},
	}
}

// ValidateAPIConfig checks the settings used by the API service
func (c *Config) ValidateAPIConfig() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}

	if err := c.validateStores(); err != nil {
		return err
	}

	if err := c.validateQueue(); err != nil {
		return err
	}

	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage upload_dir is required")
	}

	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max_bytes must be greater than 0")
	}

	if len(c.Upload.AllowedContentTypes) == 0 {
		return fmt.Errorf("upload allowed_content_types must not be empty")
	}

	if c.Upload.RatePerSecond < 0 || c.Upload.Burst < 0 {
		return fmt.Errorf("upload rate_per_second and burst must not be negative")
	}

	// The memory queue runs the worker pool inside the api-service
	if c.Queue.Driver == QueueDriverMemory {
		if err := c.ValidateWorkerConfig(); err != nil {
			return fmt.Errorf("embedded worker: %w", err)
		}
	}

	return nil
}

// ValidateWorkerConfig checks the settings used by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateStores(); err != nil {
		return err
	}

	if err := c.validateQueue(); err != nil {
		return err
	}

	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage output_dir is required")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	switch c.Converter.Driver {
	case ConverterDriverFFmpeg:
		if c.Converter.Binary == "" {
			return fmt.Errorf("converter binary is required for the ffmpeg driver")
		}
	case ConverterDriverDocker:
		if c.Converter.Image == "" {
			return fmt.Errorf("converter image is required for the docker driver")
		}
	default:
		return fmt.Errorf("unsupported converter driver: %q", c.Converter.Driver)
	}

	if c.Converter.Timeout <= 0 {
		return fmt.Errorf("converter timeout must be greater than 0")
	}

	// Work past the broker lease would be redelivered to a second worker mid-run
	if c.Queue.Driver == QueueDriverRabbitMQ && c.RabbitMQ.Consumer.Timeout > 0 &&
		c.Converter.Timeout >= c.RabbitMQ.Consumer.Timeout {
		return fmt.Errorf("converter timeout (%s) must be shorter than rabbitmq consumer timeout (%s)",
			c.Converter.Timeout, c.RabbitMQ.Consumer.Timeout)
	}

	if c.Queue.Driver == QueueDriverMemory && c.Converter.Timeout >= c.Queue.LeaseTimeout {
		return fmt.Errorf("converter timeout (%s) must be shorter than queue lease_timeout (%s)",
			c.Converter.Timeout, c.Queue.LeaseTimeout)
	}

	return nil
}

// ValidateReconcilerConfig checks the settings used by the reconciler service
func (c *Config) ValidateReconcilerConfig() error {
	if err := c.validateDatabase("database", &c.Database); err != nil {
		return err
	}

	if err := c.validateQueue(); err != nil {
		return err
	}

	if c.Reconciler.Interval <= 0 {
		return fmt.Errorf("reconciler interval must be greater than 0")
	}

	if c.Reconciler.GracePeriod <= 0 {
		return fmt.Errorf("reconciler grace_period must be greater than 0")
	}

	if c.Reconciler.BatchSize <= 0 {
		return fmt.Errorf("reconciler batch_size must be greater than 0")
	}

	return nil
}

func (c *Config) validateStores() error {
	if err := c.validateDatabase("database", &c.Database); err != nil {
		return err
	}

	switch c.Audit.Driver {
	case AuditDriverSQL:
		if c.Audit.Database.Driver != "" {
			if err := c.validateDatabase("audit database", &c.Audit.Database); err != nil {
				return err
			}
		}
	case AuditDriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis audit driver")
		}
	default:
		return fmt.Errorf("unsupported audit driver: %q", c.Audit.Driver)
	}

	if c.Audit.RetryAttempts <= 0 {
		return fmt.Errorf("audit retry_attempts must be greater than 0")
	}

	return nil
}

func (c *Config) validateDatabase(name string, db *DatabaseConfig) error {
	switch db.Driver {
	case "postgres", "mysql":
		if db.DSN != "" {
			return nil
		}
		if db.Host == "" {
			return fmt.Errorf("%s host is required", name)
		}
		if err := validatePort(name, db.Port); err != nil {
			return err
		}
		if db.Database == "" {
			return fmt.Errorf("%s name is required", name)
		}
	case "sqlite3":
		if db.DSN == "" && db.Database == "" {
			return fmt.Errorf("%s path is required for sqlite3", name)
		}
	default:
		return fmt.Errorf("unsupported %s driver: %q", name, db.Driver)
	}

	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Driver {
	case QueueDriverMemory:
		if c.Queue.LeaseTimeout <= 0 {
			return fmt.Errorf("queue lease_timeout must be greater than 0")
		}
		return nil
	case QueueDriverRabbitMQ:
	default:
		return fmt.Errorf("unsupported queue driver: %q", c.Queue.Driver)
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if err := validatePort("rabbitmq", c.RabbitMQ.Port); err != nil {
		return err
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}
