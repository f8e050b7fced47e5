package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("MC_TEST_DB_PASSWORD", "s3cret")

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "s3cret", cfg.Database.Password)
				assert.Equal(t, "media_db", cfg.Database.Database)
				assert.Equal(t, AuditDriverRedis, cfg.Audit.Driver)
				assert.Equal(t, int64(500), cfg.Audit.StreamMaxLen)
				assert.Equal(t, "conversion", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, 30*time.Minute, cfg.RabbitMQ.Consumer.Timeout)
				assert.Equal(t, []string{"video/*", "application/x-matroska"}, cfg.Upload.AllowedContentTypes)
				assert.Equal(t, 15*time.Minute, cfg.Converter.Timeout)
				assert.Equal(t, "media-converter-api", cfg.App.Name)
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/sqlite_memory.yaml")
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, QueueDriverMemory, cfg.Queue.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Queue.LeaseTimeout)

	// untouched sections keep their defaults
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, AuditDriverSQL, cfg.Audit.Driver)
	assert.Equal(t, 3, cfg.Audit.RetryAttempts)
	assert.Equal(t, int64(512<<20), cfg.Upload.MaxBytes)
	assert.Equal(t, "mp3", cfg.Converter.Codec)
	assert.Equal(t, 4*time.Minute, cfg.Converter.Timeout)
	assert.Equal(t, 2*time.Second, cfg.RabbitMQ.Connection.ReconnectMinInterval)
	assert.Equal(t, 30*time.Second, cfg.RabbitMQ.Connection.ReconnectMaxInterval)
	assert.Equal(t, 100, cfg.Reconciler.BatchSize)

	assert.NoError(t, cfg.ValidateAPIConfig())
	assert.NoError(t, cfg.ValidateWorkerConfig())
	assert.NoError(t, cfg.ValidateReconcilerConfig())
}

// validConfig returns a configuration every validator accepts
func validConfig() *Config {
	cfg := Default()
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.Database = "media_db"
	cfg.RabbitMQ.Host = "localhost"
	return cfg
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name: "dsn replaces host fields",
			mutate: func(c *Config) {
				c.Database.Host = ""
				c.Database.DSN = "postgres://localhost/media_db"
			},
		},
		{
			name:      "unsupported database driver",
			mutate:    func(c *Config) { c.Database.Driver = "oracle" },
			wantErr:   true,
			errString: "unsupported database driver",
		},
		{
			name:      "unsupported audit driver",
			mutate:    func(c *Config) { c.Audit.Driver = "kafka" },
			wantErr:   true,
			errString: "unsupported audit driver",
		},
		{
			name:      "redis audit without addr",
			mutate:    func(c *Config) { c.Audit.Driver = AuditDriverRedis; c.Redis.Addr = "" },
			wantErr:   true,
			errString: "redis addr is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name:   "memory queue needs no broker",
			mutate: func(c *Config) { c.Queue.Driver = QueueDriverMemory; c.RabbitMQ.Host = "" },
		},
		{
			name: "memory queue checks the embedded worker",
			mutate: func(c *Config) {
				c.Queue.Driver = QueueDriverMemory
				c.Queue.LeaseTimeout = time.Minute
				c.Converter.Timeout = 10 * time.Minute
			},
			wantErr:   true,
			errString: "embedded worker: converter timeout (10m0s) must be shorter than queue lease_timeout (1m0s)",
		},
		{
			name: "memory queue with zero converter timeout",
			mutate: func(c *Config) {
				c.Queue.Driver = QueueDriverMemory
				c.Converter.Timeout = 0
			},
			wantErr:   true,
			errString: "converter timeout must be greater than 0",
		},
		{
			name: "rabbitmq api skips worker checks",
			mutate: func(c *Config) {
				c.Converter.Driver = "gstreamer"
			},
		},
		{
			name:      "zero upload limit",
			mutate:    func(c *Config) { c.Upload.MaxBytes = 0 },
			wantErr:   true,
			errString: "upload max_bytes",
		},
		{
			name:      "no allowed content types",
			mutate:    func(c *Config) { c.Upload.AllowedContentTypes = nil },
			wantErr:   true,
			errString: "allowed_content_types",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			wantErr:   true,
			errString: "worker shutdown_timeout must be greater than 0",
		},
		{
			name:      "unknown converter",
			mutate:    func(c *Config) { c.Converter.Driver = "gstreamer" },
			wantErr:   true,
			errString: "unsupported converter driver",
		},
		{
			name:      "docker without image",
			mutate:    func(c *Config) { c.Converter.Driver = ConverterDriverDocker; c.Converter.Image = "" },
			wantErr:   true,
			errString: "converter image is required",
		},
		{
			name: "conversion outlives broker lease",
			mutate: func(c *Config) {
				c.Converter.Timeout = time.Hour
				c.RabbitMQ.Consumer.Timeout = 30 * time.Minute
			},
			wantErr:   true,
			errString: "must be shorter than rabbitmq consumer timeout",
		},
		{
			name: "conversion outlives memory lease",
			mutate: func(c *Config) {
				c.Queue.Driver = QueueDriverMemory
				c.Queue.LeaseTimeout = 5 * time.Minute
				c.Converter.Timeout = 5 * time.Minute
			},
			wantErr:   true,
			errString: "must be shorter than queue lease_timeout",
		},
		{
			name:      "missing output dir",
			mutate:    func(c *Config) { c.Storage.OutputDir = "" },
			wantErr:   true,
			errString: "storage output_dir is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateReconcilerConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.ValidateReconcilerConfig())

	cfg.Reconciler.GracePeriod = 0
	err := cfg.ValidateReconcilerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconciler grace_period")
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)

	for _, port := range []int{0, -1, 65536, 70000} {
		assert.Error(t, validatePort("server", port), "port %d should be invalid", port)
	}
	for _, port := range []int{1, 80, 443, 8080, 65535} {
		assert.NoError(t, validatePort("server", port), "port %d should be valid", port)
	}
}
