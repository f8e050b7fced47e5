// Package bootstrap turns a loaded configuration into the concrete stores,
// queue, and converter shared by the service binaries.
package bootstrap

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cuongbtq/media-converter/internal/config"
	"github.com/cuongbtq/media-converter/shared/logger"
	"github.com/joho/godotenv"
)

// LoadConfig loads .env, parses the -config flag (defaulting to envVar, then
// defaultPath) and reads the configuration file
func LoadConfig(envVar, defaultPath string) (*config.Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv(envVar)
	if defaultConfigPath == "" {
		defaultConfigPath = defaultPath
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}
