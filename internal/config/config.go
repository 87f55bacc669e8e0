package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"labsales/internal/logger"
)

// Config is the process configuration shared by the server and the CLI.
type Config struct {
	DatabaseURL     string
	ServerPort      string
	AllowedOrigins  string
	InvoiceDueDays  int
	NotifyQueueSize int
	MigrationsAuto  bool

	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads .env (if present), then an optional config file, then the environment.
// Environment variables win over the file. configFile may be empty.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("INVOICE_DUE_DAYS", 30)
	v.SetDefault("NOTIFY_QUEUE_SIZE", 64)
	v.SetDefault("MIGRATIONS_AUTO", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00")
	v.SetDefault("LOG_OUTPUT", "stdout")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("DATABASE_URL", "")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:     v.GetString("DATABASE_URL"),
		ServerPort:      v.GetString("SERVER_PORT"),
		AllowedOrigins:  v.GetString("ALLOWED_ORIGINS"),
		InvoiceDueDays:  v.GetInt("INVOICE_DUE_DAYS"),
		NotifyQueueSize: v.GetInt("NOTIFY_QUEUE_SIZE"),
		MigrationsAuto:  v.GetBool("MIGRATIONS_AUTO"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),
		LogTimeFormat:   v.GetString("LOG_TIME_FORMAT"),
		LogOutput:       v.GetString("LOG_OUTPUT"),
	}
	return cfg, nil
}

// Validate checks the settings every entry point needs.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.InvoiceDueDays < 0 {
		return fmt.Errorf("INVOICE_DUE_DAYS must not be negative, got %d", c.InvoiceDueDays)
	}
	if c.NotifyQueueSize < 1 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be at least 1, got %d", c.NotifyQueueSize)
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}
