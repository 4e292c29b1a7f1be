package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Empty RedisURL runs the service single-instance on the in-memory bus.
	RedisURL string `env:"REDIS_URL"`

	SessionSecret  string `env:"SESSION_SECRET"`
	AllowAnonymous bool   `env:"ALLOW_ANONYMOUS" default:"false"`
	APIKey         string `env:"API_KEY"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" default:"5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" default:"60"`

	MaxConnections      int     `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRate      float64 `env:"CONNECTION_RATE_PER_SECOND" default:"50"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"100"`

	APIRatePerSecond float64 `env:"API_RATE_PER_SECOND" default:"20"`
	APIBurst         int     `env:"API_BURST" default:"40"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if !cfg.AllowAnonymous && cfg.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required unless ALLOW_ANONYMOUS=true")
	}
	if cfg.AppEnv == "production" && cfg.APIKey == "" {
		return errors.New("API_KEY is required in production")
	}

	positive := map[string]time.Duration{
		"HEARTBEAT_INTERVAL": cfg.HeartbeatInterval,
		"WRITE_TIMEOUT":      cfg.WriteTimeout,
		"SHUTDOWN_TIMEOUT":   cfg.ShutdownTimeout,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, value)
		}
	}

	if cfg.RateLimitPerMinute < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be at least 1, got %d", cfg.RateLimitPerMinute)
	}
	if cfg.MaxConnections < 1 {
		return fmt.Errorf("MAX_CONNECTIONS must be at least 1, got %d", cfg.MaxConnections)
	}
	if cfg.MaxConnectionsPerIP < 1 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_IP must be at least 1, got %d", cfg.MaxConnectionsPerIP)
	}

	return nil
}
