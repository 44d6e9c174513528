package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Isolation modes for pipeline children
const (
	IsolationProcess   = "process"
	IsolationGoroutine = "goroutine"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Pipeline  PipelineConfig
	Broker    BrokerConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string   `envconfig:"PORT" default:"8000"`
	Host         string   `envconfig:"HOST" default:"0.0.0.0"`
	AllowOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
	Compress     bool     `envconfig:"HTTP_COMPRESS" default:"true"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// PipelineConfig holds pipeline supervision settings
type PipelineConfig struct {
	// Isolation is "process" (re-exec per pipeline) or "goroutine"
	Isolation      string        `envconfig:"PIPELINE_ISOLATION" default:"process"`
	StartTimeout   time.Duration `envconfig:"PIPELINE_START_TIMEOUT" default:"5s"`
	StopTimeout    time.Duration `envconfig:"PIPELINE_STOP_TIMEOUT" default:"5s"`
	StatusInterval time.Duration `envconfig:"PIPELINE_STATUS_INTERVAL" default:"1s"`
	// ConfigDir holds optional <pipeline>.yaml|toml|json overrides
	ConfigDir string `envconfig:"PIPELINE_CONFIG_DIR" default:""`
}

// BrokerConfig holds pub/sub configuration
type BrokerConfig struct {
	URL     string `envconfig:"BROKER_URL" default:"redis://localhost:6379/0"`
	Enabled bool   `envconfig:"BROKER_ENABLED" default:"false"`
}

// TelemetryConfig holds live fanout settings
type TelemetryConfig struct {
	RetryInitial time.Duration `envconfig:"TELEMETRY_RETRY_INITIAL" default:"1s"`
	RetryMax     time.Duration `envconfig:"TELEMETRY_RETRY_MAX" default:"30s"`
	SendTimeout  time.Duration `envconfig:"TELEMETRY_SEND_TIMEOUT" default:"2s"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Pipeline.Isolation {
	case IsolationProcess, IsolationGoroutine:
	default:
		return fmt.Errorf("invalid PIPELINE_ISOLATION %q", c.Pipeline.Isolation)
	}
	if c.Pipeline.StopTimeout <= 0 {
		return fmt.Errorf("PIPELINE_STOP_TIMEOUT must be positive")
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8000",
			Host:         "0.0.0.0",
			AllowOrigins: []string{"*"},
			Compress:     true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Pipeline: PipelineConfig{
			Isolation:      IsolationProcess,
			StartTimeout:   5 * time.Second,
			StopTimeout:    5 * time.Second,
			StatusInterval: time.Second,
		},
		Broker: BrokerConfig{
			URL:     "redis://localhost:6379/0",
			Enabled: false,
		},
		Telemetry: TelemetryConfig{
			RetryInitial: time.Second,
			RetryMax:     30 * time.Second,
			SendTimeout:  2 * time.Second,
		},
	}
}
