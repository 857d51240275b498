package config

import (
	"time"

	redisclient "github.com/vietddude/failover/internal/infra/redis"
	"github.com/vietddude/failover/internal/infra/storage/postgres"
)

// Endpoint sources.
const (
	SourceConfig   = "config"
	SourcePostgres = "postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`

	// EndpointsSource is "config" (the endpoints list below) or "postgres".
	EndpointsSource string                      `yaml:"endpoints_source"`
	Endpoints       []EndpointConfig            `yaml:"endpoints"`
	Capabilities    map[string]CapabilityConfig `yaml:"capabilities"`
	Retry           RetryConfig                 `yaml:"retry"`
	Health          HealthConfig                `yaml:"health"`
	Transport       TransportConfig             `yaml:"transport"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Log output formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// EndpointConfig describes one interchangeable provider.
type EndpointConfig struct {
	ID              string   `yaml:"id"`
	Label           string   `yaml:"label"`
	Priority        int      `yaml:"priority"` // 0 = primary
	Address         string   `yaml:"address"`
	Capabilities    []string `yaml:"capabilities"`
	KnownUnreliable bool     `yaml:"known_unreliable"`
	Transport       string   `yaml:"transport"` // http, grpc
}

// CapabilityConfig selects the strategy and per-attempt timeout for a
// capability.
type CapabilityConfig struct {
	Strategy string        `yaml:"strategy"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RetryConfig defines per-endpoint retry behavior.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	Multiplier      float64       `yaml:"multiplier"`
	HonorRetryAfter *bool         `yaml:"honor_retry_after"`
}

// HealthConfig holds health tracker settings.
type HealthConfig struct {
	Threshold        int  `yaml:"threshold"`
	CountRateLimited bool `yaml:"count_rate_limited"`
}

// TransportConfig tunes the outbound HTTP connection pool.
type TransportConfig struct {
	MaxIdlePerHost int `yaml:"max_idle_per_host"`
}
