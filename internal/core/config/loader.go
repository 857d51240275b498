package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/rpc/failover"
	"github.com/vietddude/failover/internal/infra/rpc/health"
	"github.com/vietddude/failover/internal/infra/rpc/routing"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML after expanding environment variables, applies defaults
// and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = LogFormatText
	}
	if c.EndpointsSource == "" {
		c.EndpointsSource = SourceConfig
	}
	if c.Redis.SnapshotTTL == 0 {
		c.Redis.SnapshotTTL = 24 * time.Hour
	}
	if c.Redis.PublishInterval == 0 {
		c.Redis.PublishInterval = 15 * time.Second
	}
	if c.Transport.MaxIdlePerHost == 0 {
		c.Transport.MaxIdlePerHost = 16
	}

	def := routing.DefaultRetryPolicy
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = def.InitialDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = def.MaxDelay
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = def.Multiplier
	}
	if c.Retry.HonorRetryAfter == nil {
		honor := def.HonorRetryAfter
		c.Retry.HonorRetryAfter = &honor
	}

	if c.Health.Threshold == 0 {
		c.Health.Threshold = health.DefaultConfig().Threshold
	}

	for i := range c.Endpoints {
		if c.Endpoints[i].Transport == "" {
			c.Endpoints[i].Transport = string(domain.TransportHTTP)
		}
	}
	for name, cc := range c.Capabilities {
		if cc.Strategy == "" {
			cc.Strategy = string(domain.StrategyFallbackOnError)
		}
		if cc.Timeout == 0 {
			cc.Timeout = failover.DefaultTimeout
		}
		c.Capabilities[name] = cc
	}
}

// Validate checks the configuration for errors that would otherwise surface
// at request time.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.EndpointsSource {
	case SourceConfig:
		if len(c.Endpoints) == 0 {
			errs = append(errs, errors.New("endpoints: at least one endpoint is required"))
		}
	case SourcePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required when endpoints_source is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("endpoints_source: unknown value %q", c.EndpointsSource))
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		switch {
		case ep.ID == "":
			errs = append(errs, fmt.Errorf("endpoints[%d]: id is required", i))
		case seen[ep.ID]:
			errs = append(errs, fmt.Errorf("endpoints[%d]: duplicate id %q", i, ep.ID))
		}
		seen[ep.ID] = true

		if len(ep.Capabilities) == 0 {
			errs = append(errs, fmt.Errorf("endpoints[%d]: capabilities must not be empty", i))
		}
		if ep.Priority < 0 {
			errs = append(errs, fmt.Errorf("endpoints[%d]: priority must be >= 0", i))
		}
		switch domain.TransportKind(ep.Transport) {
		case domain.TransportHTTP, domain.TransportGRPC:
		default:
			errs = append(errs, fmt.Errorf("endpoints[%d]: unknown transport %q", i, ep.Transport))
		}
	}

	for name, cc := range c.Capabilities {
		if _, err := domain.ParseStrategy(cc.Strategy); err != nil {
			errs = append(errs, fmt.Errorf("capabilities.%s: %w", name, err))
		}
		if cc.Timeout < 0 {
			errs = append(errs, fmt.Errorf("capabilities.%s: timeout must be positive", name))
		}
	}

	switch c.Logging.Format {
	case LogFormatText, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown value %q", c.Logging.Format))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be >= 1"))
	}
	if c.Retry.Multiplier <= 1 {
		errs = append(errs, errors.New("retry.multiplier must be > 1"))
	}
	if c.Retry.InitialDelay <= 0 {
		errs = append(errs, errors.New("retry.initial_delay must be > 0"))
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		errs = append(errs, errors.New("retry.max_delay must be >= retry.initial_delay"))
	}
	if c.Health.Threshold < 1 {
		errs = append(errs, errors.New("health.threshold must be >= 1"))
	}

	return errors.Join(errs...)
}

// DomainEndpoints converts the configured endpoints to descriptors.
func (c *AppConfig) DomainEndpoints() []domain.Endpoint {
	out := make([]domain.Endpoint, 0, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		caps := make([]domain.Capability, len(ep.Capabilities))
		for i, name := range ep.Capabilities {
			caps[i] = domain.Capability(name)
		}
		out = append(out, domain.Endpoint{
			ID:              ep.ID,
			Label:           ep.Label,
			Priority:        ep.Priority,
			Address:         ep.Address,
			Capabilities:    caps,
			KnownUnreliable: ep.KnownUnreliable,
			Transport:       domain.TransportKind(ep.Transport),
		})
	}
	return out
}

// CapabilityPolicies converts the capabilities section for the executor.
func (c *AppConfig) CapabilityPolicies() map[domain.Capability]failover.CapabilityPolicy {
	out := make(map[domain.Capability]failover.CapabilityPolicy, len(c.Capabilities))
	for name, cc := range c.Capabilities {
		out[domain.Capability(name)] = failover.CapabilityPolicy{
			Strategy: domain.StrategyKind(cc.Strategy),
			Timeout:  cc.Timeout,
		}
	}
	return out
}

// RetryPolicy converts the retry section.
func (c *AppConfig) RetryPolicy() routing.RetryPolicy {
	honor := routing.DefaultRetryPolicy.HonorRetryAfter
	if c.Retry.HonorRetryAfter != nil {
		honor = *c.Retry.HonorRetryAfter
	}
	return routing.RetryPolicy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialDelay:    c.Retry.InitialDelay,
		MaxDelay:        c.Retry.MaxDelay,
		Multiplier:      c.Retry.Multiplier,
		HonorRetryAfter: honor,
	}
}

// HealthConfig converts the health section.
func (c *AppConfig) HealthConfig() health.Config {
	return health.Config{
		Threshold:        c.Health.Threshold,
		CountRateLimited: c.Health.CountRateLimited,
	}
}
