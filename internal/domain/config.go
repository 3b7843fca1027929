package domain

import (
	"time"
)

type Config struct {
	Gateway      GatewayConfig      `json:"gateway" yaml:"gateway"`
	Engine       EngineConfig       `json:"engine" yaml:"engine"`
	Cache        CacheConfig        `json:"cache" yaml:"cache"`
	Invalidation InvalidationConfig `json:"invalidation" yaml:"invalidation"`
}

type GatewayConfig struct {
	CallTimeout      time.Duration `json:"call_timeout" yaml:"call_timeout"`
	CacheTTL         time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
}

type EngineConfig struct {
	StepTimeout       time.Duration `json:"step_timeout" yaml:"step_timeout"`
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	RetryBackoff      time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	SchedulerTick     time.Duration `json:"scheduler_tick" yaml:"scheduler_tick"`
	RetainedSnapshots int           `json:"retained_snapshots" yaml:"retained_snapshots"`
}

type CacheConfig struct {
	Path     string `json:"path" yaml:"path"`
	InMemory bool   `json:"in_memory" yaml:"in_memory"`
}

type InvalidationConfig struct {
	// Dependencies maps a domain entity to the cache namespaces that must be
	// busted when it changes.
	Dependencies map[string][]string `json:"dependencies" yaml:"dependencies"`
	DefaultRules bool                `json:"default_rules" yaml:"default_rules"`
}

func DefaultConfig() Config {
	cfg := Config{}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Gateway.CallTimeout <= 0 {
		c.Gateway.CallTimeout = 30 * time.Second
	}
	if c.Gateway.CacheTTL <= 0 {
		c.Gateway.CacheTTL = time.Hour
	}
	if c.Gateway.FailureThreshold <= 0 {
		c.Gateway.FailureThreshold = 5
	}
	if c.Gateway.RecoveryTimeout <= 0 {
		c.Gateway.RecoveryTimeout = 60 * time.Second
	}

	if c.Engine.StepTimeout <= 0 {
		c.Engine.StepTimeout = 5 * time.Minute
	}
	if c.Engine.MaxRetries < 0 {
		c.Engine.MaxRetries = 0
	} else if c.Engine.MaxRetries == 0 {
		c.Engine.MaxRetries = 3
	}
	if c.Engine.RetryBackoff <= 0 {
		c.Engine.RetryBackoff = time.Second
	}
	if c.Engine.SchedulerTick <= 0 {
		c.Engine.SchedulerTick = 25 * time.Millisecond
	}
	if c.Engine.RetainedSnapshots <= 0 {
		c.Engine.RetainedSnapshots = 1000
	}

	if c.Invalidation.Dependencies == nil {
		c.Invalidation.Dependencies = map[string][]string{
			"trends":           {"trends:*", "recommendations:*"},
			"inventory":        {"inventory:*", "products:*"},
			"product_catalog":  {"products:*", "search:*"},
			"user_preferences": {"users:*", "recommendations:*"},
			"seasonal_data":    {"trends:*", "campaigns:*"},
		}
	}
}
