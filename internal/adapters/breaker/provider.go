package breaker

import (
	"log/slog"
	"sync"

	"github.com/atelierhq/loom/internal/ports"
)

// Provider hands out one breaker per dependency key, created lazily with a
// shared default config.
type Provider struct {
	mu       sync.RWMutex
	breakers map[string]ports.CircuitBreaker
	config   ports.CircuitBreakerConfig
	logger   *slog.Logger
}

func NewProvider(config ports.CircuitBreakerConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		breakers: make(map[string]ports.CircuitBreaker),
		config:   config,
		logger:   logger.With("component", "circuit-breaker-provider"),
	}
}

func (p *Provider) Breaker(name string) ports.CircuitBreaker {
	p.mu.RLock()
	cb, ok := p.breakers[name]
	p.mu.RUnlock()
	if ok {
		return cb
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok = p.breakers[name]; ok {
		return cb
	}

	cb = NewCircuitBreaker(name, p.config, p.logger)
	p.breakers[name] = cb

	p.logger.Info("created circuit breaker",
		"name", name,
		"failure_threshold", p.config.FailureThreshold,
		"recovery_timeout", p.config.RecoveryTimeout)

	return cb
}

func (p *Provider) AllMetrics() map[string]ports.CircuitBreakerMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	metrics := make(map[string]ports.CircuitBreakerMetrics, len(p.breakers))
	for name, cb := range p.breakers {
		metrics[name] = cb.Metrics()
	}
	return metrics
}
