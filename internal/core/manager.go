package core

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/atelierhq/loom/internal/adapters/audit"
	"github.com/atelierhq/loom/internal/adapters/breaker"
	"github.com/atelierhq/loom/internal/adapters/cache"
	"github.com/atelierhq/loom/internal/adapters/engine"
	"github.com/atelierhq/loom/internal/adapters/gateway"
	"github.com/atelierhq/loom/internal/adapters/invalidation"
	"github.com/atelierhq/loom/internal/adapters/ratelimit"
	"github.com/atelierhq/loom/internal/adapters/transport"
	"github.com/atelierhq/loom/internal/domain"
	"github.com/atelierhq/loom/internal/ports"
)

// Manager is the composition root: it owns the cache, audit sink, rate
// limiter, breaker provider, gateway, workflow engine, and invalidation
// manager, and exposes the operations the admin surface needs.
type Manager struct {
	logger *slog.Logger
	config domain.Config

	cache        ports.CachePort
	audit        ports.AuditPort
	limiter      ports.RateLimiter
	gateway      *gateway.Gateway
	engine       *engine.Engine
	invalidation ports.InvalidationManager

	closed atomic.Bool
}

type Metrics struct {
	Gateway ports.GatewayMetrics `json:"gateway"`
	Engine  ports.EngineMetrics  `json:"engine"`
}

type Health struct {
	Status            string  `json:"status"`
	SuccessRate       float64 `json:"success_rate"`
	RunningExecutions int     `json:"running_executions"`
}

func New(config domain.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	config.ApplyDefaults()

	store, err := cache.NewStore(cache.Options{
		Path:     filepath.Join(config.Cache.Path, "cache"),
		InMemory: config.Cache.InMemory,
	}, logger)
	if err != nil {
		return nil, err
	}

	sink, err := audit.NewArchiveSink(filepath.Join(config.Cache.Path, "audit"), config.Cache.InMemory, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	limiter := ratelimit.NewLimiter(ratelimit.DefaultRules()["free"], logger)
	breakers := breaker.NewProvider(ports.CircuitBreakerConfig{
		FailureThreshold: config.Gateway.FailureThreshold,
		RecoveryTimeout:  config.Gateway.RecoveryTimeout,
		CallTimeout:      config.Gateway.CallTimeout,
	}, logger)

	gw := gateway.New(store, limiter, breakers, transport.NewClient(config.Gateway.CallTimeout, logger), sink, gateway.Config{
		CallTimeout: config.Gateway.CallTimeout,
		CacheTTL:    config.Gateway.CacheTTL,
	}, logger)

	inv := invalidation.New(store, sink, config.Invalidation, logger)

	eng := engine.New(config.Engine, sink, logger)
	engine.RegisterBuiltins(eng, gw, sink, inv, logger)

	return &Manager{
		logger:       logger.With("component", "manager"),
		config:       config,
		cache:        store,
		audit:        sink,
		limiter:      limiter,
		gateway:      gw,
		engine:       eng,
		invalidation: inv,
	}, nil
}

func (m *Manager) RegisterWorkflow(def domain.WorkflowDefinition) error {
	if m.closed.Load() {
		return domain.ErrClosed
	}
	return m.engine.Register(def)
}

func (m *Manager) TriggerWorkflow(workflowID string, payload map[string]any) (string, error) {
	if m.closed.Load() {
		return "", domain.ErrClosed
	}
	return m.engine.Trigger(workflowID, payload)
}

func (m *Manager) GetStatus(executionID string) (domain.ExecutionSnapshot, error) {
	return m.engine.Status(executionID)
}

func (m *Manager) CancelExecution(executionID string) error {
	return m.engine.Cancel(executionID)
}

// RegisterHandler installs a custom step action alongside the built-ins.
func (m *Manager) RegisterHandler(kind string, handler ports.ActionHandler) {
	m.engine.RegisterHandler(kind, handler)
}

func (m *Manager) RegisterTransformer(dependency string, t ports.Transformer) {
	m.gateway.RegisterTransformer(dependency, t)
}

// Execute performs a one-off gateway call outside any workflow.
func (m *Manager) Execute(ctx context.Context, req ports.CallRequest) ports.CallResult {
	return m.gateway.Execute(ctx, req)
}

func (m *Manager) SetRateLimit(key string, rule ports.RateLimitRule) {
	m.limiter.SetRule(key, rule)
}

func (m *Manager) RateLimitStatus(key string) ports.RateLimitDecision {
	return m.limiter.Status(key)
}

func (m *Manager) AddInvalidationRule(rule ports.InvalidationRule) error {
	return m.invalidation.AddRule(rule)
}

func (m *Manager) RemoveInvalidationRule(name string) {
	m.invalidation.RemoveRule(name)
}

func (m *Manager) InvalidationRules() []ports.InvalidationRule {
	return m.invalidation.Rules()
}

func (m *Manager) Invalidate(ctx context.Context, trigger string, triggerCtx map[string]any) ports.InvalidationReport {
	return m.invalidation.Invalidate(ctx, trigger, triggerCtx)
}

func (m *Manager) Metrics() Metrics {
	return Metrics{
		Gateway: m.gateway.Metrics(),
		Engine:  m.engine.Metrics(),
	}
}

func (m *Manager) Health() Health {
	engineMetrics := m.engine.Metrics()
	rate := m.gateway.SuccessRate()

	status := "ok"
	if rate < 0.5 {
		status = "degraded"
	}
	return Health{
		Status:            status,
		SuccessRate:       rate,
		RunningExecutions: engineMetrics.Running,
	}
}

// Close drains the engine, stops invalidation timers, and releases both
// badger stores. Safe to call once; later calls are no-ops.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	var firstErr error
	if err := m.engine.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := m.invalidation.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.audit.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
