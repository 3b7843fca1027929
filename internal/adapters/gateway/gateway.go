package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/atelierhq/loom/internal/domain"
	"github.com/atelierhq/loom/internal/ports"
)

type Config struct {
	CallTimeout time.Duration
	CacheTTL    time.Duration
}

// Gateway executes one outbound call with the full policy pipeline: cache
// lookup, rate limit check, breaker-guarded transport, response transform,
// write-through caching, rolling metrics, and an audit record. All failures
// come back inside the CallResult value.
type Gateway struct {
	logger    *slog.Logger
	cache     ports.CachePort
	limiter   ports.RateLimiter
	breakers  ports.CircuitBreakerProvider
	transport ports.TransportPort
	audit     ports.AuditPort
	metrics   *domain.RollingMetrics
	config    Config

	mu           sync.RWMutex
	transformers map[string]ports.Transformer
}

func New(
	cache ports.CachePort,
	limiter ports.RateLimiter,
	breakers ports.CircuitBreakerProvider,
	transport ports.TransportPort,
	audit ports.AuditPort,
	config Config,
	logger *slog.Logger,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}

	return &Gateway{
		logger:       logger.With("component", "api-gateway"),
		cache:        cache,
		limiter:      limiter,
		breakers:     breakers,
		transport:    transport,
		audit:        audit,
		metrics:      domain.NewRollingMetrics(),
		config:       config,
		transformers: make(map[string]ports.Transformer),
	}
}

func (g *Gateway) RegisterTransformer(dependency string, t ports.Transformer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transformers[dependency] = t
}

func (g *Gateway) transformer(dependency string) ports.Transformer {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.transformers[dependency]
}

func (g *Gateway) Execute(ctx context.Context, req ports.CallRequest) ports.CallResult {
	correlationID := uuid.NewString()
	start := time.Now()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	cacheable := method == http.MethodGet && !req.SkipCache

	if cacheable {
		if result, ok := g.cachedResult(ctx, req, correlationID, start); ok {
			g.appendAudit(ctx, req, result)
			return result
		}
	}

	decision := g.limiter.Check(req.Dependency)
	if !decision.Allowed {
		result := g.failure(req, correlationID, start, domain.ErrRateLimited.Error(), domain.ErrorKindRateLimited)
		result.RetryAfter = decision.RetryAfter
		return result
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.config.CallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var response *ports.TransportResponse
	err := g.breakers.Breaker(req.Dependency).Call(callCtx, func(ctx context.Context) error {
		var callErr error
		response, callErr = g.transport.Do(ctx, ports.TransportRequest{
			Method:  method,
			URL:     req.Endpoint,
			Headers: req.Headers,
			Query:   req.Params,
			Body:    req.Body,
		})
		return callErr
	})

	// A rejected call never reached the upstream, so it consumes no quota.
	if !errors.Is(err, domain.ErrCircuitOpen) {
		g.limiter.Record(req.Dependency)
	}

	if err != nil {
		return g.failure(req, correlationID, start, err.Error(), domain.ClassifyError(err))
	}

	data := response.Body
	if t := g.transformer(req.Dependency); t != nil {
		transformed, terr := t(data)
		if terr != nil {
			return g.failure(req, correlationID, start, terr.Error(), domain.ErrorKindTransform)
		}
		data = transformed
	}

	if cacheable {
		g.writeThrough(ctx, req, data)
	}

	latency := time.Since(start)
	g.metrics.Observe(req.Dependency, true, latency)

	result := ports.CallResult{
		Success:       true,
		Data:          data,
		CorrelationID: correlationID,
		Latency:       latency,
	}
	g.appendAudit(ctx, req, result)

	g.logger.Debug("call completed",
		"dependency", req.Dependency,
		"endpoint", req.Endpoint,
		"correlation_id", correlationID,
		"latency", latency)

	return result
}

func (g *Gateway) cachedResult(ctx context.Context, req ports.CallRequest, correlationID string, start time.Time) (ports.CallResult, bool) {
	key := domain.CallCacheKey(req.Dependency, req.Endpoint, req.Params)

	raw, found, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Error("cache lookup failed", "key", key, "error", err.Error())
		return ports.CallResult{}, false
	}
	if !found {
		return ports.CallResult{}, false
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		g.logger.Error("cached value corrupt, ignoring", "key", key, "error", err.Error())
		return ports.CallResult{}, false
	}

	return ports.CallResult{
		Success:       true,
		Data:          data,
		CorrelationID: correlationID,
		Latency:       time.Since(start),
		FromCache:     true,
	}, true
}

func (g *Gateway) writeThrough(ctx context.Context, req ports.CallRequest, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("response not cacheable", "dependency", req.Dependency, "error", err.Error())
		return
	}

	key := domain.CallCacheKey(req.Dependency, req.Endpoint, req.Params)
	if err := g.cache.Set(ctx, key, raw, g.config.CacheTTL); err != nil {
		g.logger.Error("cache write failed", "key", key, "error", err.Error())
	}
}

func (g *Gateway) failure(req ports.CallRequest, correlationID string, start time.Time, message string, kind domain.ErrorKind) ports.CallResult {
	latency := time.Since(start)
	g.metrics.Observe(req.Dependency, false, latency)

	result := ports.CallResult{
		Success:       false,
		Error:         message,
		ErrorKind:     kind,
		CorrelationID: correlationID,
		Latency:       latency,
	}
	g.appendAudit(context.Background(), req, result)

	g.logger.Warn("call failed",
		"dependency", req.Dependency,
		"endpoint", req.Endpoint,
		"correlation_id", correlationID,
		"kind", string(kind),
		"error", message)

	return result
}

func (g *Gateway) appendAudit(ctx context.Context, req ports.CallRequest, result ports.CallResult) {
	record := domain.NewAuditRecord(domain.EventGatewayCall, result.CorrelationID, map[string]any{
		"dependency": req.Dependency,
		"endpoint":   req.Endpoint,
		"method":     req.Method,
		"success":    result.Success,
		"from_cache": result.FromCache,
		"latency_ms": float64(result.Latency.Microseconds()) / 1000.0,
		"error":      result.Error,
		"error_kind": string(result.ErrorKind),
	})

	if err := g.audit.Append(ctx, record); err != nil {
		g.logger.Error("audit append failed", "correlation_id", result.CorrelationID, "error", err.Error())
	}
}

func (g *Gateway) Metrics() ports.GatewayMetrics {
	return ports.GatewayMetrics{
		Global:       g.metrics.Global(),
		ByDependency: g.metrics.All(),
		Breakers:     g.breakers.AllMetrics(),
	}
}

// SuccessRate feeds the health endpoint.
func (g *Gateway) SuccessRate() float64 {
	return g.metrics.SuccessRate()
}
