package ports

import (
	"context"
	"time"

	"github.com/atelierhq/loom/internal/domain"
)

type CallRequest struct {
	Dependency string            `json:"dependency"`
	Endpoint   string            `json:"endpoint"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Body       any               `json:"body,omitempty"`
	Timeout    time.Duration     `json:"timeout,omitempty"`
	// SkipCache bypasses the response cache even for GET calls.
	SkipCache bool `json:"skip_cache,omitempty"`
}

// CallResult is the gateway's only output shape. Failures are values: Error
// and ErrorKind are set and Success is false, but Execute never returns a
// Go error to the caller.
type CallResult struct {
	Success       bool             `json:"success"`
	Data          any              `json:"data,omitempty"`
	Error         string           `json:"error,omitempty"`
	ErrorKind     domain.ErrorKind `json:"error_kind,omitempty"`
	CorrelationID string           `json:"correlation_id"`
	Latency       time.Duration    `json:"latency"`
	FromCache     bool             `json:"from_cache,omitempty"`
	RetryAfter    time.Duration    `json:"retry_after,omitempty"`
}

// Transformer reshapes a decoded upstream response before it is cached and
// returned. Registered per dependency; identity when absent.
type Transformer func(data any) (any, error)

type Gateway interface {
	Execute(ctx context.Context, req CallRequest) CallResult
	RegisterTransformer(dependency string, t Transformer)
	Metrics() GatewayMetrics
}

type GatewayMetrics struct {
	Global       domain.CallStats                 `json:"global"`
	ByDependency map[string]domain.CallStats      `json:"by_dependency"`
	Breakers     map[string]CircuitBreakerMetrics `json:"breakers"`
}
