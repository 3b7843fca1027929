package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/atelierhq/loom/internal/adapters/audit"
	"github.com/atelierhq/loom/internal/adapters/breaker"
	"github.com/atelierhq/loom/internal/adapters/ratelimit"
	"github.com/atelierhq/loom/internal/domain"
	"github.com/atelierhq/loom/internal/ports"
)

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	return 0, nil
}

func (c *fakeCache) ExtendMatching(ctx context.Context, pattern string, ttl time.Duration) (int, error) {
	return 0, nil
}

func (c *fakeCache) Close() error { return nil }

type fakeTransport struct {
	mu    sync.Mutex
	calls int
	fn    func(req ports.TransportRequest) (*ports.TransportResponse, error)
}

func (t *fakeTransport) Do(ctx context.Context, req ports.TransportRequest) (*ports.TransportResponse, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return t.fn(req)
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func jsonResponse(body any) func(ports.TransportRequest) (*ports.TransportResponse, error) {
	return func(ports.TransportRequest) (*ports.TransportResponse, error) {
		return &ports.TransportResponse{StatusCode: 200, Kind: ports.BodyKindJSON, Body: body}, nil
	}
}

func newTestGateway(t *testing.T, transport ports.TransportPort, rule ports.RateLimitRule) (*Gateway, *audit.MemorySink) {
	t.Helper()

	sink := audit.NewMemorySink()
	limiter := ratelimit.NewLimiter(rule, nil)
	breakers := breaker.NewProvider(ports.CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		CallTimeout:      time.Second,
	}, nil)

	g := New(newFakeCache(), limiter, breakers, transport, sink, Config{
		CallTimeout: time.Second,
		CacheTTL:    time.Minute,
	}, nil)
	return g, sink
}

func generousRule() ports.RateLimitRule {
	return ports.RateLimitRule{RequestsPerSecond: 1000, BurstLimit: 10000}
}

func TestExecuteSuccessCarriesCorrelationID(t *testing.T) {
	tr := &fakeTransport{fn: jsonResponse(map[string]any{"ok": true})}
	g, sink := newTestGateway(t, tr, generousRule())

	result := g.Execute(context.Background(), ports.CallRequest{
		Dependency: "shopify",
		Endpoint:   "https://api.example.com/products",
	})

	if !result.Success {
		t.Fatalf("expected success, got error %s", result.Error)
	}
	if result.CorrelationID == "" {
		t.Error("correlation id must be set")
	}
	if len(sink.ByEventType(domain.EventGatewayCall)) != 1 {
		t.Error("expected one audit record")
	}
}

func TestExecuteServesSecondCallFromCache(t *testing.T) {
	tr := &fakeTransport{fn: jsonResponse(map[string]any{"n": float64(1)})}
	g, _ := newTestGateway(t, tr, generousRule())

	req := ports.CallRequest{Dependency: "shopify", Endpoint: "https://api.example.com/products"}

	first := g.Execute(context.Background(), req)
	second := g.Execute(context.Background(), req)

	if !first.Success || !second.Success {
		t.Fatal("both calls should succeed")
	}
	if first.FromCache {
		t.Error("first call must hit the transport")
	}
	if !second.FromCache {
		t.Error("second call should be served from cache")
	}
	if tr.callCount() != 1 {
		t.Errorf("expected exactly 1 transport call, got %d", tr.callCount())
	}
}

func TestExecutePostBypassesCache(t *testing.T) {
	tr := &fakeTransport{fn: jsonResponse(map[string]any{"ok": true})}
	g, _ := newTestGateway(t, tr, generousRule())

	req := ports.CallRequest{Dependency: "shopify", Endpoint: "https://api.example.com/orders", Method: "POST"}

	g.Execute(context.Background(), req)
	g.Execute(context.Background(), req)

	if tr.callCount() != 2 {
		t.Errorf("POST calls must not be cached, got %d transport calls", tr.callCount())
	}
}

func TestExecuteRateLimitedReturnsValue(t *testing.T) {
	tr := &fakeTransport{fn: jsonResponse(map[string]any{})}
	g, _ := newTestGateway(t, tr, ports.RateLimitRule{RequestsPerSecond: 1, BurstLimit: 100})

	// POST so the cache cannot absorb the second call.
	req := ports.CallRequest{Dependency: "stripe", Endpoint: "https://api.example.com/charge", Method: "POST"}

	first := g.Execute(context.Background(), req)
	if !first.Success {
		t.Fatalf("first call should pass: %s", first.Error)
	}

	second := g.Execute(context.Background(), req)
	if second.Success {
		t.Fatal("second call should be rate limited")
	}
	if second.ErrorKind != domain.ErrorKindRateLimited {
		t.Errorf("expected rate_limited kind, got %s", second.ErrorKind)
	}
	if second.RetryAfter <= 0 {
		t.Error("rate limited result should carry RetryAfter")
	}
	if tr.callCount() != 1 {
		t.Errorf("denied call must not reach transport, got %d calls", tr.callCount())
	}
}

func TestExecuteTripsBreakerAndFailsFast(t *testing.T) {
	tr := &fakeTransport{fn: func(ports.TransportRequest) (*ports.TransportResponse, error) {
		return nil, &domain.UpstreamError{Dependency: "flaky", StatusCode: 500, Body: "err"}
	}}
	g, _ := newTestGateway(t, tr, generousRule())

	req := ports.CallRequest{Dependency: "flaky", Endpoint: "https://api.example.com/x", Method: "POST"}

	for i := 0; i < 3; i++ {
		result := g.Execute(context.Background(), req)
		if result.ErrorKind != domain.ErrorKindUpstream {
			t.Fatalf("call %d: expected upstream kind, got %s", i, result.ErrorKind)
		}
	}

	result := g.Execute(context.Background(), req)
	if result.ErrorKind != domain.ErrorKindCircuitOpen {
		t.Fatalf("expected circuit_open after threshold, got %s", result.ErrorKind)
	}
	if tr.callCount() != 3 {
		t.Errorf("open breaker must not invoke transport, got %d calls", tr.callCount())
	}
}

func TestExecuteAppliesTransformer(t *testing.T) {
	tr := &fakeTransport{fn: jsonResponse(map[string]any{"raw": "value"})}
	g, _ := newTestGateway(t, tr, generousRule())

	g.RegisterTransformer("shopify", func(data any) (any, error) {
		m, ok := data.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected shape %T", data)
		}
		return map[string]any{"wrapped": m}, nil
	})

	result := g.Execute(context.Background(), ports.CallRequest{
		Dependency: "shopify",
		Endpoint:   "https://api.example.com/products",
	})
	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Error)
	}

	data, ok := result.Data.(map[string]any)
	if !ok || data["wrapped"] == nil {
		t.Errorf("transformer output not returned: %#v", result.Data)
	}
}

func TestExecuteTransformerErrorIsValue(t *testing.T) {
	tr := &fakeTransport{fn: jsonResponse(map[string]any{})}
	g, _ := newTestGateway(t, tr, generousRule())

	g.RegisterTransformer("shopify", func(any) (any, error) {
		return nil, errors.New("bad shape")
	})

	result := g.Execute(context.Background(), ports.CallRequest{
		Dependency: "shopify",
		Endpoint:   "https://api.example.com/products",
	})
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.ErrorKind != domain.ErrorKindTransform {
		t.Errorf("expected transform kind, got %s", result.ErrorKind)
	}
}

func TestMetricsTrackOutcomesPerDependency(t *testing.T) {
	tr := &fakeTransport{fn: jsonResponse(map[string]any{})}
	g, _ := newTestGateway(t, tr, generousRule())

	g.Execute(context.Background(), ports.CallRequest{Dependency: "a", Endpoint: "https://x/1", Method: "POST"})
	g.Execute(context.Background(), ports.CallRequest{Dependency: "a", Endpoint: "https://x/1", Method: "POST"})

	metrics := g.Metrics()
	if metrics.Global.Total != 2 || metrics.Global.Succeeded != 2 {
		t.Errorf("global stats wrong: %+v", metrics.Global)
	}
	stats, ok := metrics.ByDependency["a"]
	if !ok || stats.Total != 2 {
		t.Errorf("per-dependency stats wrong: %+v", stats)
	}
	if stats.AvgLatencyMS <= 0 {
		t.Error("EMA latency should be positive")
	}
}
