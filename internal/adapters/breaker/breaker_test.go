package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atelierhq/loom/internal/domain"
	"github.com/atelierhq/loom/internal/ports"
)

var errUpstream = errors.New("upstream failure")

func newTestBreaker(threshold int, recovery time.Duration) *circuitBreaker {
	cb := NewCircuitBreaker("test", ports.CircuitBreakerConfig{
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
		CallTimeout:      time.Second,
	}, nil)
	return cb.(*circuitBreaker)
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	err := cb.Call(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cb.State() != ports.StateClosed {
		t.Errorf("expected closed, got %v", cb.State())
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		cb.Call(context.Background(), func(context.Context) error { return errUpstream })
	}

	if cb.State() != ports.StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", cb.State())
	}

	invoked := false
	err := cb.Call(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Error("function must not be invoked while the breaker is open")
	}
}

func TestBreakerHalfOpenTrialSuccessCloses(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		cb.Call(context.Background(), func(context.Context) error { return errUpstream })
	}
	if cb.State() != ports.StateOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}

	// Before the recovery window the underlying function is never invoked.
	now = now.Add(30 * time.Second)
	invoked := false
	cb.Call(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	if invoked {
		t.Fatal("trial admitted before recovery timeout elapsed")
	}

	now = now.Add(31 * time.Second)
	err := cb.Call(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("trial call should succeed, got %v", err)
	}

	if cb.State() != ports.StateClosed {
		t.Errorf("expected closed after trial success, got %v", cb.State())
	}
	if cb.Metrics().FailureCount != 0 {
		t.Errorf("failure count should reset to 0, got %d", cb.Metrics().FailureCount)
	}
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		cb.Call(context.Background(), func(context.Context) error { return errUpstream })
	}

	now = now.Add(2 * time.Minute)
	err := cb.Call(context.Background(), func(context.Context) error { return errUpstream })
	if !errors.Is(err, errUpstream) {
		t.Fatalf("expected trial to run and fail, got %v", err)
	}

	if cb.State() != ports.StateOpen {
		t.Errorf("expected open after trial failure, got %v", cb.State())
	}
}

func TestBreakerAdmitsExactlyOneTrial(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.Call(context.Background(), func(context.Context) error { return errUpstream })
	time.Sleep(20 * time.Millisecond)

	var invocations int32
	release := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.Call(context.Background(), func(context.Context) error {
				atomic.AddInt32(&invocations, 1)
				<-release
				return nil
			})
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&invocations); n != 1 {
		t.Errorf("expected exactly one trial invocation, got %d", n)
	}
}

func TestBreakerTimeoutCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker("slow", ports.CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		CallTimeout:      10 * time.Millisecond,
	}, nil)

	err := cb.Call(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !errors.Is(err, domain.ErrCallTimeout) {
		t.Fatalf("expected ErrCallTimeout, got %v", err)
	}
	if cb.State() != ports.StateOpen {
		t.Errorf("timeout should trip the breaker at threshold 1, got %v", cb.State())
	}
}

func TestProviderReturnsSameBreakerPerKey(t *testing.T) {
	p := NewProvider(ports.CircuitBreakerConfig{FailureThreshold: 2}, nil)

	a := p.Breaker("shopify")
	b := p.Breaker("shopify")
	if a != b {
		t.Error("provider should reuse the breaker for a key")
	}

	p.Breaker("stripe")
	if len(p.AllMetrics()) != 2 {
		t.Errorf("expected metrics for 2 breakers, got %d", len(p.AllMetrics()))
	}
}
