package ports

import (
	"context"
	"time"
)

type CircuitState int

const (
	StateClosed CircuitState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type CircuitBreakerConfig struct {
	FailureThreshold int                                      `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration                            `json:"recovery_timeout" yaml:"recovery_timeout"`
	CallTimeout      time.Duration                            `json:"call_timeout" yaml:"call_timeout"`
	OnStateChange    func(name string, from, to CircuitState) `json:"-" yaml:"-"`
}

type CircuitBreakerMetrics struct {
	State           CircuitState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	LastFailure     time.Time    `json:"last_failure,omitzero"`
	LastStateChange time.Time    `json:"last_state_change"`
	TotalCalls      int64        `json:"total_calls"`
	CallsRejected   int64        `json:"calls_rejected"`
}

// CircuitBreaker guards one dependency. Call fails fast with
// domain.ErrCircuitOpen while open; after the recovery timeout it admits
// exactly one trial invocation.
type CircuitBreaker interface {
	Call(ctx context.Context, fn func(context.Context) error) error
	State() CircuitState
	Metrics() CircuitBreakerMetrics
	Reset()
}

type CircuitBreakerProvider interface {
	Breaker(name string) CircuitBreaker
	AllMetrics() map[string]CircuitBreakerMetrics
}
