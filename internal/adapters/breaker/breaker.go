package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/atelierhq/loom/internal/domain"
	"github.com/atelierhq/loom/internal/ports"
)

type circuitBreaker struct {
	name   string
	config ports.CircuitBreakerConfig
	logger *slog.Logger

	mu              sync.Mutex
	state           ports.CircuitState
	failureCount    int
	lastFailure     time.Time
	lastStateChange time.Time
	trialInFlight   bool
	totalCalls      int64
	callsRejected   int64

	now func() time.Time
}

func NewCircuitBreaker(name string, config ports.CircuitBreakerConfig, logger *slog.Logger) ports.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}

	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}

	return &circuitBreaker{
		name:            name,
		config:          config,
		logger:          logger.With("component", "circuit-breaker", "name", name),
		state:           ports.StateClosed,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// Call admits fn according to the breaker state. While open it fails fast
// with domain.ErrCircuitOpen until the recovery timeout has elapsed since the
// last failure; then exactly one trial call is admitted and its outcome
// resolves the half-open state. A call exceeding the configured timeout
// counts as a failure.
func (cb *circuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	admitted, trial := cb.admit()
	if !admitted {
		cb.logger.Debug("call rejected", "state", cb.State().String())
		return domain.ErrCircuitOpen
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, cb.config.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			cb.onFailure(trial)
			return err
		}
		cb.onSuccess(trial)
		return nil
	case <-timeoutCtx.Done():
		cb.onFailure(trial)
		if timeoutCtx.Err() == context.DeadlineExceeded {
			return domain.ErrCallTimeout
		}
		return timeoutCtx.Err()
	}
}

// admit reports whether a call may proceed and whether it is the half-open
// trial. The state check, half-open transition, and trial reservation happen
// under one lock so concurrent callers cannot both win the trial slot.
func (cb *circuitBreaker) admit() (admitted, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++

	if cb.state == ports.StateOpen && cb.now().Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
		cb.setStateLocked(ports.StateHalfOpen)
	}

	switch cb.state {
	case ports.StateClosed:
		return true, false
	case ports.StateHalfOpen:
		if cb.trialInFlight {
			cb.callsRejected++
			return false, false
		}
		cb.trialInFlight = true
		return true, true
	default:
		cb.callsRejected++
		return false, false
	}
}

func (cb *circuitBreaker) onSuccess(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialInFlight = false
	}
	cb.failureCount = 0
	if cb.state != ports.StateClosed {
		cb.setStateLocked(ports.StateClosed)
	}
}

func (cb *circuitBreaker) onFailure(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()

	if trial {
		cb.trialInFlight = false
		cb.setStateLocked(ports.StateOpen)
		return
	}

	if cb.state == ports.StateClosed && cb.failureCount >= cb.config.FailureThreshold {
		cb.setStateLocked(ports.StateOpen)
	}
}

func (cb *circuitBreaker) setStateLocked(newState ports.CircuitState) {
	oldState := cb.state
	if oldState == newState {
		return
	}

	cb.state = newState
	cb.lastStateChange = cb.now()

	cb.logger.Info("circuit breaker state change",
		"from", oldState.String(),
		"to", newState.String(),
		"failure_count", cb.failureCount)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

func (cb *circuitBreaker) State() ports.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *circuitBreaker) Metrics() ports.CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return ports.CircuitBreakerMetrics{
		State:           cb.state,
		FailureCount:    cb.failureCount,
		LastFailure:     cb.lastFailure,
		LastStateChange: cb.lastStateChange,
		TotalCalls:      cb.totalCalls,
		CallsRejected:   cb.callsRejected,
	}
}

func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.logger.Info("circuit breaker reset")

	cb.failureCount = 0
	cb.trialInFlight = false
	cb.setStateLocked(ports.StateClosed)
}
