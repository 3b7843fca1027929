package engine

import (
	"context"
	"sync"
	"time"

	"github.com/expr-lang/expr"

	"github.com/atelierhq/loom/internal/domain"
)

type execution struct {
	id  string
	def domain.WorkflowDefinition

	mu              sync.Mutex
	state           domain.WorkflowStatus
	steps           map[string]*stepState
	context         map[string]any
	completionOrder []string
	startedAt       time.Time
	completedAt     *time.Time
	errMsg          string

	cancelOnce sync.Once
	cancelled  chan struct{}
}

type stepState struct {
	snapshot      domain.StepSnapshot
	eligibleAfter time.Time
	dispatched    bool
}

func newExecution(id string, def domain.WorkflowDefinition, execCtx map[string]any) *execution {
	steps := make(map[string]*stepState, len(def.Steps))
	for _, s := range def.Steps {
		steps[s.ID] = &stepState{
			snapshot: domain.StepSnapshot{ID: s.ID, Status: domain.StepStatusPending},
		}
	}
	return &execution{
		id:        id,
		def:       def,
		state:     domain.WorkflowStatusRunning,
		steps:     steps,
		context:   execCtx,
		startedAt: time.Now().UTC(),
		cancelled: make(chan struct{}),
	}
}

func (x *execution) requestCancel() {
	x.cancelOnce.Do(func() { close(x.cancelled) })
}

func (x *execution) isCancelled() bool {
	select {
	case <-x.cancelled:
		return true
	default:
		return false
	}
}

func (x *execution) status() domain.WorkflowStatus {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

func (x *execution) snapshot() domain.ExecutionSnapshot {
	x.mu.Lock()
	defer x.mu.Unlock()

	steps := make(map[string]domain.StepSnapshot, len(x.steps))
	for id, st := range x.steps {
		steps[id] = st.snapshot
	}
	execCtx := make(map[string]any, len(x.context))
	for k, v := range x.context {
		execCtx[k] = v
	}

	return domain.ExecutionSnapshot{
		ExecutionID: x.id,
		WorkflowID:  x.def.ID,
		Status:      x.state,
		Steps:       steps,
		Context:     execCtx,
		StartedAt:   x.startedAt,
		CompletedAt: x.completedAt,
		Error:       x.errMsg,
	}
}

// contextCopy hands a detached view of the execution context to a step
// goroutine so concurrent steps never share the live map.
func (x *execution) contextCopy() map[string]any {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[string]any, len(x.context))
	for k, v := range x.context {
		out[k] = v
	}
	return out
}

type stepOutcome struct {
	stepID  string
	skipped bool
	result  map[string]any
	err     error
}

// run drives one execution to a terminal state. Each scheduler tick collects
// finished steps, then dispatches every pending step whose dependencies are
// satisfied and whose retry backoff has elapsed.
func (e *Engine) run(exec *execution) {
	outcomes := make(chan stepOutcome, len(exec.def.Steps))
	inflight := 0

	ticker := time.NewTicker(e.config.SchedulerTick)
	defer ticker.Stop()

	var permanent *domain.StepFailure

	for {
		// Drain without blocking so a burst of completions lands in one pass.
		for drained := true; drained; {
			select {
			case out := <-outcomes:
				inflight--
				if failure := e.settle(exec, out); failure != nil && permanent == nil {
					permanent = failure
				}
			default:
				drained = false
			}
		}

		if permanent != nil || exec.isCancelled() {
			if inflight == 0 {
				break
			}
			out := <-outcomes
			inflight--
			if failure := e.settle(exec, out); failure != nil && permanent == nil {
				permanent = failure
			}
			continue
		}

		ready, pending := exec.readySet(time.Now())
		if pending == 0 && inflight == 0 {
			e.finish(exec, domain.WorkflowStatusSuccess, "")
			return
		}
		if len(ready) == 0 && inflight == 0 && !exec.anyBackoffPending() {
			e.finish(exec, domain.WorkflowStatusFailed, domain.ErrExecutionStalled.Error())
			return
		}

		for _, step := range ready {
			inflight++
			go e.dispatch(exec, step, outcomes)
		}

		if inflight > 0 {
			select {
			case out := <-outcomes:
				inflight--
				if failure := e.settle(exec, out); failure != nil && permanent == nil {
					permanent = failure
				}
			case <-ticker.C:
			}
			continue
		}
		<-ticker.C
	}

	if exec.isCancelled() && permanent == nil {
		e.finish(exec, domain.WorkflowStatusCancelled, "execution cancelled")
		return
	}

	e.rollback(exec)
	e.finish(exec, domain.WorkflowStatusFailed, permanent.Error())
}

// readySet returns the steps runnable right now plus the count of steps that
// have not yet finished.
func (x *execution) readySet(now time.Time) ([]domain.WorkflowStep, int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var ready []domain.WorkflowStep
	pending := 0
	for _, step := range x.def.Steps {
		st := x.steps[step.ID]
		if st.dispatched || st.snapshot.Status == domain.StepStatusSuccess || st.snapshot.Status == domain.StepStatusSkipped {
			continue
		}
		pending++

		if now.Before(st.eligibleAfter) {
			continue
		}
		satisfied := true
		for _, dep := range step.DependsOn {
			depState := x.steps[dep].snapshot.Status
			if depState != domain.StepStatusSuccess && depState != domain.StepStatusSkipped {
				satisfied = false
				break
			}
		}
		if satisfied {
			st.dispatched = true
			ready = append(ready, step)
		}
	}
	return ready, pending
}

func (x *execution) anyBackoffPending() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	now := time.Now()
	for _, st := range x.steps {
		if st.snapshot.Status == domain.StepStatusPending && now.Before(st.eligibleAfter) {
			return true
		}
	}
	return false
}

// dispatch runs one attempt of one step in its own goroutine.
func (e *Engine) dispatch(exec *execution, step domain.WorkflowStep, outcomes chan<- stepOutcome) {
	execCtx := exec.contextCopy()

	exec.mu.Lock()
	st := exec.steps[step.ID]
	st.snapshot.Status = domain.StepStatusRunning
	st.snapshot.Attempts++
	if st.snapshot.StartedAt == nil {
		now := time.Now().UTC()
		st.snapshot.StartedAt = &now
	}
	exec.mu.Unlock()

	if step.Condition != "" {
		proceed, err := evalCondition(step.Condition, execCtx)
		if err != nil {
			outcomes <- stepOutcome{stepID: step.ID, err: err}
			return
		}
		if !proceed {
			outcomes <- stepOutcome{stepID: step.ID, skipped: true}
			return
		}
	}

	e.mu.RLock()
	handler := e.handlers[step.Action]
	e.mu.RUnlock()

	resolved := step
	resolved.Config = domain.ResolveConfig(step.Config, execCtx)

	timeout := step.Retry.Timeout
	if timeout <= 0 {
		timeout = e.config.StepTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := handler.Execute(ctx, resolved, execCtx)
	outcomes <- stepOutcome{stepID: step.ID, result: result, err: err}
}

// settle applies one attempt's outcome. A failed attempt with remaining retry
// budget goes back to pending with an eligible-after timestamp; an exhausted
// one is returned as the execution's permanent failure.
func (e *Engine) settle(exec *execution, out stepOutcome) *domain.StepFailure {
	step := exec.def.Step(out.stepID)

	exec.mu.Lock()
	st := exec.steps[out.stepID]
	st.dispatched = false

	if out.skipped {
		now := time.Now().UTC()
		st.snapshot.Status = domain.StepStatusSkipped
		st.snapshot.CompletedAt = &now
		exec.mu.Unlock()
		e.logger.Debug("step skipped", "execution_id", exec.id, "step", out.stepID)
		return nil
	}

	if out.err == nil {
		now := time.Now().UTC()
		st.snapshot.Status = domain.StepStatusSuccess
		st.snapshot.CompletedAt = &now
		st.snapshot.Result = out.result
		st.snapshot.Error = ""
		exec.context[domain.StepResultKey(out.stepID)] = anyResult(out.result)
		exec.completionOrder = append(exec.completionOrder, out.stepID)
		exec.mu.Unlock()

		e.appendAudit(domain.EventStepCompleted, exec.id, map[string]any{
			"execution_id": exec.id,
			"step":         out.stepID,
			"attempts":     st.snapshot.Attempts,
		})
		return nil
	}

	attempts := st.snapshot.Attempts
	budget := retryBudget(step, e.config)
	st.snapshot.Error = out.err.Error()

	if attempts <= budget && !exec.isCancelled() {
		st.snapshot.Status = domain.StepStatusPending
		st.eligibleAfter = time.Now().Add(backoffDelay(step, e.config, attempts))
		exec.mu.Unlock()

		e.logger.Warn("step attempt failed, will retry",
			"execution_id", exec.id,
			"step", out.stepID,
			"attempt", attempts,
			"error", out.err.Error())
		return nil
	}

	now := time.Now().UTC()
	st.snapshot.Status = domain.StepStatusFailed
	st.snapshot.CompletedAt = &now
	exec.mu.Unlock()

	e.appendAudit(domain.EventStepFailed, exec.id, map[string]any{
		"execution_id": exec.id,
		"step":         out.stepID,
		"attempts":     attempts,
		"error":        out.err.Error(),
	})
	return &domain.StepFailure{StepID: out.stepID, Attempts: attempts, Err: out.err}
}

// retryBudget returns the number of retries after the first attempt. A step
// policy of zero falls back to the engine default; a negative value disables
// retries.
func retryBudget(step *domain.WorkflowStep, config domain.EngineConfig) int {
	if step == nil {
		return config.MaxRetries
	}
	if step.Retry.MaxRetries < 0 {
		return 0
	}
	if step.Retry.MaxRetries == 0 {
		return config.MaxRetries
	}
	return step.Retry.MaxRetries
}

// backoffDelay doubles the base per prior attempt: base, 2*base, 4*base.
func backoffDelay(step *domain.WorkflowStep, config domain.EngineConfig, attempts int) time.Duration {
	base := config.RetryBackoff
	if step != nil && step.Retry.Backoff > 0 {
		base = step.Retry.Backoff
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

// rollback compensates completed steps in reverse completion order. Rollback
// errors are recorded and skipped over; one broken compensation never blocks
// the rest. Steps keep their per-step rolled_back status; the execution
// itself still ends failed.
func (e *Engine) rollback(exec *execution) {
	exec.mu.Lock()
	order := make([]string, len(exec.completionOrder))
	copy(order, exec.completionOrder)
	exec.mu.Unlock()

	execCtx := exec.contextCopy()

	for i := len(order) - 1; i >= 0; i-- {
		stepID := order[i]
		step := exec.def.Step(stepID)
		if step == nil {
			continue
		}

		e.mu.RLock()
		handler := e.handlers[step.Action]
		e.mu.RUnlock()
		if handler == nil {
			continue
		}

		resolved := *step
		resolved.RollbackConfig = domain.ResolveConfig(step.RollbackConfig, execCtx)

		ctx, cancel := context.WithTimeout(context.Background(), e.config.StepTimeout)
		err := handler.Rollback(ctx, resolved, execCtx)
		cancel()

		if err != nil {
			e.appendAudit(domain.EventRollbackFailed, exec.id, map[string]any{
				"execution_id": exec.id,
				"step":         stepID,
				"error":        err.Error(),
			})
			e.logger.Error("step rollback failed",
				"execution_id", exec.id, "step", stepID, "error", err.Error())
			continue
		}

		exec.mu.Lock()
		exec.steps[stepID].snapshot.Status = domain.StepStatusRolledBack
		exec.mu.Unlock()

		e.appendAudit(domain.EventStepRolledBack, exec.id, map[string]any{
			"execution_id": exec.id,
			"step":         stepID,
		})
	}
}

func (e *Engine) finish(exec *execution, status domain.WorkflowStatus, errMsg string) {
	now := time.Now().UTC()

	exec.mu.Lock()
	exec.state = status
	exec.completedAt = &now
	exec.errMsg = errMsg
	runtime := now.Sub(exec.startedAt)
	exec.mu.Unlock()

	e.observeRuntime(runtime, status == domain.WorkflowStatusSuccess)

	event := domain.EventWorkflowCompleted
	switch status {
	case domain.WorkflowStatusFailed:
		event = domain.EventWorkflowFailed
	case domain.WorkflowStatusCancelled:
		event = domain.EventWorkflowCancelled
	}
	exec.mu.Lock()
	steps := make(map[string]any, len(exec.steps))
	for id, st := range exec.steps {
		entry := map[string]any{
			"status":   string(st.snapshot.Status),
			"attempts": st.snapshot.Attempts,
		}
		if st.snapshot.StartedAt != nil && st.snapshot.CompletedAt != nil {
			elapsed := st.snapshot.CompletedAt.Sub(*st.snapshot.StartedAt)
			entry["elapsed_ms"] = float64(elapsed.Microseconds()) / 1000.0
		}
		steps[id] = entry
	}
	exec.mu.Unlock()

	e.appendAudit(event, exec.id, map[string]any{
		"execution_id": exec.id,
		"workflow_id":  exec.def.ID,
		"status":       string(status),
		"runtime_ms":   float64(runtime.Microseconds()) / 1000.0,
		"error":        errMsg,
		"steps":        steps,
	})

	e.logger.Info("execution finished",
		"execution_id", exec.id,
		"workflow_id", exec.def.ID,
		"status", string(status),
		"runtime", runtime)
}

// evalCondition runs a boolean expression against the execution context. The
// expression language has no access to anything outside the provided map.
func evalCondition(condition string, execCtx map[string]any) (bool, error) {
	program, err := expr.Compile(condition, expr.Env(execCtx), expr.AsBool())
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, execCtx)
	if err != nil {
		return false, err
	}
	result, ok := out.(bool)
	if !ok {
		return false, domain.NewValidationError("", "condition %q did not evaluate to a boolean", condition)
	}
	return result, nil
}

// anyResult keeps step results addressable from placeholders whether the
// handler returned one value or a map.
func anyResult(result map[string]any) any {
	if result == nil {
		return map[string]any{}
	}
	return result
}
