package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/loom/internal/domain"
	"github.com/atelierhq/loom/internal/ports"
)

// Engine schedules workflow executions over a dependency graph. Steps run
// concurrently as soon as every dependency has finished; failures retry with
// exponential backoff and a permanently failed step rolls the execution back
// in reverse completion order.
type Engine struct {
	logger *slog.Logger
	audit  ports.AuditPort
	config domain.EngineConfig

	mu          sync.RWMutex
	definitions map[string]domain.WorkflowDefinition
	handlers    map[string]ports.ActionHandler
	executions  map[string]*execution
	order       []string
	closed      bool

	wg sync.WaitGroup

	statsMu    sync.Mutex
	total      int64
	succeeded  int64
	failed     int64
	runtimeEMA float64
}

func New(config domain.EngineConfig, audit ports.AuditPort, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if config.StepTimeout <= 0 {
		config.StepTimeout = 5 * time.Minute
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if config.SchedulerTick <= 0 {
		config.SchedulerTick = 25 * time.Millisecond
	}
	if config.RetainedSnapshots <= 0 {
		config.RetainedSnapshots = 1000
	}

	return &Engine{
		logger:      logger.With("component", "workflow-engine"),
		audit:       audit,
		config:      config,
		definitions: make(map[string]domain.WorkflowDefinition),
		handlers:    make(map[string]ports.ActionHandler),
		executions:  make(map[string]*execution),
	}
}

func (e *Engine) RegisterHandler(kind string, handler ports.ActionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = handler
}

// Register validates a definition and stores it. Definitions are immutable;
// registering an id twice is rejected.
func (e *Engine) Register(def domain.WorkflowDefinition) error {
	if def.ID == "" {
		return domain.NewValidationError(def.ID, "workflow id is required")
	}
	if len(def.Steps) == 0 {
		return domain.NewValidationError(def.ID, "workflow has no steps")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return domain.ErrClosed
	}
	if _, exists := e.definitions[def.ID]; exists {
		return fmt.Errorf("workflow %s: %w", def.ID, domain.ErrAlreadyExists)
	}

	seen := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if step.ID == "" {
			return domain.NewValidationError(def.ID, "step with empty id")
		}
		if seen[step.ID] {
			return domain.NewValidationError(def.ID, "duplicate step id %q", step.ID)
		}
		seen[step.ID] = true

		if step.Action == "" {
			return domain.NewValidationError(def.ID, "step %q has no action", step.ID)
		}
		if _, ok := e.handlers[step.Action]; !ok {
			return domain.NewValidationError(def.ID, "step %q uses unknown action %q", step.ID, step.Action)
		}
	}
	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return domain.NewValidationError(def.ID, "step %q depends on unknown step %q", step.ID, dep)
			}
		}
	}

	if cycle := findCycle(def.Steps); cycle != "" {
		return domain.NewValidationError(def.ID, "dependency cycle involving step %q", cycle)
	}

	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	e.definitions[def.ID] = def

	e.appendAudit(domain.EventWorkflowRegistered, def.ID, map[string]any{
		"workflow_id": def.ID,
		"name":        def.Name,
		"steps":       len(def.Steps),
	})
	e.logger.Info("workflow registered", "workflow_id", def.ID, "steps", len(def.Steps))
	return nil
}

// findCycle runs a depth-first walk with a recursion stack and returns the id
// of a step on a cycle, or "" when the graph is acyclic.
func findCycle(steps []domain.WorkflowStep) string {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if hit := visit(s.ID); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// Trigger starts an asynchronous execution of a registered workflow and
// returns the execution id immediately.
func (e *Engine) Trigger(workflowID string, payload map[string]any) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", domain.ErrClosed
	}
	def, ok := e.definitions[workflowID]
	if !ok {
		e.mu.Unlock()
		return "", fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNotFound)
	}

	execCtx, err := domain.BuildContext(def.Variables, payload)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}

	exec := newExecution(uuid.NewString(), def, execCtx)
	e.executions[exec.id] = exec
	e.order = append(e.order, exec.id)
	e.pruneLocked()
	e.mu.Unlock()

	e.appendAudit(domain.EventWorkflowStarted, exec.id, map[string]any{
		"workflow_id":  workflowID,
		"execution_id": exec.id,
	})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(exec)
	}()

	return exec.id, nil
}

func (e *Engine) Status(executionID string) (domain.ExecutionSnapshot, error) {
	e.mu.RLock()
	exec, ok := e.executions[executionID]
	e.mu.RUnlock()
	if !ok {
		return domain.ExecutionSnapshot{}, fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
	}
	return exec.snapshot(), nil
}

// Cancel requests cooperative cancellation. In-flight steps finish their
// current attempt; no new steps are dispatched.
func (e *Engine) Cancel(executionID string) error {
	e.mu.RLock()
	exec, ok := e.executions[executionID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
	}
	exec.requestCancel()
	return nil
}

func (e *Engine) Metrics() ports.EngineMetrics {
	e.mu.RLock()
	registered := len(e.definitions)
	running := 0
	for _, exec := range e.executions {
		if !exec.status().Terminal() {
			running++
		}
	}
	e.mu.RUnlock()

	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return ports.EngineMetrics{
		Registered: registered,
		Running:    running,
		Total:      e.total,
		Succeeded:  e.succeeded,
		Failed:     e.failed,
		AvgRuntime: e.runtimeEMA,
	}
}

// Shutdown stops accepting triggers and waits for in-flight executions until
// ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pruneLocked evicts the oldest terminal executions beyond the retention
// limit. Non-terminal executions are never evicted.
func (e *Engine) pruneLocked() {
	excess := len(e.order) - e.config.RetainedSnapshots
	if excess <= 0 {
		return
	}

	kept := e.order[:0]
	for _, id := range e.order {
		exec := e.executions[id]
		if excess > 0 && exec != nil && exec.status().Terminal() {
			delete(e.executions, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
}

func (e *Engine) observeRuntime(d time.Duration, succeeded bool) {
	const alpha = 0.1
	ms := float64(d.Microseconds()) / 1000.0

	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.total++
	if succeeded {
		e.succeeded++
	} else {
		e.failed++
	}
	if e.runtimeEMA == 0 {
		e.runtimeEMA = ms
	} else {
		e.runtimeEMA = alpha*ms + (1-alpha)*e.runtimeEMA
	}
}

func (e *Engine) appendAudit(eventType domain.EventType, correlationID string, payload map[string]any) {
	if e.audit == nil {
		return
	}
	record := domain.NewAuditRecord(eventType, correlationID, payload)
	if err := e.audit.Append(context.Background(), record); err != nil {
		e.logger.Error("audit append failed", "event", string(eventType), "error", err.Error())
	}
}
