package ports

import (
	"context"

	"github.com/atelierhq/loom/internal/domain"
)

// ActionHandler executes one kind of workflow step. Execute returns the step
// result merged into the execution context under step_<id>_result; Rollback
// compensates a previously successful execution (a no-op is valid).
// Implementations receive the step with its config already resolved.
type ActionHandler interface {
	Execute(ctx context.Context, step domain.WorkflowStep, execCtx map[string]any) (map[string]any, error)
	Rollback(ctx context.Context, step domain.WorkflowStep, execCtx map[string]any) error
}

type EngineMetrics struct {
	Registered int     `json:"registered_workflows"`
	Running    int     `json:"running_executions"`
	Total      int64   `json:"total_executions"`
	Succeeded  int64   `json:"succeeded"`
	Failed     int64   `json:"failed"`
	AvgRuntime float64 `json:"avg_runtime_ms"`
}

type Engine interface {
	Register(def domain.WorkflowDefinition) error
	RegisterHandler(kind string, handler ActionHandler)
	// Trigger starts an asynchronous execution and returns its id immediately.
	Trigger(workflowID string, payload map[string]any) (string, error)
	Status(executionID string) (domain.ExecutionSnapshot, error)
	Cancel(executionID string) error
	Metrics() EngineMetrics
	// Shutdown stops scheduling new work and waits for in-flight steps.
	Shutdown(ctx context.Context) error
}
