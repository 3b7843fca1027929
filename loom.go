// Package loom provides a resilience and orchestration layer for outbound
// API traffic.
//
// Loom wraps every upstream dependency behind a gateway that applies rate
// limiting, circuit breaking, response caching, and audit logging, and runs
// multi-step workflows over those calls as a dependency graph with retries
// and compensating rollback. Cache entries are busted by a rule-driven
// invalidation manager.
//
// Basic usage:
//
//	cfg := loom.DefaultConfig()
//	cfg.Cache.Path = "./data"
//
//	manager, err := loom.New(cfg, slog.Default())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer manager.Close(context.Background())
//
//	manager.RegisterWorkflow(loom.WorkflowDefinition{
//		ID: "sync-catalog",
//		Steps: []loom.WorkflowStep{
//			{ID: "fetch", Action: "http_call", Config: map[string]any{
//				"dependency": "shopify",
//				"endpoint":   "https://shop.example.com/products.json",
//			}},
//			{ID: "notify", Action: "notify", DependsOn: []string{"fetch"},
//				Config: map[string]any{"channel": "ops", "message": "catalog synced"}},
//		},
//	})
//
//	executionID, _ := manager.TriggerWorkflow("sync-catalog", nil)
//	status, _ := manager.GetStatus(executionID)
package loom

import (
	"log/slog"

	"github.com/atelierhq/loom/internal/core"
	"github.com/atelierhq/loom/internal/domain"
	"github.com/atelierhq/loom/internal/ports"
)

// Manager is the composition root owning the gateway, workflow engine,
// cache, and invalidation manager.
type Manager = core.Manager

// Metrics aggregates gateway and engine counters.
type Metrics = core.Metrics

// Health summarizes the gateway success rate and running executions.
type Health = core.Health

// Config carries the tunables for every component; zero values fall back to
// defaults via ApplyDefaults.
type Config = domain.Config

// WorkflowDefinition is the immutable description of a workflow's steps and
// their dependency graph.
type WorkflowDefinition = domain.WorkflowDefinition

// WorkflowStep is one node of the graph: an action, its config, and the
// steps it depends on.
type WorkflowStep = domain.WorkflowStep

// RetryPolicy caps attempts and sets the base backoff for one step.
type RetryPolicy = domain.RetryPolicy

// TriggerSpec describes how a workflow is meant to be started.
type TriggerSpec = domain.TriggerSpec

// ExecutionSnapshot is a point-in-time copy of one execution's state.
type ExecutionSnapshot = domain.ExecutionSnapshot

// StepSnapshot is the per-step slice of an execution snapshot.
type StepSnapshot = domain.StepSnapshot

// WorkflowStatus is the lifecycle state of an execution.
type WorkflowStatus = domain.WorkflowStatus

// StepStatus is the lifecycle state of one step within an execution.
type StepStatus = domain.StepStatus

// CallRequest describes one outbound call through the gateway.
type CallRequest = ports.CallRequest

// CallResult is the gateway's only output shape; failures are values, never
// returned as Go errors.
type CallResult = ports.CallResult

// Transformer reshapes a decoded upstream response before caching.
type Transformer = ports.Transformer

// ActionHandler implements a custom workflow step action.
type ActionHandler = ports.ActionHandler

// RateLimitRule caps requests per sliding window plus a burst limit.
type RateLimitRule = ports.RateLimitRule

// InvalidationRule binds a trigger pattern to a cache-busting strategy.
type InvalidationRule = ports.InvalidationRule

// InvalidationStrategy selects how a matched rule busts cache entries.
type InvalidationStrategy = ports.InvalidationStrategy

// InvalidationReport summarizes one Invalidate call.
type InvalidationReport = ports.InvalidationReport

const (
	WorkflowStatusPending   = domain.WorkflowStatusPending
	WorkflowStatusRunning   = domain.WorkflowStatusRunning
	WorkflowStatusSuccess   = domain.WorkflowStatusSuccess
	WorkflowStatusFailed    = domain.WorkflowStatusFailed
	WorkflowStatusCancelled = domain.WorkflowStatusCancelled
)

const (
	StepStatusPending    = domain.StepStatusPending
	StepStatusRunning    = domain.StepStatusRunning
	StepStatusSuccess    = domain.StepStatusSuccess
	StepStatusFailed     = domain.StepStatusFailed
	StepStatusSkipped    = domain.StepStatusSkipped
	StepStatusRolledBack = domain.StepStatusRolledBack
)

const (
	StrategyImmediate  = ports.StrategyImmediate
	StrategyDelayed    = ports.StrategyDelayed
	StrategyScheduled  = ports.StrategyScheduled
	StrategyPattern    = ports.StrategyPattern
	StrategyDependency = ports.StrategyDependency
	StrategyTTLRefresh = ports.StrategyTTLRefresh
)

// Sentinel errors returned by Manager operations.
var (
	ErrNotFound      = domain.ErrNotFound
	ErrAlreadyExists = domain.ErrAlreadyExists
	ErrRateLimited   = domain.ErrRateLimited
	ErrCircuitOpen   = domain.ErrCircuitOpen
	ErrClosed        = domain.ErrClosed
)

// New builds a fully wired Manager from config. A nil logger falls back to
// slog.Default.
func New(config Config, logger *slog.Logger) (*Manager, error) {
	return core.New(config, logger)
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() Config {
	return domain.DefaultConfig()
}
