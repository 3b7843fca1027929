package ports

import (
	"context"
	"time"
)

type InvalidationStrategy string

const (
	StrategyImmediate  InvalidationStrategy = "immediate"
	StrategyDelayed    InvalidationStrategy = "delayed"
	StrategyScheduled  InvalidationStrategy = "scheduled"
	StrategyPattern    InvalidationStrategy = "pattern"
	StrategyDependency InvalidationStrategy = "dependency"
	StrategyTTLRefresh InvalidationStrategy = "ttl_refresh"
)

type InvalidationRule struct {
	Name     string               `json:"name"`
	Strategy InvalidationStrategy `json:"strategy"`
	// Patterns are cache-key globs; a rule fires when the trigger matches any
	// of them.
	Patterns []string      `json:"patterns"`
	Delay    time.Duration `json:"delay,omitempty"`
	// ScheduleAt applies to the scheduled strategy; deletions run at or after
	// this wall-clock time.
	ScheduleAt time.Time `json:"schedule_at,omitzero"`
	// Dependencies names domain entities whose dependent namespaces are
	// invalidated by the dependency strategy.
	Dependencies []string      `json:"dependencies,omitempty"`
	RefreshTTL   time.Duration `json:"refresh_ttl,omitempty"`
}

type RuleOutcome struct {
	Rule         string               `json:"rule"`
	Strategy     InvalidationStrategy `json:"strategy"`
	KeysAffected int                  `json:"keys_affected"`
	Deferred     bool                 `json:"deferred,omitempty"`
	Error        string               `json:"error,omitempty"`
}

type InvalidationReport struct {
	Trigger      string        `json:"trigger"`
	RulesMatched int           `json:"rules_matched"`
	Outcomes     []RuleOutcome `json:"outcomes"`
	Elapsed      time.Duration `json:"elapsed"`
}

// InvalidationManager dispatches cache-busting rules in response to domain
// events. Rule executions are isolated; one failure never stops the rest.
type InvalidationManager interface {
	AddRule(rule InvalidationRule) error
	RemoveRule(name string)
	Rules() []InvalidationRule
	Invalidate(ctx context.Context, trigger string, context map[string]any) InvalidationReport
	Close() error
}
