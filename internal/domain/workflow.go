package domain

import (
	"time"
)

type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusSuccess   WorkflowStatus = "success"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusSuccess, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	}
	return false
}

type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusRunning    StepStatus = "running"
	StepStatusSuccess    StepStatus = "success"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
	StepStatusRolledBack StepStatus = "rolled_back"
)

type TriggerType string

const (
	TriggerTypeManual    TriggerType = "manual"
	TriggerTypeWebhook   TriggerType = "webhook"
	TriggerTypeScheduled TriggerType = "scheduled"
	TriggerTypeEvent     TriggerType = "event"
)

type TriggerSpec struct {
	Type        TriggerType    `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout"`
	Backoff    time.Duration `json:"backoff"`
}

// WorkflowStep describes one node of the dependency graph. Config values may
// contain ${name} placeholders resolved against the execution context just
// before dispatch.
type WorkflowStep struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	Action         string         `json:"action"`
	Config         map[string]any `json:"config,omitempty"`
	DependsOn      []string       `json:"depends_on,omitempty"`
	Condition      string         `json:"condition,omitempty"`
	Retry          RetryPolicy    `json:"retry"`
	RollbackConfig map[string]any `json:"rollback_config,omitempty"`
}

// WorkflowDefinition is immutable once registered.
type WorkflowDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Trigger     TriggerSpec    `json:"trigger"`
	Steps       []WorkflowStep `json:"steps"`
	Variables   map[string]any `json:"variables,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (d *WorkflowDefinition) Step(id string) *WorkflowStep {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

type StepSnapshot struct {
	ID          string         `json:"id"`
	Status      StepStatus     `json:"status"`
	Attempts    int            `json:"attempts"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type ExecutionSnapshot struct {
	ExecutionID string                  `json:"execution_id"`
	WorkflowID  string                  `json:"workflow_id"`
	Status      WorkflowStatus          `json:"status"`
	Steps       map[string]StepSnapshot `json:"steps"`
	Context     map[string]any          `json:"context,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// StepResultKey names the context entry a completed step's result is stored
// under, e.g. step_fetch_result for step id "fetch".
func StepResultKey(stepID string) string {
	return "step_" + stepID + "_result"
}
