package domain

import (
	"time"
)

type EventType string

const (
	EventGatewayCall        EventType = "gateway.call"
	EventWorkflowRegistered EventType = "workflow.registered"
	EventWorkflowStarted    EventType = "workflow.started"
	EventWorkflowCompleted  EventType = "workflow.completed"
	EventWorkflowFailed     EventType = "workflow.failed"
	EventWorkflowCancelled  EventType = "workflow.cancelled"
	EventStepCompleted      EventType = "step.completed"
	EventStepFailed         EventType = "step.failed"
	EventStepRolledBack     EventType = "step.rolled_back"
	EventRollbackFailed     EventType = "step.rollback_failed"
	EventInvalidationRun    EventType = "cache.invalidation"
	EventNotification       EventType = "notification"
)

// AuditRecord is the unit accepted by the append-only audit sink.
type AuditRecord struct {
	Timestamp     time.Time      `json:"timestamp"`
	EventType     EventType      `json:"event_type"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload,omitempty"`
}

func NewAuditRecord(eventType EventType, correlationID string, payload map[string]any) AuditRecord {
	return AuditRecord{
		Timestamp:     time.Now().UTC(),
		EventType:     eventType,
		CorrelationID: correlationID,
		Payload:       payload,
	}
}
