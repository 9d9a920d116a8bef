// Package events defines the notifications published while automations execute.
package events

import (
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every autoflow event.
const Topic = "autoflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Automation run lifecycle.
	AutomationExecutionStartedEvent   EventType = "automation.execution.started"
	AutomationExecutionCompletedEvent EventType = "automation.execution.completed"
	AutomationExecutionFailedEvent    EventType = "automation.execution.failed"

	// Per-node progress.
	NodeExecutionStartedEvent  EventType = "node.execution.started"
	NodeExecutionFinishedEvent EventType = "node.execution.finished"
	NodeExecutionFailedEvent   EventType = "node.execution.failed"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	AutomationID string         `json:"automation_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, automationID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		AutomationID: automationID,
		Metadata:     make(map[string]any),
	}
}

type AutomationExecutionStarted struct {
	BaseEvent

	TriggerNodeID string         `json:"trigger_node_id,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
}

func (e AutomationExecutionStarted) GetType() EventType {
	return AutomationExecutionStartedEvent
}

type AutomationExecutionCompleted struct {
	BaseEvent

	ExecutedNodes []string      `json:"executed_nodes"`
	Duration      time.Duration `json:"duration"`
}

func (e AutomationExecutionCompleted) GetType() EventType {
	return AutomationExecutionCompletedEvent
}

type AutomationExecutionFailed struct {
	BaseEvent

	Errors   map[string]string `json:"errors,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
}

func (e AutomationExecutionFailed) GetType() EventType {
	return AutomationExecutionFailedEvent
}

// NodeExecution carries one node's progress. Its GetType follows the node status.
type NodeExecution struct {
	BaseEvent

	Node models.NodeEvent `json:"node"`
}

// NewNodeExecution wraps a node event for publication.
func NewNodeExecution(event models.NodeEvent) NodeExecution {
	return NodeExecution{
		BaseEvent: NewBaseEvent(nodeEventType(event.Status), event.AutomationID),
		Node:      event,
	}
}

func (e NodeExecution) GetType() EventType {
	return nodeEventType(e.Node.Status)
}

func nodeEventType(status models.ExecutionStatus) EventType {
	switch status {
	case models.ExecutionStatusCompleted:
		return NodeExecutionFinishedEvent
	case models.ExecutionStatusFailed:
		return NodeExecutionFailedEvent
	default:
		return NodeExecutionStartedEvent
	}
}
