package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the per-node execution state recorded in the log store.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

// ExecutionContext is the persisted record of one node execution within one run.
type ExecutionContext struct {
	ID           string          `json:"id"`
	AutomationID string          `json:"automationId"`
	NodeID       string          `json:"nodeId"`
	Inputs       map[string]any  `json:"inputs"`
	Outputs      map[string]any  `json:"outputs,omitempty"`
	Status       ExecutionStatus `json:"status"`
	StartTime    time.Time       `json:"startTime"`
	EndTime      *time.Time      `json:"endTime,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// NewExecutionContext starts a RUNNING record for a node.
func NewExecutionContext(automationID, nodeID string, inputs map[string]any) *ExecutionContext {
	if inputs == nil {
		inputs = map[string]any{}
	}

	return &ExecutionContext{
		ID:           uuid.New().String(),
		AutomationID: automationID,
		NodeID:       nodeID,
		Inputs:       inputs,
		Status:       ExecutionStatusRunning,
		StartTime:    time.Now().UTC(),
	}
}

// Complete marks the record finished with outputs.
func (e *ExecutionContext) Complete(outputs map[string]any) {
	now := time.Now().UTC()
	e.EndTime = &now
	e.Outputs = outputs
	e.Status = ExecutionStatusCompleted
}

// Fail marks the record finished with an error message.
func (e *ExecutionContext) Fail(message string) {
	now := time.Now().UTC()
	e.EndTime = &now
	e.Error = message
	e.Status = ExecutionStatusFailed
}

// Duration is EndTime - StartTime; ok is false while the node is still running.
func (e *ExecutionContext) Duration() (time.Duration, bool) {
	if e.EndTime == nil {
		return 0, false
	}

	return e.EndTime.Sub(e.StartTime), true
}

// MarshalJSON adds the derived duration in milliseconds once known.
func (e ExecutionContext) MarshalJSON() ([]byte, error) {
	type record ExecutionContext

	out := struct {
		record

		Duration *int64 `json:"duration,omitempty"`
	}{record: record(e)}

	if d, ok := e.Duration(); ok {
		ms := d.Milliseconds()
		out.Duration = &ms
	}

	return json.Marshal(out)
}

// ExecutionResult is what one executor run produces.
type ExecutionResult struct {
	ExecutedNodes map[string]map[string]any `json:"executedNodes"`
	Errors        map[string]string         `json:"errors"`
}

// NewExecutionResult returns an empty result with initialized maps.
func NewExecutionResult() *ExecutionResult {
	return &ExecutionResult{
		ExecutedNodes: map[string]map[string]any{},
		Errors:        map[string]string{},
	}
}

// Failed reports whether any node recorded an error.
func (r *ExecutionResult) Failed() bool {
	return len(r.Errors) > 0
}

// ExecutionSummary aggregates the persisted records of one automation.
type ExecutionSummary struct {
	AutomationID   string              `json:"automationId"`
	Status         AutomationStatus    `json:"status"`
	TotalNodes     int                 `json:"totalNodes"`
	CompletedNodes int                 `json:"completedNodes"`
	FailedNodes    int                 `json:"failedNodes"`
	Logs           []*ExecutionContext `json:"logs"`
}
