package models

import (
	"time"

	json "github.com/goccy/go-json"
)

// NodeEvent is the broadcast-only notification of a node status change.
type NodeEvent struct {
	NodeID       string          `json:"nodeId"`
	AutomationID string          `json:"automationId"`
	Status       ExecutionStatus `json:"status"`
	Outputs      map[string]any  `json:"outputs,omitempty"`
	Error        string          `json:"error,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// NodeEventFromContext projects a log record onto its broadcast form.
func NodeEventFromContext(execCtx *ExecutionContext) NodeEvent {
	return NodeEvent{
		NodeID:       execCtx.NodeID,
		AutomationID: execCtx.AutomationID,
		Status:       execCtx.Status,
		Outputs:      execCtx.Outputs,
		Error:        execCtx.Error,
		Timestamp:    time.Now().UTC(),
	}
}

// ToSSE renders the event as a single server-sent-events frame.
func (e NodeEvent) ToSSE() string {
	payload, err := json.Marshal(e)
	if err != nil {
		payload, _ = json.Marshal(NodeEvent{
			NodeID:       e.NodeID,
			AutomationID: e.AutomationID,
			Status:       e.Status,
			Error:        e.Error,
			Timestamp:    e.Timestamp,
		})
	}

	return "data: " + string(payload) + "\n\n"
}
