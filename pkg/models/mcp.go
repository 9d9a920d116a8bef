package models

import "time"

// MCPStatus tracks an imported plugin's lifecycle.
type MCPStatus string

const (
	MCPStatusLoading MCPStatus = "LOADING"
	MCPStatusReady   MCPStatus = "READY"
	MCPStatusError   MCPStatus = "ERROR"
)

// MCP is the metadata of an imported tool plugin.
type MCP struct {
	ID        string            `json:"id"               validate:"required"`
	Name      string            `json:"name"             validate:"required"`
	Source    string            `json:"source"           validate:"required"`
	Env       map[string]string `json:"env,omitempty"`
	ToolIDs   []string          `json:"toolIds"`
	Status    MCPStatus         `json:"status"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func (m *MCP) GetID() string {
	return m.ID
}
