package models

import (
	"context"
	"time"
)

// ToolType classifies a SystemTool.
type ToolType string

const (
	ToolTypeManual  ToolType = "MANUAL"
	ToolTypeCron    ToolType = "CRON"
	ToolTypeWebhook ToolType = "WEBHOOK"
	ToolTypeMCP     ToolType = "MCP"
	ToolTypeHTTP    ToolType = "HTTP"
)

func (t ToolType) Valid() bool {
	switch t {
	case ToolTypeManual, ToolTypeCron, ToolTypeWebhook, ToolTypeMCP, ToolTypeHTTP:
		return true
	default:
		return false
	}
}

// IsTrigger reports whether tools of this type start runs.
func (t ToolType) IsTrigger() bool {
	return t == ToolTypeManual || t == ToolTypeCron || t == ToolTypeWebhook
}

// WebhookInfo holds the credentials of a WEBHOOK tool.
type WebhookInfo struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// SystemTool is a persisted tool definition referenced by TRIGGER and TOOL nodes.
type SystemTool struct {
	ID           string         `json:"id"                    validate:"required"`
	Name         string         `json:"name"                  validate:"required"`
	Description  string         `json:"description,omitempty"`
	Type         ToolType       `json:"type"                  validate:"required"`
	Config       map[string]any `json:"config,omitempty"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
	MCPID        string         `json:"mcpId,omitempty"`
	Webhook      *WebhookInfo   `json:"webhook,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (t *SystemTool) GetID() string {
	return t.ID
}

// ToolExecutor runs a tool with a resolved input.
type ToolExecutor func(ctx context.Context, input map[string]any) (map[string]any, error)

// Tool is a callable tool descriptor. The executor is not part of its JSON form.
type Tool struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema"`

	executor ToolExecutor
}

// NewTool builds a descriptor bound to an executor.
func NewTool(id, name, description string, inputSchema, outputSchema map[string]any, executor ToolExecutor) *Tool {
	if inputSchema == nil {
		inputSchema = map[string]any{}
	}

	if outputSchema == nil {
		outputSchema = map[string]any{}
	}

	return &Tool{
		ID:           id,
		Name:         name,
		Description:  description,
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
		executor:     executor,
	}
}

// Execute invokes the bound executor.
func (t *Tool) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	if t.executor == nil {
		return nil, ErrToolNotExecutable
	}

	return t.executor(ctx, input)
}
