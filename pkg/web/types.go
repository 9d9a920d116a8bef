// Package web provides the HTTP request and response types and handlers of the automation API.
package web

import "github.com/dukex/autoflow/pkg/models"

// CreateAutomationRequest represents the request body for creating an automation.
type CreateAutomationRequest struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"                  validate:"required,min=1"`
	Description string         `json:"description,omitempty"`
	Nodes       []*models.Node `json:"nodes"                 validate:"dive"`
	Links       []*models.Link `json:"links"                 validate:"dive"`
}

// ToAutomation converts the request into an automation ready for validation.
func (r CreateAutomationRequest) ToAutomation() *models.Automation {
	return &models.Automation{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Nodes:       r.Nodes,
		Links:       r.Links,
	}
}

// StartExecutionRequest is the optional body of a run request.
type StartExecutionRequest struct {
	Input         map[string]any `json:"input,omitempty"`
	TriggerNodeID string         `json:"triggerNodeId,omitempty"`
}

// StartExecutionResponse is returned once a run has been accepted.
type StartExecutionResponse struct {
	ExecutionID  string                  `json:"executionId"`
	AutomationID string                  `json:"automationId"`
	Status       models.AutomationStatus `json:"status"`
}

// CreateToolRequest creates a MANUAL, CRON or HTTP tool.
type CreateToolRequest struct {
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name"                   validate:"required,min=1"`
	Description  string          `json:"description,omitempty"`
	Type         models.ToolType `json:"type"                   validate:"required,oneof=MANUAL CRON HTTP"`
	Config       map[string]any  `json:"config,omitempty"`
	InputSchema  map[string]any  `json:"inputSchema,omitempty"`
	OutputSchema map[string]any  `json:"outputSchema,omitempty"`
}

func (r CreateToolRequest) ToSystemTool() *models.SystemTool {
	return &models.SystemTool{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Type:         r.Type,
		Config:       r.Config,
		InputSchema:  r.InputSchema,
		OutputSchema: r.OutputSchema,
	}
}

// CreateWebhookRequest creates a webhook trigger tool.
type CreateWebhookRequest struct {
	Name        string         `json:"name"                  validate:"required,min=1"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// WebhookResponse lists the runs an inbound webhook call started.
type WebhookResponse struct {
	ExecutionIDs []string `json:"executionIds"`
}

// ImportMCPRequest imports a plugin from an npm package or a remote URL.
type ImportMCPRequest struct {
	Name   string            `json:"name"   validate:"required,min=1"`
	Source string            `json:"source" validate:"required"`
	Env    map[string]string `json:"env,omitempty"`
}

// MCPResponse is an imported plugin with its current tool catalogue.
type MCPResponse struct {
	*models.MCP

	Tools []*models.Tool `json:"tools"`
}
