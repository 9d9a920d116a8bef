package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

type APIHandlers struct {
	automations *services.Automations
	execution   *services.Execution
	webhooks    *services.Webhooks
	plugins     *services.Plugins
	logs        persistence.ExecutionLogRepository
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	automations *services.Automations,
	execution *services.Execution,
	webhooks *services.Webhooks,
	plugins *services.Plugins,
	logs persistence.ExecutionLogRepository,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		automations: automations,
		execution:   execution,
		webhooks:    webhooks,
		plugins:     plugins,
		logs:        logs,
		validator:   validator,
		logger:      logger.With("module", "api"),
	}
}

// Ready reports whether the log store answers. It backs the readiness probe.
func (h *APIHandlers) Ready(c fiber.Ctx) bool {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	return h.logs.HealthCheck(ctx) == nil
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	logStoreCheck := "ok"
	status := "healthy"
	message := "Autoflow API is healthy"
	httpStatus := http.StatusOK

	if err := h.logs.HealthCheck(ctx); err != nil {
		logStoreCheck = err.Error()
		status = "unhealthy"
		message = "Autoflow API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"log_store": logStoreCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateAutomation(c fiber.Ctx) error {
	var req CreateAutomationRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	automation, err := h.automations.Create(c.Context(), req.ToAutomation())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(automation)
}

func (h *APIHandlers) GetAutomations(c fiber.Ctx) error {
	automations, err := h.automations.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(automations)
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	automation, err := h.automations.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(automation)
}

func (h *APIHandlers) DeleteAutomation(c fiber.Ctx) error {
	id := c.Params("id")

	if h.execution.IsRunning(id) {
		return handleServiceError(c, services.ErrExecutionInProgress)
	}

	if err := h.automations.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// StartExecution accepts a run and returns before it finishes.
func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	var opts []services.StartOption
	if req.TriggerNodeID != "" {
		opts = append(opts, services.WithTriggerNode(req.TriggerNodeID))
	}

	automationID := c.Params("automationId")

	executionID, err := h.execution.StartExecution(c.Context(), automationID, req.Input, opts...)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartExecutionResponse{
		ExecutionID:  executionID,
		AutomationID: automationID,
		Status:       models.AutomationStatusRunning,
	})
}

func (h *APIHandlers) GetExecutionStatus(c fiber.Ctx) error {
	summary, err := h.execution.GetExecutionStatus(c.Context(), c.Params("automationId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	logs, err := h.execution.GetExecutionLogs(c.Context(), c.Params("automationId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(logs)
}

func (h *APIHandlers) CreateTool(c fiber.Ctx) error {
	var req CreateToolRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	tool, err := h.automations.CreateTool(c.Context(), req.ToSystemTool())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(tool)
}

func (h *APIHandlers) GetTools(c fiber.Ctx) error {
	tools, err := h.automations.Tools(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(tools)
}

func (h *APIHandlers) CreateWebhookTool(c fiber.Ctx) error {
	var req CreateWebhookRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	tool, err := h.webhooks.CreateTool(c.Context(), services.CreateWebhookToolRequest{
		Name:        req.Name,
		Description: req.Description,
		InputSchema: req.InputSchema,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(tool)
}

func (h *APIHandlers) RotateWebhookToken(c fiber.Ctx) error {
	tool, err := h.webhooks.RotateToken(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(tool)
}

// TriggerWebhook authenticates the bearer token and starts the automations
// triggered by the tool.
func (h *APIHandlers) TriggerWebhook(c fiber.Ctx) error {
	payload := map[string]any{}

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "webhook payload must be a JSON object")
		}
	}

	executionIDs, err := h.webhooks.Trigger(c.Context(), c.Params("toolId"), c.Get(fiber.HeaderAuthorization), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(WebhookResponse{ExecutionIDs: executionIDs})
}

// ImportMCP answers 201 on success. When the plugin fails to load the record
// is kept with status ERROR and its id is reported in a 502 problem.
func (h *APIHandlers) ImportMCP(c fiber.Ctx) error {
	var req ImportMCPRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	record, err := h.plugins.Import(c.Context(), req.Name, req.Source, req.Env)
	if err != nil {
		if record == nil {
			return handleServiceError(c, err)
		}

		problem := problems.NewStatusProblem(502).
			WithInstance(c.Path()).
			WithType("plugin_load_failed").
			WithDetail(fmt.Sprintf("plugin %s failed to load: %v", record.ID, err))

		return c.Status(fiber.StatusBadGateway).JSON(problem)
	}

	tools, err := h.plugins.Tools(c.Context(), record.ID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(MCPResponse{MCP: record, Tools: tools})
}

func (h *APIHandlers) GetMCPTools(c fiber.Ctx) error {
	tools, err := h.plugins.Tools(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(tools)
}

func (h *APIHandlers) RefreshMCPTools(c fiber.Ctx) error {
	tools, err := h.plugins.RefreshTools(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(tools)
}

func (h *APIHandlers) DeleteMCP(c fiber.Ctx) error {
	err := h.plugins.Remove(c.Context(), c.Params("id"))
	if persistence.IsNotFound(err) {
		return handleServiceError(c, err)
	}

	if err != nil {
		h.logger.WarnContext(c.Context(), "Plugin removed with errors", "mcp_id", c.Params("id"), "error", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
