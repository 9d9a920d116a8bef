package web

import "github.com/gofiber/fiber/v3"

// RegisterRoutes mounts the automation API under /api.
func RegisterRoutes(app fiber.Router, h *APIHandlers) {
	api := app.Group("/api")

	a := api.Group("/automations")
	a.Get("/", h.GetAutomations)
	a.Post("/", h.CreateAutomation)
	a.Get("/:id", h.GetAutomation)
	a.Delete("/:id", h.DeleteAutomation)

	e := api.Group("/executions")
	e.Post("/:automationId", h.StartExecution)
	e.Get("/:automationId/status", h.GetExecutionStatus)
	e.Get("/:automationId/logs", h.GetExecutionLogs)
	e.Get("/:automationId/stream", h.StreamExecution)

	t := api.Group("/tools")
	t.Get("/", h.GetTools)
	t.Post("/", h.CreateTool)
	t.Post("/webhooks", h.CreateWebhookTool)
	t.Post("/webhooks/:id/rotate", h.RotateWebhookToken)

	api.Post("/webhooks/:toolId", h.TriggerWebhook)

	m := api.Group("/mcps")
	m.Post("/", h.ImportMCP)
	m.Get("/:id/tools", h.GetMCPTools)
	m.Post("/:id/refresh", h.RefreshMCPTools)
	m.Delete("/:id", h.DeleteMCP)
}
