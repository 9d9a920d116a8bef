package web

import (
	"errors"

	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

// handleServiceError maps service and persistence errors onto problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsUnauthorizedError(err):
		problem := problems.NewStatusProblem(401).
			WithInstance(c.Path()).
			WithType("unauthorized").
			WithDetail("invalid or missing bearer token")

		c.Set(fiber.HeaderWWWAuthenticate, "Bearer")

		return c.Status(fiber.StatusUnauthorized).JSON(problem)

	case services.IsRateLimitedError(err):
		problem := problems.NewStatusProblem(429).
			WithInstance(c.Path()).
			WithType("rate_limited").
			WithDetail(err.Error())

		return c.Status(fiber.StatusTooManyRequests).JSON(problem)

	case services.IsConflictError(err), errors.Is(err, services.ErrPluginMissing):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case persistence.IsAutomationNotFound(err):
		return notFound(c, "automation_not_found", "automation not found")

	case persistence.IsToolNotFound(err):
		return notFound(c, "tool_not_found", "tool not found")

	case persistence.IsMCPNotFound(err):
		return notFound(c, "mcp_not_found", "mcp not found")

	case persistence.IsNotFound(err):
		return notFound(c, "not_found", err.Error())

	case errors.Is(err, services.ErrShuttingDown):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("shutting_down").
			WithDetail(err.Error())

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
