package main

import (
	"log/slog"

	"github.com/dukex/autoflow/pkg/web"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

type API struct {
	logger   *slog.Logger
	server   *Server
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, server *Server) *API {
	return &API{
		logger:   logger,
		server:   server,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.server.automations,
		a.server.execution,
		a.server.webhooks,
		a.server.plugins,
		a.server.logs,
		a.validate,
		a.logger,
	)

	app := fiber.New(fiber.Config{
		AppName:     "autoflow",
		Immutable:   true,
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: handlers.Ready,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Autoflow API")
	})

	app.Get("/health", handlers.HealthCheck)

	web.RegisterRoutes(app, handlers)

	return app
}
