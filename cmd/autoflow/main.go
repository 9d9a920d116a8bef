package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 15 * time.Second
)

func main() {
	cmd := &cli.Command{
		Name:                  "autoflow",
		Usage:                 "Run automation graphs of triggers, tools, agents and conditions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "Public base URL used to build webhook URLs",
				Value:   "http://localhost:" + strconv.Itoa(defaultPort),
				Sources: cli.EnvVars("BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-store-url",
				Usage:   "Execution log store (memory://, postgres://..., redis://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("LOG_STORE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (none, gochannel, kafka)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.BoolFlag{
				Name:    "log-events",
				Usage:   "Log automation outcomes consumed back from the event bus",
				Sources: cli.EnvVars("LOG_EVENTS"),
			},
			&cli.IntFlag{
				Name:    "max-concurrency",
				Usage:   "Maximum nodes executed in parallel per run",
				Value:   workflow.DefaultMaxConcurrency,
				Sources: cli.EnvVars("MAX_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "node-timeout",
				Usage:   "Timeout of a single node invocation, 0 disables it",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("NODE_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "plugin-timeout",
				Usage:   "Timeout of plugin start-up and tool calls",
				Value:   60 * time.Second,
				Sources: cli.EnvVars("PLUGIN_TIMEOUT"),
			},
			&cli.FloatFlag{
				Name:    "webhook-rate",
				Usage:   "Accepted webhook calls per second per tool, 0 disables limiting",
				Value:   10,
				Sources: cli.EnvVars("WEBHOOK_RATE"),
			},
			&cli.IntFlag{
				Name:    "webhook-burst",
				Usage:   "Webhook calls accepted in a burst per tool",
				Value:   20,
				Sources: cli.EnvVars("WEBHOOK_BURST"),
			},
			&cli.StringFlag{
				Name:    "automations-file",
				Usage:   "YAML file with tools, condition tools, agents and automations to load at start-up",
				Sources: cli.EnvVars("AUTOMATIONS_FILE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces with OTLP over HTTP (configured by OTEL_EXPORTER_OTLP_* env)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.WithModule("autoflow").Error("Autoflow stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("autoflow")
	logger.InfoContext(ctx, "Initializing Autoflow")

	server, err := NewServer(ctx, logger, Config{
		BaseURL:         command.String("base-url"),
		LogStoreURL:     command.String("log-store-url"),
		EventBus:        command.String("event-bus"),
		MaxConcurrency:  command.Int("max-concurrency"),
		NodeTimeout:     command.Duration("node-timeout"),
		PluginTimeout:   command.Duration("plugin-timeout"),
		WebhookRate:     command.Float("webhook-rate"),
		WebhookBurst:    command.Int("webhook-burst"),
		AutomationsFile: command.String("automations-file"),
		Tracing:         command.Bool("tracing"),
		LogEvents:       command.Bool("log-events"),
	})
	if err != nil {
		return err
	}

	if err := server.Start(ctx); err != nil {
		_ = server.Close(context.Background())

		return err
	}

	app := NewAPI(logger, server).App()

	listenErr := make(chan error, 1)

	go func() {
		listenErr <- app.Listen(":"+strconv.Itoa(command.Int("port")), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	}()

	logger.InfoContext(ctx, "Autoflow API listening", "port", command.Int("port"))

	select {
	case err = <-listenErr:
		logger.ErrorContext(ctx, "API server stopped", "error", err)
	case <-ctx.Done():
		logger.InfoContext(ctx, "Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// Closing the server first cancels runs and ends open event streams.
	closeErr := server.Close(shutdownCtx)

	if shutdownErr := app.ShutdownWithContext(shutdownCtx); shutdownErr != nil {
		closeErr = errors.Join(closeErr, shutdownErr)
	}

	return errors.Join(err, closeErr)
}
