package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pkgcmd "github.com/dukex/autoflow/pkg/cmd"
	"github.com/dukex/autoflow/pkg/condition"
	"github.com/dukex/autoflow/pkg/config"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/dukex/autoflow/pkg/sandbox"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/dukex/autoflow/pkg/workflow"
)

// Config is the runtime configuration assembled from flags.
type Config struct {
	BaseURL         string
	LogStoreURL     string
	EventBus        string
	MaxConcurrency  int
	NodeTimeout     time.Duration
	PluginTimeout   time.Duration
	WebhookRate     float64
	WebhookBurst    int
	AutomationsFile string
	Tracing         bool
	LogEvents       bool
}

// Server owns every long-lived component of the engine.
type Server struct {
	logger *slog.Logger

	store       *persistence.Store
	logs        persistence.ExecutionLogRepository
	eventBus    eventbus.EventBus
	tracer      *otelhelper.Provider
	plugins     *services.Plugins
	execution   *services.Execution
	scheduler   *workflow.Scheduler
	automations *services.Automations
	webhooks    *services.Webhooks
}

func NewServer(ctx context.Context, logger *slog.Logger, cfg Config) (*Server, error) {
	s := &Server{
		logger: logger,
		store:  memory.NewStore(),
	}

	logs, err := pkgcmd.NewLogStore(ctx, logger, cfg.LogStoreURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	s.logs = logs

	s.eventBus, err = pkgcmd.NewEventBus(cfg.EventBus, logger)
	if err != nil {
		_ = logs.Close(ctx)

		return nil, err
	}

	executorOpts := []workflow.ExecutorOption{
		workflow.WithMaxConcurrency(cfg.MaxConcurrency),
		workflow.WithNodeTimeout(cfg.NodeTimeout),
	}

	if cfg.Tracing {
		tracer, provider, err := otelhelper.NewTracer(ctx, "autoflow")
		if err != nil {
			_ = s.Close(ctx)

			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		s.tracer = provider
		executorOpts = append(executorOpts, workflow.WithTracer(tracer))
	}

	s.plugins = services.NewPlugins(s.store, logger, services.WithSandboxOptions(
		sandbox.WithTransportFactory(sandbox.NewMCPTransportFactory(sandbox.DefaultClientName, sandbox.DefaultClientVersion, cfg.PluginTimeout)),
		sandbox.WithCallTimeout(cfg.PluginTimeout),
	))

	dispatcher := services.NewDispatcher(s.store, logger,
		services.WithPlugins(s.plugins),
		services.WithAgentRunner(services.NewHTTPAgentRunner(nil, logger)),
	)

	executor := workflow.NewExecutor(dispatcher, dispatcher, condition.NewEngine(logger), logger, executorOpts...)

	var executionOpts []services.ExecutionOption
	if s.eventBus != nil {
		executionOpts = append(executionOpts, services.WithEventPublisher(s.eventBus))
	}

	s.execution = services.NewExecution(s.store.Automations, s.logs, executor, logger, executionOpts...)

	s.scheduler = workflow.NewScheduler(func(ctx context.Context, automationID, triggerNodeID string, input map[string]any) error {
		_, err := s.execution.StartExecution(ctx, automationID, input, services.WithTriggerNode(triggerNodeID))

		return err
	}, logger)

	s.automations = services.NewAutomations(s.store, logger).WithScheduler(s.scheduler, dispatcher.CronResolver())
	s.webhooks = services.NewWebhooks(s.store, s.execution, services.WebhookConfig{
		BaseURL:       cfg.BaseURL,
		RatePerSecond: cfg.WebhookRate,
		Burst:         cfg.WebhookBurst,
	}, logger)

	if cfg.AutomationsFile != "" {
		if err := s.loadDefinitions(ctx, cfg.AutomationsFile); err != nil {
			_ = s.Close(ctx)

			return nil, err
		}
	}

	if cfg.LogEvents && s.eventBus != nil {
		if err := s.subscribeEventLog(ctx); err != nil {
			_ = s.Close(ctx)

			return nil, err
		}
	}

	return s, nil
}

func (s *Server) loadDefinitions(ctx context.Context, path string) error {
	definitions, err := config.LoadDefinitions(path)
	if err != nil {
		return err
	}

	return s.automations.Load(ctx, definitions)
}

// subscribeEventLog logs run outcomes received back from the event bus.
func (s *Server) subscribeEventLog(ctx context.Context) error {
	logger := s.logger.With("module", "event_log")

	handler := func(ctx context.Context, event any) error {
		switch e := event.(type) {
		case *events.AutomationExecutionCompleted:
			logger.InfoContext(ctx, "Automation completed", "automation_id", e.AutomationID, "duration", e.Duration)
		case *events.AutomationExecutionFailed:
			logger.WarnContext(ctx, "Automation failed", "automation_id", e.AutomationID, "errors", len(e.Errors), "error", e.Error)
		}

		return nil
	}

	for _, eventType := range []events.EventType{events.AutomationExecutionCompletedEvent, events.AutomationExecutionFailedEvent} {
		if err := s.eventBus.Handle(eventType, handler); err != nil {
			return fmt.Errorf("failed to register event handler: %w", err)
		}
	}

	return s.eventBus.Subscribe(ctx)
}

// Start syncs cron triggers of the loaded automations and starts the scheduler.
func (s *Server) Start(ctx context.Context) error {
	if err := s.automations.SyncSchedules(ctx); err != nil {
		return err
	}

	s.scheduler.Start()

	return nil
}

// Close stops scheduling, cancels runs and releases every resource.
func (s *Server) Close(ctx context.Context) error {
	var errs []error

	if s.scheduler != nil {
		s.scheduler.Stop(ctx)
	}

	if s.execution != nil {
		if err := s.execution.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("execution shutdown: %w", err))
		}
	}

	if s.plugins != nil {
		if err := s.plugins.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event bus: %w", err))
		}
	}

	if err := s.logs.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("log store: %w", err))
	}

	if err := s.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer: %w", err))
	}

	return errors.Join(errs...)
}
