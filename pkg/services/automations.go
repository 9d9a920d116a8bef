package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Automations validates and stores automation graphs and keeps cron
// registrations in step with them.
type Automations struct {
	store     *persistence.Store
	validate  *validator.Validate
	scheduler *workflow.Scheduler
	cron      workflow.CronResolver
	logger    *slog.Logger
}

func NewAutomations(store *persistence.Store, logger *slog.Logger) *Automations {
	return &Automations{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "automations"),
	}
}

// WithScheduler registers the cron triggers of every stored automation.
func (a *Automations) WithScheduler(scheduler *workflow.Scheduler, resolve workflow.CronResolver) *Automations {
	a.scheduler = scheduler
	a.cron = resolve

	return a
}

// Create validates the graph and stores it IDLE. An empty id is generated.
func (a *Automations) Create(ctx context.Context, automation *models.Automation) (*models.Automation, error) {
	if automation == nil {
		return nil, fmt.Errorf("%w: automation is required", ErrInvalidRequest)
	}

	if automation.ID == "" {
		automation.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	automation.Status = models.AutomationStatusIdle
	automation.CreatedAt = now
	automation.UpdatedAt = now

	if automation.Nodes == nil {
		automation.Nodes = []*models.Node{}
	}

	if automation.Links == nil {
		automation.Links = []*models.Link{}
	}

	for _, node := range automation.Nodes {
		if node.Config == nil {
			node.Config = map[string]any{}
		}

		node.ResetOutputs()
	}

	if err := a.Validate(automation); err != nil {
		return nil, err
	}

	if err := a.store.Automations.Create(ctx, automation); err != nil {
		return nil, err
	}

	a.sync(ctx, automation)

	return automation, nil
}

// Validate checks field constraints, node id uniqueness and link endpoints.
func (a *Automations) Validate(automation *models.Automation) error {
	if err := a.validate.Struct(automation); err != nil {
		return NewValidationError("validate automation", "INVALID_AUTOMATION", err.Error(), ErrInvalidRequest)
	}

	nodes := make(map[string]struct{}, len(automation.Nodes))

	for _, node := range automation.Nodes {
		if _, dup := nodes[node.ID]; dup {
			return NewValidationError("validate automation", "DUPLICATE_NODE", "duplicate node id "+node.ID, ErrInvalidRequest)
		}

		nodes[node.ID] = struct{}{}
	}

	for _, link := range automation.Links {
		if _, ok := nodes[link.FromNodeID]; !ok {
			return NewValidationError("validate automation", "INVALID_LINK", "link source not found: "+link.FromNodeID, ErrInvalidRequest)
		}

		if _, ok := nodes[link.ToNodeID]; !ok {
			return NewValidationError("validate automation", "INVALID_LINK", "link target not found: "+link.ToNodeID, ErrInvalidRequest)
		}
	}

	return nil
}

func (a *Automations) Get(ctx context.Context, id string) (*models.Automation, error) {
	return a.store.Automations.FindByID(ctx, id)
}

func (a *Automations) List(ctx context.Context) ([]*models.Automation, error) {
	return a.store.Automations.FindAll(ctx)
}

func (a *Automations) Delete(ctx context.Context, id string) error {
	if err := a.store.Automations.Delete(ctx, id); err != nil {
		return err
	}

	if a.scheduler != nil {
		a.scheduler.Unregister(id)
	}

	return nil
}

// SyncSchedules registers the cron triggers of every stored automation.
func (a *Automations) SyncSchedules(ctx context.Context) error {
	automations, err := a.store.Automations.FindAll(ctx)
	if err != nil {
		return err
	}

	for _, automation := range automations {
		a.sync(ctx, automation)
	}

	return nil
}

func (a *Automations) sync(ctx context.Context, automation *models.Automation) {
	if a.scheduler == nil || a.cron == nil {
		return
	}

	if err := a.scheduler.SyncAutomation(ctx, automation, a.cron); err != nil {
		a.logger.WarnContext(ctx, "Failed to schedule cron triggers", "automation_id", automation.ID, "error", err)
	}
}

// Definitions is a bundle of entities loaded together, typically from a YAML file.
type Definitions struct {
	Tools          []*models.SystemTool    `json:"tools"`
	ConditionTools []*models.ConditionTool `json:"conditionTools"`
	Agents         []*models.Agent         `json:"agents"`
	Automations    []*models.Automation    `json:"automations"`
}

// ParseDefinitions reads YAML using the same field names as the JSON API.
func ParseDefinitions(r io.Reader) (*Definitions, error) {
	var raw map[string]any

	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return &Definitions{}, nil
		}

		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	definitions := &Definitions{}
	if err := json.Unmarshal(payload, definitions); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	return definitions, nil
}

// CreateTool stores a MANUAL, CRON or HTTP tool. Webhook and plugin tools
// have their own creation flows.
func (a *Automations) CreateTool(ctx context.Context, tool *models.SystemTool) (*models.SystemTool, error) {
	if tool == nil {
		return nil, fmt.Errorf("%w: tool is required", ErrInvalidRequest)
	}

	switch tool.Type {
	case models.ToolTypeManual, models.ToolTypeCron, models.ToolTypeHTTP:
	default:
		return nil, NewValidationError("create tool", "INVALID_TOOL", "unsupported tool type "+string(tool.Type), ErrUnsupportedToolType)
	}

	if tool.ID == "" {
		tool.ID = uuid.New().String()
	}

	if tool.Config == nil {
		tool.Config = map[string]any{}
	}

	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = time.Now().UTC()
	}

	if err := a.validate.Struct(tool); err != nil {
		return nil, NewValidationError("create tool", "INVALID_TOOL", err.Error(), ErrInvalidRequest)
	}

	if tool.Type == models.ToolTypeCron {
		if _, err := models.CronConfigFromMap(tool.Config); err != nil {
			return nil, NewValidationError("create tool", "INVALID_SCHEDULE", err.Error(), ErrInvalidToolConfig)
		}
	}

	if err := a.store.Tools.Create(ctx, tool); err != nil {
		return nil, err
	}

	return tool, nil
}

func (a *Automations) Tools(ctx context.Context) ([]*models.SystemTool, error) {
	return a.store.Tools.FindAll(ctx)
}

func (a *Automations) CreateConditionTool(ctx context.Context, tool *models.ConditionTool) (*models.ConditionTool, error) {
	if tool == nil {
		return nil, fmt.Errorf("%w: condition tool is required", ErrInvalidRequest)
	}

	if tool.ID == "" {
		tool.ID = uuid.New().String()
	}

	if err := a.validate.Struct(tool); err != nil {
		return nil, NewValidationError("create condition tool", "INVALID_CONDITION_TOOL", err.Error(), ErrInvalidRequest)
	}

	if err := a.store.ConditionTools.Create(ctx, tool); err != nil {
		return nil, err
	}

	return tool, nil
}

func (a *Automations) CreateAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	if agent == nil {
		return nil, fmt.Errorf("%w: agent is required", ErrInvalidRequest)
	}

	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}

	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	if err := a.validate.Struct(agent); err != nil {
		return nil, NewValidationError("create agent", "INVALID_AGENT", err.Error(), ErrInvalidRequest)
	}

	if err := a.store.Agents.Create(ctx, agent); err != nil {
		return nil, err
	}

	return agent, nil
}

// Load stores every definition. Tools and condition tools come first so
// automations can reference them.
func (a *Automations) Load(ctx context.Context, definitions *Definitions) error {
	for _, tool := range definitions.Tools {
		if _, err := a.CreateTool(ctx, tool); err != nil {
			return err
		}
	}

	for _, conditionTool := range definitions.ConditionTools {
		if _, err := a.CreateConditionTool(ctx, conditionTool); err != nil {
			return err
		}
	}

	for _, agent := range definitions.Agents {
		if _, err := a.CreateAgent(ctx, agent); err != nil {
			return err
		}
	}

	for _, automation := range definitions.Automations {
		if _, err := a.Create(ctx, automation); err != nil {
			return err
		}
	}

	a.logger.InfoContext(ctx, "Definitions loaded",
		"tools", len(definitions.Tools),
		"condition_tools", len(definitions.ConditionTools),
		"agents", len(definitions.Agents),
		"automations", len(definitions.Automations),
	)

	return nil
}
