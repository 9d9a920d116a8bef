package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/template"
	"github.com/dukex/autoflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

// ErrHTTPTool is returned when an HTTP tool endpoint answers with an error status.
var ErrHTTPTool = errors.New("http tool request failed")

// PluginExecutor runs tools hosted by an imported plugin.
type PluginExecutor interface {
	Execute(ctx context.Context, toolID string, input map[string]any) (map[string]any, error)
}

// Dispatcher resolves the SystemTool, Agent or ConditionTool a node references
// and runs it. It is the executor's NodeInvoker and ConditionResolver.
type Dispatcher struct {
	store    *persistence.Store
	plugins  PluginExecutor
	agents   AgentRunner
	client   *http.Client
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

var (
	_ workflow.NodeInvoker       = (*Dispatcher)(nil)
	_ workflow.ConditionResolver = (*Dispatcher)(nil)
)

type DispatcherOption func(*Dispatcher)

func WithPlugins(plugins PluginExecutor) DispatcherOption {
	return func(d *Dispatcher) {
		d.plugins = plugins
	}
}

func WithAgentRunner(runner AgentRunner) DispatcherOption {
	return func(d *Dispatcher) {
		d.agents = runner
	}
}

// WithHTTPClient sets the client used by HTTP tools.
func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		d.client = client
	}
}

func withClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func NewDispatcher(store *persistence.Store, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		client:   http.DefaultClient,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "tool_dispatcher"),
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// ConditionTool loads a condition tool by id.
func (d *Dispatcher) ConditionTool(ctx context.Context, id string) (*models.ConditionTool, error) {
	return d.store.ConditionTools.FindByID(ctx, id)
}

func (d *Dispatcher) Invoke(ctx context.Context, call workflow.Invocation) (map[string]any, error) {
	switch call.Node.Type {
	case models.NodeTypeAgent:
		return d.invokeAgent(ctx, call)
	case models.NodeTypeTrigger, models.NodeTypeTool:
		return d.invokeTool(ctx, call)
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidNodeType, call.Node.Type)
	}
}

func (d *Dispatcher) invokeAgent(ctx context.Context, call workflow.Invocation) (map[string]any, error) {
	if d.agents == nil {
		return nil, ErrNoAgentRunner
	}

	agent, err := d.store.Agents.FindByID(ctx, call.Node.ReferenceID)
	if err != nil {
		return nil, err
	}

	return d.agents.Run(ctx, agent, call.Input)
}

func (d *Dispatcher) invokeTool(ctx context.Context, call workflow.Invocation) (map[string]any, error) {
	tool, err := d.store.Tools.FindByID(ctx, call.Node.ReferenceID)
	if err != nil {
		return nil, err
	}

	config, err := effectiveConfig(tool.Config, call.Node.Config)
	if err != nil {
		return nil, err
	}

	input := call.Input
	if input == nil {
		input = map[string]any{}
	}

	d.logger.DebugContext(ctx, "Invoking tool",
		"automation_id", call.Automation.ID,
		"node_id", call.Node.ID,
		"tool_id", tool.ID,
		"tool_type", tool.Type,
	)

	switch tool.Type {
	case models.ToolTypeManual:
		return d.runManual(tool, config, input)
	case models.ToolTypeCron:
		return d.runCron(tool, config, input)
	case models.ToolTypeWebhook:
		return d.runWebhook(tool, input)
	case models.ToolTypeHTTP:
		return d.runHTTP(ctx, tool, config, input)
	case models.ToolTypeMCP:
		if d.plugins == nil {
			return nil, ErrPluginMissing
		}

		if err := validateInput(tool.InputSchema, input); err != nil {
			return nil, err
		}

		return d.plugins.Execute(ctx, tool.ID, input)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedToolType, tool.Type)
	}
}

// effectiveConfig overlays the node config on a copy of the tool config.
func effectiveConfig(toolConfig, nodeConfig map[string]any) (map[string]any, error) {
	config := cloneMap(toolConfig)
	if config == nil {
		config = map[string]any{}
	}

	if len(nodeConfig) == 0 {
		return config, nil
	}

	if err := mergo.Merge(&config, cloneMap(nodeConfig), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToolConfig, err)
	}

	return config, nil
}

// triggerInput layers the runtime input over the configured default inputs.
func triggerInput(defaults, input map[string]any) map[string]any {
	merged := cloneMap(defaults)
	if merged == nil {
		merged = map[string]any{}
	}

	for key, value := range input {
		merged[key] = value
	}

	return merged
}

func (d *Dispatcher) runManual(tool *models.SystemTool, config, input map[string]any) (map[string]any, error) {
	manual, err := models.ManualConfigFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToolConfig, err)
	}

	merged := triggerInput(manual.Inputs, input)
	if err := validateInput(tool.InputSchema, merged); err != nil {
		return nil, err
	}

	return map[string]any{
		"status":     "executed",
		"executedAt": d.now().Format(time.RFC3339),
		"input":      merged,
	}, nil
}

func (d *Dispatcher) runCron(tool *models.SystemTool, config, input map[string]any) (map[string]any, error) {
	cron, err := models.CronConfigFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToolConfig, err)
	}

	merged := triggerInput(cron.Inputs, input)
	if err := validateInput(tool.InputSchema, merged); err != nil {
		return nil, err
	}

	return map[string]any{
		"status":     "executed",
		"executedAt": d.now().Format(time.RFC3339),
		"schedule":   cron.Schedule,
		"input":      merged,
	}, nil
}

func (d *Dispatcher) runWebhook(tool *models.SystemTool, input map[string]any) (map[string]any, error) {
	if err := validateInput(tool.InputSchema, input); err != nil {
		return nil, err
	}

	return map[string]any{
		"status":     "executed",
		"executedAt": d.now().Format(time.RFC3339),
		"input":      input,
	}, nil
}

// runHTTP sends the input as a JSON body. A JSON object response becomes the
// node outputs; anything else is returned under "body".
func (d *Dispatcher) runHTTP(ctx context.Context, tool *models.SystemTool, config, input map[string]any) (map[string]any, error) {
	httpConfig, err := models.HTTPConfigFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToolConfig, err)
	}

	httpConfig.Method = strings.ToUpper(httpConfig.Method)

	if err := validateInput(tool.InputSchema, input); err != nil {
		return nil, err
	}

	data := map[string]any{
		"input": input,
		"tool":  map[string]any{"id": tool.ID, "name": tool.Name},
	}

	if err := renderHTTPConfig(httpConfig, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToolConfig, err)
	}

	if err := d.validate.Struct(httpConfig); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToolConfig, err)
	}

	if httpConfig.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, httpConfig.Timeout)
		defer cancel()
	}

	var reqBody io.Reader

	if httpConfig.Method != http.MethodGet {
		var body any = input

		if httpConfig.Body != "" {
			if body, err = template.Render(httpConfig.Body, data); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidToolConfig, err)
			}
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal input: %w", err)
		}

		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, httpConfig.Method, httpConfig.URL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range httpConfig.Headers {
		req.Header.Set(key, value)
	}

	if reqBody != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHTTPTool, err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.DebugContext(ctx, "failed to close response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrHTTPTool, resp.StatusCode, string(respBody))
	}

	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return map[string]any{"statusCode": resp.StatusCode, "body": string(respBody)}, nil
	}

	if object, ok := decoded.(map[string]any); ok {
		return object, nil
	}

	return map[string]any{"statusCode": resp.StatusCode, "body": decoded}, nil
}

// renderHTTPConfig expands templates in the URL and header values.
func renderHTTPConfig(config *models.HTTPConfig, data map[string]any) error {
	url, err := template.RenderString(config.URL, data)
	if err != nil {
		return err
	}

	config.URL = url

	for key, value := range config.Headers {
		rendered, err := template.RenderString(value, data)
		if err != nil {
			return err
		}

		config.Headers[key] = rendered
	}

	return nil
}

// CronResolver returns the workflow.CronResolver backed by the tool repository.
func (d *Dispatcher) CronResolver() workflow.CronResolver {
	return func(ctx context.Context, node *models.Node) (*models.CronConfig, bool) {
		tool, err := d.store.Tools.FindByID(ctx, node.ReferenceID)
		if err != nil || tool.Type != models.ToolTypeCron {
			return nil, false
		}

		config, err := effectiveConfig(tool.Config, node.Config)
		if err != nil {
			return nil, false
		}

		cron, err := models.CronConfigFromMap(config)
		if err != nil {
			d.logger.WarnContext(ctx, "Skipping invalid cron trigger", "node_id", node.ID, "tool_id", tool.ID, "error", err)

			return nil, false
		}

		return cron, true
	}
}
