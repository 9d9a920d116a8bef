package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/sandbox"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// plugin pairs a sandbox with the lock that serializes its lifecycle calls.
type plugin struct {
	mu      sync.Mutex
	sandbox *sandbox.Sandbox
}

// Plugins owns one sandbox per imported MCP server and mirrors each plugin
// tool as an MCP SystemTool.
type Plugins struct {
	store       *persistence.Store
	logger      *slog.Logger
	sandboxOpts []sandbox.Option

	mu      sync.RWMutex
	plugins map[string]*plugin
}

type PluginsOption func(*Plugins)

// WithSandboxOptions passes options to every sandbox the service creates.
func WithSandboxOptions(opts ...sandbox.Option) PluginsOption {
	return func(p *Plugins) {
		p.sandboxOpts = append(p.sandboxOpts, opts...)
	}
}

func NewPlugins(store *persistence.Store, logger *slog.Logger, opts ...PluginsOption) *Plugins {
	p := &Plugins{
		store:   store,
		logger:  logger.With("module", "plugins"),
		plugins: make(map[string]*plugin),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Import starts a sandbox for source and registers its tools. On a load
// failure the MCP record is kept with status ERROR and the error is returned.
func (p *Plugins) Import(ctx context.Context, name, source string, env map[string]string) (*models.MCP, error) {
	name = strings.TrimSpace(name)
	source = strings.TrimSpace(source)

	if name == "" || source == "" {
		return nil, fmt.Errorf("%w: name and source are required", ErrInvalidRequest)
	}

	if _, err := sandbox.ClassifySource(source); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	record := &models.MCP{
		ID:        uuid.New().String(),
		Name:      name,
		Source:    source,
		Env:       env,
		ToolIDs:   []string{},
		Status:    models.MCPStatusLoading,
		CreatedAt: time.Now().UTC(),
	}

	if err := p.store.MCPs.Create(ctx, record); err != nil {
		return nil, err
	}

	logger := p.logger.With("mcp_id", record.ID, "source", source)
	sb := sandbox.New(record.ID, p.logger, p.sandboxOpts...)

	tools, err := p.load(ctx, sb, source, env)
	if err != nil {
		return p.fail(ctx, logger, sb, record, nil, err)
	}

	record.ToolIDs, err = p.registerTools(ctx, record.ID, tools, nil)
	if err != nil {
		return p.fail(ctx, logger, sb, record, tools, err)
	}

	record.Status = models.MCPStatusReady

	if err := p.store.MCPs.Update(ctx, record); err != nil {
		return p.fail(ctx, logger, sb, record, tools, err)
	}

	p.mu.Lock()
	p.plugins[record.ID] = &plugin{sandbox: sb}
	p.mu.Unlock()

	logger.InfoContext(ctx, "Plugin imported", "tools", len(record.ToolIDs))

	return record, nil
}

// fail tears down a half-imported plugin: the sandbox is destroyed, any tools
// already registered for it are removed and the record is stored as ERROR.
func (p *Plugins) fail(
	ctx context.Context,
	logger *slog.Logger,
	sb *sandbox.Sandbox,
	record *models.MCP,
	tools []*models.Tool,
	err error,
) (*models.MCP, error) {
	logger.ErrorContext(ctx, "Plugin import failed", "error", err)

	if destroyErr := sb.Destroy(); destroyErr != nil {
		logger.WarnContext(ctx, "Failed to destroy sandbox", "error", destroyErr)
	}

	for _, tool := range tools {
		if deleteErr := p.store.Tools.Delete(ctx, tool.ID); deleteErr != nil && !persistence.IsToolNotFound(deleteErr) {
			logger.WarnContext(ctx, "Failed to deregister tool", "tool_id", tool.ID, "error", deleteErr)
		}
	}

	record.ToolIDs = []string{}
	record.Status = models.MCPStatusError
	record.Error = err.Error()

	if updateErr := p.store.MCPs.Update(ctx, record); updateErr != nil {
		logger.ErrorContext(ctx, "Failed to record plugin failure", "error", updateErr)
	}

	return record, err
}

func (p *Plugins) load(ctx context.Context, sb *sandbox.Sandbox, source string, env map[string]string) ([]*models.Tool, error) {
	if err := sb.Initialize(env); err != nil {
		return nil, err
	}

	if err := sb.LoadMCP(ctx, source); err != nil {
		return nil, err
	}

	return sb.ExtractTools(ctx)
}

// registerTools upserts one MCP SystemTool per plugin tool and deletes the
// previous ones that disappeared. It returns the new tool ids.
func (p *Plugins) registerTools(ctx context.Context, mcpID string, tools []*models.Tool, previous []string) ([]string, error) {
	ids := make([]string, 0, len(tools))
	current := make(map[string]struct{}, len(tools))

	for _, tool := range tools {
		systemTool := &models.SystemTool{
			ID:           tool.ID,
			Name:         tool.Name,
			Description:  tool.Description,
			Type:         models.ToolTypeMCP,
			Config:       map[string]any{"toolName": tool.Name},
			InputSchema:  tool.InputSchema,
			OutputSchema: tool.OutputSchema,
			MCPID:        mcpID,
			CreatedAt:    time.Now().UTC(),
		}

		err := p.store.Tools.Create(ctx, systemTool)
		if persistence.IsAlreadyExists(err) {
			err = p.store.Tools.Update(ctx, systemTool)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to register tool %s: %w", tool.ID, err)
		}

		ids = append(ids, tool.ID)
		current[tool.ID] = struct{}{}
	}

	for _, id := range previous {
		if _, ok := current[id]; ok {
			continue
		}

		if err := p.store.Tools.Delete(ctx, id); err != nil && !persistence.IsToolNotFound(err) {
			return nil, fmt.Errorf("failed to deregister tool %s: %w", id, err)
		}
	}

	return ids, nil
}

func (p *Plugins) plugin(id string) (*plugin, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.plugins[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginMissing, id)
	}

	return entry, nil
}

// Tools returns the cached catalogue of a plugin.
func (p *Plugins) Tools(ctx context.Context, id string) ([]*models.Tool, error) {
	if _, err := p.store.MCPs.FindByID(ctx, id); err != nil {
		return nil, err
	}

	entry, err := p.plugin(id)
	if err != nil {
		return nil, err
	}

	return entry.sandbox.Tools(), nil
}

// RefreshTools re-reads the plugin catalogue and resyncs the SystemTools.
func (p *Plugins) RefreshTools(ctx context.Context, id string) ([]*models.Tool, error) {
	record, err := p.store.MCPs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	entry, err := p.plugin(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	tools, err := entry.sandbox.ExtractTools(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := p.registerTools(ctx, id, tools, record.ToolIDs)
	if err != nil {
		return nil, err
	}

	record.ToolIDs = ids

	if err := p.store.MCPs.Update(ctx, record); err != nil {
		return nil, err
	}

	return tools, nil
}

// Execute calls an MCP SystemTool through the sandbox that owns it.
func (p *Plugins) Execute(ctx context.Context, toolID string, input map[string]any) (map[string]any, error) {
	systemTool, err := p.store.Tools.FindByID(ctx, toolID)
	if err != nil {
		return nil, err
	}

	if systemTool.Type != models.ToolTypeMCP || systemTool.MCPID == "" {
		return nil, fmt.Errorf("%w: tool %s is not a plugin tool", ErrUnsupportedToolType, toolID)
	}

	entry, err := p.plugin(systemTool.MCPID)
	if err != nil {
		return nil, err
	}

	for _, tool := range entry.sandbox.Tools() {
		if tool.ID == toolID {
			return tool.Execute(ctx, input)
		}
	}

	name, _ := systemTool.Config["toolName"].(string)
	result := entry.sandbox.ExecuteTool(ctx, name, input)

	return nil, fmt.Errorf("%w: %s", sandbox.ErrToolFailed, result.Error)
}

// Remove destroys the plugin sandbox and deletes its tools and record.
func (p *Plugins) Remove(ctx context.Context, id string) error {
	record, err := p.store.MCPs.FindByID(ctx, id)
	if err != nil {
		return err
	}

	p.mu.Lock()
	entry, ok := p.plugins[id]
	delete(p.plugins, id)
	p.mu.Unlock()

	var destroyErr error

	if ok {
		entry.mu.Lock()
		destroyErr = entry.sandbox.Destroy()
		entry.mu.Unlock()
	}

	for _, toolID := range record.ToolIDs {
		if err := p.store.Tools.Delete(ctx, toolID); err != nil && !persistence.IsToolNotFound(err) {
			p.logger.WarnContext(ctx, "Failed to delete plugin tool", "mcp_id", id, "tool_id", toolID, "error", err)
		}
	}

	if err := p.store.MCPs.Delete(ctx, id); err != nil {
		return errors.Join(destroyErr, err)
	}

	p.logger.InfoContext(ctx, "Plugin removed", "mcp_id", id)

	return destroyErr
}

// Close destroys every sandbox concurrently.
func (p *Plugins) Close(ctx context.Context) error {
	p.mu.Lock()
	plugins := p.plugins
	p.plugins = make(map[string]*plugin)
	p.mu.Unlock()

	group, _ := errgroup.WithContext(ctx)

	for id, entry := range plugins {
		group.Go(func() error {
			entry.mu.Lock()
			defer entry.mu.Unlock()

			if err := entry.sandbox.Destroy(); err != nil {
				return fmt.Errorf("failed to destroy plugin %s: %w", id, err)
			}

			return nil
		})
	}

	return group.Wait()
}
