// Package sandbox isolates an imported tool plugin (an MCP server) behind a
// small lifecycle: UNINITIALIZED → INITIALIZED → LOADED → DESTROYED.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateInitialized   State = "INITIALIZED"
	StateLoaded        State = "LOADED"
	StateDestroyed     State = "DESTROYED"
)

var (
	ErrInvalidState = errors.New("invalid sandbox state")
	ErrToolFailed   = errors.New("tool call failed")
)

// ExecutionResult is the structured outcome of a tool call. Failures are
// reported here rather than returned as errors.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Sandbox owns at most one loaded plugin and the tools extracted from it.
// Lifecycle calls take the write lock; tool calls share the read lock so they
// may run concurrently but never overlap a transition.
type Sandbox struct {
	id          string
	logger      *slog.Logger
	factory     TransportFactory
	callTimeout time.Duration

	mu        sync.RWMutex
	state     State
	env       map[string]string
	source    string
	transport Transport
	tools     map[string]*models.Tool
	order     []string
}

type Option func(*Sandbox)

// WithTransportFactory replaces the MCP transport factory.
func WithTransportFactory(factory TransportFactory) Option {
	return func(s *Sandbox) {
		s.factory = factory
	}
}

// WithCallTimeout bounds every tool call. Zero means no bound.
func WithCallTimeout(timeout time.Duration) Option {
	return func(s *Sandbox) {
		s.callTimeout = timeout
	}
}

func New(id string, logger *slog.Logger, opts ...Option) *Sandbox {
	s := &Sandbox{
		id:      id,
		logger:  logger.With("module", "sandbox", "sandbox_id", id),
		factory: NewMCPTransportFactory(DefaultClientName, DefaultClientVersion, 0),
		state:   StateUninitialized,
		tools:   map[string]*models.Tool{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Sandbox) ID() string {
	return s.id
}

func (s *Sandbox) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

func (s *Sandbox) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.source
}

// Initialize records the environment injected into the plugin.
func (s *Sandbox) Initialize(env map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return fmt.Errorf("%w: cannot initialize from %s", ErrInvalidState, s.state)
	}

	s.env = make(map[string]string, len(env))
	for k, v := range env {
		s.env[k] = v
	}

	s.state = StateInitialized
	s.logger.Debug("Sandbox initialized", "env_keys", len(s.env))

	return nil
}

// LoadMCP classifies source and opens the matching transport. On failure the
// sandbox stays INITIALIZED so the load can be retried.
func (s *Sandbox) LoadMCP(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitialized {
		return fmt.Errorf("%w: cannot load from %s", ErrInvalidState, s.state)
	}

	source = strings.TrimSpace(source)

	kind, err := ClassifySource(source)
	if err != nil {
		return err
	}

	transport, err := s.factory(ctx, kind, source, s.env)
	if err != nil {
		s.logger.Error("Failed to load plugin", "source", source, "kind", kind, "error", err)

		return fmt.Errorf("failed to load plugin %q: %w", source, err)
	}

	s.source = source
	s.transport = transport
	s.state = StateLoaded
	s.logger.Info("Plugin loaded", "source", source, "kind", kind)

	return nil
}

// ExtractTools refreshes and returns the tool catalogue. It returns an empty
// list when nothing is loaded.
func (s *Sandbox) ExtractTools(ctx context.Context) ([]*models.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLoaded || s.transport == nil {
		return []*models.Tool{}, nil
	}

	specs, err := s.transport.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	s.tools = make(map[string]*models.Tool, len(specs))
	s.order = make([]string, 0, len(specs))

	for _, spec := range specs {
		name := spec.Name
		s.tools[name] = models.NewTool(
			s.id+":"+name,
			name,
			spec.Description,
			spec.InputSchema,
			spec.OutputSchema,
			s.executorFor(name),
		)
		s.order = append(s.order, name)
	}

	s.logger.Debug("Tools extracted", "count", len(s.order))

	return s.catalogue(), nil
}

// Tools returns the last extracted catalogue without contacting the plugin.
func (s *Sandbox) Tools() []*models.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.catalogue()
}

func (s *Sandbox) catalogue() []*models.Tool {
	tools := make([]*models.Tool, 0, len(s.order))
	for _, name := range s.order {
		tools = append(tools, s.tools[name])
	}

	return tools
}

func (s *Sandbox) executorFor(name string) models.ToolExecutor {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		result := s.ExecuteTool(ctx, name, input)
		if !result.Success {
			return nil, fmt.Errorf("%w: %s", ErrToolFailed, result.Error)
		}

		if out, ok := result.Result.(map[string]any); ok {
			return out, nil
		}

		return map[string]any{"result": result.Result}, nil
	}
}

// ExecuteTool calls a named tool. It never returns an error; every failure is
// carried in the result.
func (s *Sandbox) ExecuteTool(ctx context.Context, name string, input map[string]any) ExecutionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.state {
	case StateDestroyed:
		return ExecutionResult{Success: false, Error: "sandbox is destroyed"}
	case StateLoaded:
	default:
		return ExecutionResult{Success: false, Error: "no plugin loaded in sandbox"}
	}

	if _, ok := s.tools[name]; !ok {
		return ExecutionResult{Success: false, Error: fmt.Sprintf("Tool '%s' not found in sandbox", name)}
	}

	if input == nil {
		input = map[string]any{}
	}

	if s.callTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	result, err := s.call(ctx, name, input)
	if err != nil {
		s.logger.Warn("Tool call failed", "tool", name, "error", err)

		return ExecutionResult{Success: false, Error: err.Error()}
	}

	return ExecutionResult{Success: true, Result: result}
}

func (s *Sandbox) call(ctx context.Context, name string, input map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panicked: %v", r)
		}
	}()

	return s.transport.CallTool(ctx, name, input)
}

// Destroy closes the transport and clears the catalogue. Calling it again is a no-op.
func (s *Sandbox) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDestroyed {
		return nil
	}

	var err error
	if s.transport != nil {
		err = s.transport.Close()
		s.transport = nil
	}

	s.tools = map[string]*models.Tool{}
	s.order = nil
	s.state = StateDestroyed
	s.logger.Info("Sandbox destroyed")

	if err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}

	return nil
}
