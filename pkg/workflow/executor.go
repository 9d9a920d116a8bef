package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/condition"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxConcurrency = 8

var (
	ErrNilAutomation       = errors.New("automation is nil")
	ErrNoTrigger           = errors.New("automation has no trigger node")
	ErrTriggerNotFound     = errors.New("trigger node not found")
	ErrNoConditionResolver = errors.New("no condition resolver configured")
)

type Executor struct {
	invoker    NodeInvoker
	conditions ConditionResolver
	engine     *condition.Engine
	logger     *slog.Logger
	tracer     trace.Tracer

	maxConcurrency int
	nodeTimeout    time.Duration
}

type ExecutorOption func(*Executor)

// WithMaxConcurrency bounds how many ready nodes run at once.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithNodeTimeout bounds every node invocation. Zero means unbounded.
func WithNodeTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.nodeTimeout = timeout
	}
}

func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func NewExecutor(
	invoker NodeInvoker,
	conditions ConditionResolver,
	engine *condition.Engine,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		invoker:        invoker,
		conditions:     conditions,
		engine:         engine,
		logger:         logger.With("module", "workflow_executor"),
		tracer:         otel.Tracer("github.com/dukex/autoflow/pkg/workflow"),
		maxConcurrency: DefaultMaxConcurrency,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

type executeConfig struct {
	triggerID string
	observer  Observer
}

type ExecuteOption func(*executeConfig)

// WithTrigger designates the entry point. The default is the first trigger in node order.
func WithTrigger(nodeID string) ExecuteOption {
	return func(c *executeConfig) {
		c.triggerID = nodeID
	}
}

func WithObserver(observer Observer) ExecuteOption {
	return func(c *executeConfig) {
		c.observer = observer
	}
}

type nodeOutcome struct {
	node    *models.Node
	outputs map[string]any
	winners []string
	err     error
}

// Execute runs the automation once from its trigger. Per-node failures are
// recorded in the result; the returned error covers only problems that stop
// the run as a whole (no trigger, cancellation).
func (e *Executor) Execute(
	ctx context.Context,
	automation *models.Automation,
	triggerInput map[string]any,
	opts ...ExecuteOption,
) (*models.ExecutionResult, error) {
	result := models.NewExecutionResult()

	if automation == nil {
		return result, ErrNilAutomation
	}

	cfg := &executeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	trigger, err := selectTrigger(automation, cfg.triggerID)
	if err != nil {
		return result, err
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.AutomationIDKey, automation.ID),
		attribute.String(otelhelper.AutomationNameKey, automation.Name),
		attribute.String(otelhelper.TriggerIDKey, trigger.ID),
	)
	defer span.End()

	logger := e.logger.With("automation_id", automation.ID, "trigger_id", trigger.ID)
	logger.Info("Starting automation execution", "nodes", len(automation.Nodes))

	for _, node := range automation.Nodes {
		node.ResetOutputs()
	}

	if triggerInput == nil {
		triggerInput = map[string]any{}
	}

	pool, err := ants.NewPool(e.maxConcurrency)
	if err != nil {
		otelhelper.SetError(span, err)

		return result, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	p := newPlan(ctx, automation, trigger, e.conditions)

	outcomes := e.runWave(ctx, pool, p, []*models.Node{trigger},
		map[string]map[string]any{trigger.ID: triggerInput}, cfg.observer)
	e.settle(p, outcomes, result)

	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("Automation execution cancelled", "error", err)
			otelhelper.SetError(span, err)

			return result, fmt.Errorf("execution cancelled: %w", err)
		}

		ready := e.collectReady(p)
		if len(ready) == 0 {
			break
		}

		inputs := make(map[string]map[string]any, len(ready))
		for _, node := range ready {
			inputs[node.ID] = p.inputFor(node.ID)
		}

		outcomes := e.runWave(ctx, pool, p, ready, inputs, cfg.observer)
		e.settle(p, outcomes, result)
	}

	for _, node := range p.pending() {
		p.state[node.ID] = stateFailed
		result.Errors[node.ID] = fmt.Sprintf("cycle detected involving node %s", node.ID)
		logger.Warn("Node left unsettled", "node_id", node.ID)
	}

	span.SetAttributes(
		attribute.Int("autoflow.executed_nodes", len(result.ExecutedNodes)),
		attribute.Int("autoflow.failed_nodes", len(result.Errors)),
	)

	logger.Info("Automation execution finished",
		"executed", len(result.ExecutedNodes),
		"failed", len(result.Errors))

	return result, nil
}

func selectTrigger(automation *models.Automation, triggerID string) (*models.Node, error) {
	if triggerID != "" {
		node := automation.NodeByID(triggerID)
		if node == nil || node.Type != models.NodeTypeTrigger {
			return nil, fmt.Errorf("%w: %s", ErrTriggerNotFound, triggerID)
		}

		return node, nil
	}

	triggers := automation.TriggerNodes()
	if len(triggers) == 0 {
		return nil, ErrNoTrigger
	}

	return triggers[0], nil
}

// collectReady prunes starved nodes until nothing changes and returns the
// nodes whose dependencies are all settled with at least one active edge.
func (e *Executor) collectReady(p *plan) []*models.Node {
	for {
		var (
			ready   []*models.Node
			changed bool
		)

		for _, node := range p.pending() {
			isReady, pruned := p.classify(node.ID)

			switch {
			case pruned:
				p.state[node.ID] = statePruned
				changed = true
			case isReady:
				ready = append(ready, node)
			}
		}

		if !changed {
			return ready
		}
	}
}

func (e *Executor) settle(p *plan, outcomes []nodeOutcome, result *models.ExecutionResult) {
	for _, outcome := range outcomes {
		id := outcome.node.ID

		if outcome.err != nil {
			p.state[id] = stateFailed
			result.Errors[id] = outcome.err.Error()

			continue
		}

		outcome.node.SetOutputs(outcome.outputs)
		p.state[id] = stateExecuted
		result.ExecutedNodes[id] = outcome.node.Outputs

		if p.conditionNodes[id] {
			p.winners[id] = outcome.winners
		}
	}
}

// runWave executes independent ready nodes concurrently on the pool and
// returns their outcomes in the order given.
func (e *Executor) runWave(
	ctx context.Context,
	pool *ants.Pool,
	p *plan,
	nodes []*models.Node,
	inputs map[string]map[string]any,
	observer Observer,
) []nodeOutcome {
	outcomes := make([]nodeOutcome, len(nodes))

	var wg sync.WaitGroup

	for i, node := range nodes {
		wg.Add(1)

		err := pool.Submit(func() {
			defer wg.Done()

			outcomes[i] = e.runNode(ctx, p, node, inputs[node.ID], observer)
		})
		if err != nil {
			wg.Done()

			outcomes[i] = nodeOutcome{node: node, err: fmt.Errorf("failed to schedule node: %w", err)}
		}
	}

	wg.Wait()

	return outcomes
}

func (e *Executor) runNode(
	ctx context.Context,
	p *plan,
	node *models.Node,
	input map[string]any,
	observer Observer,
) (outcome nodeOutcome) {
	outcome.node = node

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node",
		attribute.String(otelhelper.AutomationIDKey, p.automation.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
		attribute.String(otelhelper.ReferenceIDKey, node.ReferenceID),
	)
	defer span.End()

	notifyStarted(ctx, e.logger, observer, p.automation, node, input)

	defer func() {
		if r := recover(); r != nil {
			outcome.outputs = nil
			outcome.err = fmt.Errorf("node %s panicked: %v", node.ID, r)
		}

		if outcome.err != nil {
			otelhelper.SetError(span, outcome.err)
			e.logger.Warn("Node failed",
				"automation_id", p.automation.ID,
				"node_id", node.ID,
				"error", outcome.err)
		}

		notifyFinished(ctx, e.logger, observer, p.automation, node, outcome.outputs, outcome.err)
	}()

	callCtx := ctx
	if e.nodeTimeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, e.nodeTimeout)
		defer cancel()
	}

	switch node.Type {
	case models.NodeTypeTrigger, models.NodeTypeTool, models.NodeTypeAgent:
		outcome.outputs, outcome.err = e.invoker.Invoke(callCtx, Invocation{
			Automation: p.automation,
			Node:       node,
			Input:      input,
		})
	case models.NodeTypeCondition:
		outcome.outputs, outcome.winners, outcome.err = e.evaluateCondition(p, node, input)
	default:
		outcome.err = fmt.Errorf("%w: %q", models.ErrInvalidNodeType, node.Type)
	}

	if outcome.err == nil && outcome.outputs == nil {
		outcome.outputs = map[string]any{}
	}

	return outcome
}

func (e *Executor) evaluateCondition(p *plan, node *models.Node, input map[string]any) (map[string]any, []string, error) {
	if err := p.conditionErrs[node.ID]; err != nil {
		return nil, nil, fmt.Errorf("failed to load condition tool %s: %w", node.ReferenceID, err)
	}

	tool := p.conditions[node.ID]
	result := e.engine.Evaluate(tool.Conditions, input)

	return result.Outputs(), result.LinkedNodes, nil
}

func notifyStarted(ctx context.Context, logger *slog.Logger, observer Observer, a *models.Automation, n *models.Node, input map[string]any) {
	if observer == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Observer panicked", "node_id", n.ID, "panic", r)
		}
	}()

	observer.NodeStarted(ctx, a, n, input)
}

func notifyFinished(ctx context.Context, logger *slog.Logger, observer Observer, a *models.Automation, n *models.Node, outputs map[string]any, err error) {
	if observer == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Observer panicked", "node_id", n.ID, "panic", r)
		}
	}()

	observer.NodeFinished(ctx, a, n, outputs, err)
}
