package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/workflow"
)

const persistTimeout = 5 * time.Second

// Listener receives every node event. It is called synchronously from the run.
type Listener func(event models.NodeEvent)

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

// Execution runs automations asynchronously and records per-node progress.
// The execution id of a run is the automation id; one run per automation may
// be in flight at a time.
type Execution struct {
	automations persistence.Repository[*models.Automation]
	logs        persistence.ExecutionLogRepository
	executor    *workflow.Executor
	publisher   eventbus.EventPublisher
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running map[string]chan struct{}
	results map[string]*models.ExecutionResult

	listenersMu  sync.RWMutex
	listeners    map[ListenerID]Listener
	nextListener atomic.Uint64
}

var _ ExecutionStarter = (*Execution)(nil)

type ExecutionOption func(*Execution)

// WithEventPublisher also publishes node and run events to an event bus.
func WithEventPublisher(publisher eventbus.EventPublisher) ExecutionOption {
	return func(e *Execution) {
		e.publisher = publisher
	}
}

func NewExecution(
	automations persistence.Repository[*models.Automation],
	logs persistence.ExecutionLogRepository,
	executor *workflow.Executor,
	logger *slog.Logger,
	opts ...ExecutionOption,
) *Execution {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Execution{
		automations: automations,
		logs:        logs,
		executor:    executor,
		logger:      logger.With("module", "execution_service"),
		ctx:         ctx,
		cancel:      cancel,
		running:     make(map[string]chan struct{}),
		results:     make(map[string]*models.ExecutionResult),
		listeners:   make(map[ListenerID]Listener),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// StartExecution marks the automation RUNNING, clears its previous logs and
// runs it in the background. It returns the automation id as execution id.
func (e *Execution) StartExecution(ctx context.Context, automationID string, input map[string]any, opts ...StartOption) (string, error) {
	cfg := &startConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	stored, err := e.automations.FindByID(ctx, automationID)
	if err != nil {
		return "", err
	}

	// The caller's string may alias a reused request buffer; the stored id does not.
	automationID = stored.ID

	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return "", ErrShuttingDown
	}

	if _, busy := e.running[automationID]; busy {
		e.mu.Unlock()

		return "", fmt.Errorf("%w: %s", ErrExecutionInProgress, automationID)
	}

	done := make(chan struct{})
	e.running[automationID] = done
	delete(e.results, automationID)
	e.wg.Add(1)
	e.mu.Unlock()

	run := cloneAutomation(stored)
	run.SetStatus(models.AutomationStatusRunning)

	if err := e.automations.Update(ctx, cloneAutomation(run)); err != nil {
		e.finish(automationID, done, nil)

		return "", err
	}

	if err := e.logs.DeleteByAutomation(ctx, automationID); err != nil {
		e.logger.WarnContext(ctx, "Failed to clear previous logs", "automation_id", automationID, "error", err)
	}

	go e.run(run, input, cfg, done)

	return automationID, nil
}

func (e *Execution) run(automation *models.Automation, input map[string]any, cfg *startConfig, done chan struct{}) {
	ctx := e.ctx
	logger := e.logger.With("automation_id", automation.ID)
	started := time.Now()

	var result *models.ExecutionResult

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Execution panicked", "panic", r)
			automation.SetStatus(models.AutomationStatusError)
			e.saveStatus(automation)
		}

		e.finish(automation.ID, done, result)
	}()

	startEvent := events.AutomationExecutionStarted{
		BaseEvent:     events.NewBaseEvent(events.AutomationExecutionStartedEvent, automation.ID),
		TriggerNodeID: cfg.triggerNodeID,
		Input:         input,
	}
	e.publish(ctx, automation.ID, startEvent)

	logger.InfoContext(ctx, "Execution started", "trigger_node_id", cfg.triggerNodeID)

	executeOpts := []workflow.ExecuteOption{workflow.WithObserver(&runObserver{service: e, records: map[string]*models.ExecutionContext{}})}
	if cfg.triggerNodeID != "" {
		executeOpts = append(executeOpts, workflow.WithTrigger(cfg.triggerNodeID))
	}

	result, err := e.executor.Execute(ctx, automation, input, executeOpts...)
	duration := time.Since(started)

	if err != nil || result.Failed() {
		automation.SetStatus(models.AutomationStatusError)
		e.saveStatus(automation)

		failed := events.AutomationExecutionFailed{
			BaseEvent: events.NewBaseEvent(events.AutomationExecutionFailedEvent, automation.ID),
			Errors:    result.Errors,
			Duration:  duration,
		}
		if err != nil {
			failed.Error = err.Error()
		}

		e.publish(ctx, automation.ID, failed)
		logger.WarnContext(ctx, "Execution finished with errors", "errors", len(result.Errors), "error", err, "duration", duration)

		return
	}

	automation.SetStatus(models.AutomationStatusCompleted)
	e.saveStatus(automation)

	executed := make([]string, 0, len(result.ExecutedNodes))
	for nodeID := range result.ExecutedNodes {
		executed = append(executed, nodeID)
	}

	sort.Strings(executed)

	e.publish(ctx, automation.ID, events.AutomationExecutionCompleted{
		BaseEvent:     events.NewBaseEvent(events.AutomationExecutionCompletedEvent, automation.ID),
		ExecutedNodes: executed,
		Duration:      duration,
	})
	logger.InfoContext(ctx, "Execution completed", "executed_nodes", len(executed), "duration", duration)
}

func (e *Execution) finish(automationID string, done chan struct{}, result *models.ExecutionResult) {
	e.mu.Lock()
	delete(e.running, automationID)

	if result != nil {
		e.results[automationID] = result
	}

	e.mu.Unlock()

	close(done)
	e.wg.Done()
}

// saveStatus writes a snapshot so readers never share the run's node objects.
func (e *Execution) saveStatus(automation *models.Automation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), persistTimeout)
	defer cancel()

	if err := e.automations.Update(ctx, cloneAutomation(automation)); err != nil {
		e.logger.ErrorContext(ctx, "Failed to save automation status",
			"automation_id", automation.ID,
			"status", automation.Status,
			"error", err,
		)
	}
}

// GetExecutionStatus summarizes the persisted records of an automation.
func (e *Execution) GetExecutionStatus(ctx context.Context, automationID string) (*models.ExecutionSummary, error) {
	automation, err := e.automations.FindByID(ctx, automationID)
	if err != nil {
		return nil, err
	}

	logs, err := e.logs.FindByAutomation(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution logs: %w", err)
	}

	summary := &models.ExecutionSummary{
		AutomationID: automationID,
		Status:       automation.Status,
		TotalNodes:   len(automation.Nodes),
		Logs:         logs,
	}

	for _, record := range logs {
		switch record.Status {
		case models.ExecutionStatusCompleted:
			summary.CompletedNodes++
		case models.ExecutionStatusFailed:
			summary.FailedNodes++
		}
	}

	return summary, nil
}

func (e *Execution) GetExecutionLogs(ctx context.Context, automationID string) ([]*models.ExecutionContext, error) {
	if _, err := e.automations.FindByID(ctx, automationID); err != nil {
		return nil, err
	}

	return e.logs.FindByAutomation(ctx, automationID)
}

// LastResult returns the result of the most recent finished run.
func (e *Execution) LastResult(automationID string) (*models.ExecutionResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, ok := e.results[automationID]

	return result, ok
}

// Done returns a channel closed when the in-flight run of the automation
// finishes, or nil when nothing is running.
func (e *Execution) Done(automationID string) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	done, ok := e.running[automationID]
	if !ok {
		return nil
	}

	return done
}

// Closed is closed once Shutdown starts.
func (e *Execution) Closed() <-chan struct{} {
	return e.ctx.Done()
}

// IsRunning reports whether a run of the automation is in flight.
func (e *Execution) IsRunning(automationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.running[automationID]

	return ok
}

// Wait blocks until the in-flight run of the automation, if any, finishes.
func (e *Execution) Wait(ctx context.Context, automationID string) error {
	e.mu.Lock()
	done, ok := e.running[automationID]
	e.mu.Unlock()

	if !ok {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Execution) AddEventListener(listener Listener) ListenerID {
	id := ListenerID(e.nextListener.Add(1))

	e.listenersMu.Lock()
	e.listeners[id] = listener
	e.listenersMu.Unlock()

	return id
}

func (e *Execution) RemoveEventListener(id ListenerID) {
	e.listenersMu.Lock()
	delete(e.listeners, id)
	e.listenersMu.Unlock()
}

func (e *Execution) broadcast(ctx context.Context, event models.NodeEvent) {
	e.listenersMu.RLock()

	ids := make([]ListenerID, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.listeners[id])
	}

	e.listenersMu.RUnlock()

	for _, listener := range listeners {
		e.notify(ctx, listener, event)
	}

	e.publish(ctx, event.AutomationID, events.NewNodeExecution(event))
}

func (e *Execution) notify(ctx context.Context, listener Listener, event models.NodeEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "Event listener panicked", "node_id", event.NodeID, "panic", r)
		}
	}()

	listener(event)
}

func (e *Execution) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Execution) persist(ctx context.Context, record *models.ExecutionContext) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := e.logs.Save(ctx, record); err != nil {
		e.logger.ErrorContext(ctx, "Failed to save execution log",
			"automation_id", record.AutomationID,
			"node_id", record.NodeID,
			"error", err,
		)
	}
}

// Shutdown cancels in-flight runs and waits for them to wind down.
func (e *Execution) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()

	finished := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runObserver turns executor callbacks into log records and node events.
type runObserver struct {
	service *Execution

	mu      sync.Mutex
	records map[string]*models.ExecutionContext
}

func (o *runObserver) NodeStarted(ctx context.Context, automation *models.Automation, node *models.Node, input map[string]any) {
	record := models.NewExecutionContext(automation.ID, node.ID, cloneMap(input))

	o.mu.Lock()
	o.records[node.ID] = record
	snapshot := *record
	o.mu.Unlock()

	o.service.persist(ctx, &snapshot)
	o.service.broadcast(ctx, models.NodeEventFromContext(&snapshot))
}

func (o *runObserver) NodeFinished(ctx context.Context, automation *models.Automation, node *models.Node, outputs map[string]any, err error) {
	o.mu.Lock()

	record, ok := o.records[node.ID]
	if !ok {
		record = models.NewExecutionContext(automation.ID, node.ID, nil)
		o.records[node.ID] = record
	}

	if err != nil {
		record.Fail(err.Error())
	} else {
		record.Complete(outputs)
	}

	snapshot := *record
	o.mu.Unlock()

	o.service.persist(ctx, &snapshot)
	o.service.broadcast(ctx, models.NodeEventFromContext(&snapshot))
}

func cloneAutomation(automation *models.Automation) *models.Automation {
	clone := *automation

	clone.Nodes = make([]*models.Node, len(automation.Nodes))
	for i, node := range automation.Nodes {
		copied := *node
		copied.Config = cloneMap(node.Config)
		copied.Outputs = cloneMap(node.Outputs)
		clone.Nodes[i] = &copied
	}

	clone.Links = make([]*models.Link, len(automation.Links))
	for i, link := range automation.Links {
		copied := *link
		clone.Links[i] = &copied
	}

	return &clone
}
