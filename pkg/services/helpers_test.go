package services_test

import (
	"context"
	"sync"
	"testing"

	"github.com/dukex/autoflow/pkg/condition"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/dukex/autoflow/pkg/testutil"
	"github.com/dukex/autoflow/pkg/workflow"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store      *persistence.Store
	logs       *memory.LogStore
	dispatcher *services.Dispatcher
	execution  *services.Execution
}

func newFixture(t *testing.T, execOpts ...services.ExecutionOption) *fixture {
	t.Helper()

	store := memory.NewStore()
	logs := memory.NewLogStore()
	dispatcher := services.NewDispatcher(store, log.Discard())
	executor := workflow.NewExecutor(dispatcher, dispatcher, condition.NewEngine(log.Discard()), log.Discard())
	execution := services.NewExecution(store.Automations, logs, executor, log.Discard(), execOpts...)

	t.Cleanup(func() {
		_ = execution.Shutdown(context.Background())
	})

	return &fixture{store: store, logs: logs, dispatcher: dispatcher, execution: execution}
}

func (f *fixture) addTool(t *testing.T, tool *models.SystemTool) {
	t.Helper()

	if tool.Config == nil {
		tool.Config = map[string]any{}
	}

	require.NoError(t, f.store.Tools.Create(context.Background(), tool))
}

func (f *fixture) addAutomation(t *testing.T, automation *models.Automation) {
	t.Helper()

	require.NoError(t, f.store.Automations.Create(context.Background(), automation))
}

func node(id string, typ models.NodeType, ref string) *models.Node {
	return testutil.CreateTestNode(testutil.WithID(id), testutil.WithType(typ), testutil.WithReference(ref))
}

// manualChain builds trigger -> step where both reference MANUAL tools.
func manualChain(f *fixture, t *testing.T, id string) *models.Automation {
	t.Helper()

	f.addTool(t, testutil.CreateManualTool("manual"))

	automation := testutil.CreateManualChain(id, "manual")
	f.addAutomation(t, automation)

	return automation
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, string(event.GetType()))
	}

	return out
}
