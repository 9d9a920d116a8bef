package services_test

import (
	"context"
	"strings"
	"testing"

	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/dukex/autoflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutomations_CreateValidates(t *testing.T) {
	automations := services.NewAutomations(memory.NewStore(), log.Discard())

	created, err := automations.Create(context.Background(), &models.Automation{
		Name:  "Orders",
		Nodes: []*models.Node{node("trigger", models.NodeTypeTrigger, "manual")},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.AutomationStatusIdle, created.Status)
	assert.Empty(t, created.Links)

	tests := []struct {
		name       string
		automation *models.Automation
	}{
		{"missing name", &models.Automation{Nodes: []*models.Node{}}},
		{"bad node type", &models.Automation{Name: "x", Nodes: []*models.Node{node("n", "LOOP", "ref")}}},
		{"duplicate node", &models.Automation{Name: "x", Nodes: []*models.Node{
			node("n", models.NodeTypeTool, "ref"),
			node("n", models.NodeTypeTool, "ref"),
		}}},
		{"dangling link", &models.Automation{
			Name:  "x",
			Nodes: []*models.Node{node("n", models.NodeTypeTool, "ref")},
			Links: []*models.Link{{FromNodeID: "n", FromOutputKey: "a", ToNodeID: "ghost", ToInputKey: "b"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := automations.Create(context.Background(), tt.automation)
			require.Error(t, err)
			assert.True(t, services.IsValidationError(err))
		})
	}

	_, err = automations.Create(context.Background(), nil)
	assert.True(t, services.IsValidationError(err))
}

func TestAutomations_SkipsDisabledCronTriggers(t *testing.T) {
	store := memory.NewStore()
	dispatcher := services.NewDispatcher(store, log.Discard())
	scheduler := workflow.NewScheduler(func(context.Context, string, string, map[string]any) error { return nil }, log.Discard())

	automations := services.NewAutomations(store, log.Discard()).WithScheduler(scheduler, dispatcher.CronResolver())

	require.NoError(t, store.Tools.Create(context.Background(), &models.SystemTool{
		ID: "paused", Name: "paused", Type: models.ToolTypeCron, Config: map[string]any{"schedule": "0 * * * *", "enabled": false},
	}))
	require.NoError(t, store.Tools.Create(context.Background(), &models.SystemTool{
		ID: "unset", Name: "unset", Type: models.ToolTypeCron, Config: map[string]any{"schedule": "0 * * * *"},
	}))

	_, err := automations.Create(context.Background(), &models.Automation{
		ID:   "report",
		Name: "Report",
		Nodes: []*models.Node{
			node("paused-tick", models.NodeTypeTrigger, "paused"),
			node("unset-tick", models.NodeTypeTrigger, "unset"),
		},
	})
	require.NoError(t, err)

	assert.Empty(t, scheduler.Entries())
}

func TestAutomations_SchedulesCronTriggers(t *testing.T) {
	store := memory.NewStore()
	dispatcher := services.NewDispatcher(store, log.Discard())
	scheduler := workflow.NewScheduler(func(context.Context, string, string, map[string]any) error { return nil }, log.Discard())

	automations := services.NewAutomations(store, log.Discard()).WithScheduler(scheduler, dispatcher.CronResolver())

	require.NoError(t, store.Tools.Create(context.Background(), &models.SystemTool{
		ID: "hourly", Name: "hourly", Type: models.ToolTypeCron, Config: map[string]any{"schedule": "0 * * * *", "enabled": true},
	}))

	created, err := automations.Create(context.Background(), &models.Automation{
		ID:    "report",
		Name:  "Report",
		Nodes: []*models.Node{node("tick", models.NodeTypeTrigger, "hourly")},
	})
	require.NoError(t, err)

	entries := scheduler.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, created.ID, entries[0].AutomationID)

	require.NoError(t, automations.Delete(context.Background(), created.ID))
	assert.Empty(t, scheduler.Entries())
}

const definitionsYAML = `
tools:
  - id: manual
    name: Manual
    type: MANUAL
    config:
      inputs:
        greeting: hello
conditionTools:
  - id: is-big
    name: Is big
    conditions:
      - id: big
        name: big
        predicate:
          field: amount
          operator: GREATER_THAN
          value: 100
        linkedNodes: [step]
      - id: fallback
        predicate: "true"
        linkedNodes: []
agents:
  - id: writer
    name: Writer
    instructions: write things
automations:
  - id: orders
    name: Orders
    nodes:
      - id: start
        type: TRIGGER
        referenceId: manual
      - id: step
        type: TOOL
        referenceId: manual
    links:
      - fromNodeId: start
        fromOutputKey: input
        toNodeId: step
        toInputKey: payload
`

func TestParseAndLoadDefinitions(t *testing.T) {
	definitions, err := services.ParseDefinitions(strings.NewReader(definitionsYAML))
	require.NoError(t, err)

	require.Len(t, definitions.Tools, 1)
	assert.Equal(t, models.ToolTypeManual, definitions.Tools[0].Type)
	require.Len(t, definitions.Automations, 1)
	require.Len(t, definitions.Automations[0].Links, 1)
	assert.Equal(t, "payload", definitions.Automations[0].Links[0].ToInputKey)

	store := memory.NewStore()
	automations := services.NewAutomations(store, log.Discard())
	require.NoError(t, automations.Load(context.Background(), definitions))

	stored, err := automations.Get(context.Background(), "orders")
	require.NoError(t, err)
	assert.Len(t, stored.Nodes, 2)

	_, err = store.ConditionTools.FindByID(context.Background(), "is-big")
	require.NoError(t, err)

	_, err = store.Agents.FindByID(context.Background(), "writer")
	require.NoError(t, err)

	all, err := automations.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestParseDefinitions_EmptyAndInvalid(t *testing.T) {
	definitions, err := services.ParseDefinitions(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, definitions.Automations)

	_, err = services.ParseDefinitions(strings.NewReader("tools: [unterminated"))
	assert.True(t, services.IsValidationError(err))
}

func TestAutomations_CreateTool(t *testing.T) {
	automations := services.NewAutomations(memory.NewStore(), log.Discard())

	created, err := automations.CreateTool(context.Background(), &models.SystemTool{
		Name: "Post", Type: models.ToolTypeHTTP, Config: map[string]any{"url": "https://example.com"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	_, err = automations.CreateTool(context.Background(), &models.SystemTool{Name: "hook", Type: models.ToolTypeWebhook})
	require.ErrorIs(t, err, services.ErrUnsupportedToolType)

	_, err = automations.CreateTool(context.Background(), &models.SystemTool{
		Name: "bad cron", Type: models.ToolTypeCron, Config: map[string]any{"schedule": "every day"},
	})
	require.ErrorIs(t, err, services.ErrInvalidToolConfig)

	tools, err := automations.Tools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 1)
}
