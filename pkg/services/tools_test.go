package services_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/mocks"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/dukex/autoflow/pkg/workflow"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func invoke(t *testing.T, d *services.Dispatcher, n *models.Node, input map[string]any) (map[string]any, error) {
	t.Helper()

	return d.Invoke(context.Background(), workflow.Invocation{
		Automation: models.NewAutomation("a1", "test"),
		Node:       n,
		Input:      input,
	})
}

func createTool(t *testing.T, store *persistence.Store, tool *models.SystemTool) {
	t.Helper()
	require.NoError(t, store.Tools.Create(context.Background(), tool))
}

func TestDispatcher_ManualMergesConfiguredInputs(t *testing.T) {
	store := memory.NewStore()
	d := services.NewDispatcher(store, log.Discard())

	createTool(t, store, &models.SystemTool{
		ID:     "manual",
		Name:   "Manual",
		Type:   models.ToolTypeManual,
		Config: map[string]any{"inputs": map[string]any{"greeting": "hi", "name": "default"}},
	})

	out, err := invoke(t, d, node("t", models.NodeTypeTrigger, "manual"), map[string]any{"name": "ada"})
	require.NoError(t, err)

	assert.Equal(t, "executed", out["status"])
	assert.Equal(t, map[string]any{"greeting": "hi", "name": "ada"}, out["input"])

	executedAt, ok := out["executedAt"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, executedAt)
	assert.NoError(t, err)
}

func TestDispatcher_NodeConfigOverridesToolConfig(t *testing.T) {
	store := memory.NewStore()
	d := services.NewDispatcher(store, log.Discard())

	createTool(t, store, &models.SystemTool{
		ID:     "cron",
		Name:   "Every minute",
		Type:   models.ToolTypeCron,
		Config: map[string]any{"schedule": "* * * * *"},
	})

	n := node("t", models.NodeTypeTrigger, "cron")
	n.Config = map[string]any{"schedule": "*/5 * * * *"}

	out, err := invoke(t, d, n, nil)
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", out["schedule"])
	assert.Equal(t, map[string]any{}, out["input"])
}

func TestDispatcher_InputSchemaValidation(t *testing.T) {
	store := memory.NewStore()
	d := services.NewDispatcher(store, log.Discard())

	createTool(t, store, &models.SystemTool{
		ID:   "hook",
		Name: "Hook",
		Type: models.ToolTypeWebhook,
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []any{"orderId"},
			"properties": map[string]any{"orderId": map[string]any{"type": "string"}},
		},
	})

	_, err := invoke(t, d, node("t", models.NodeTypeTrigger, "hook"), map[string]any{"orderId": 42})
	require.ErrorIs(t, err, services.ErrInvalidInput)

	out, err := invoke(t, d, node("t", models.NodeTypeTrigger, "hook"), map[string]any{"orderId": "o-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"orderId": "o-1"}, out["input"])
}

func TestDispatcher_HTTPTool(t *testing.T) {
	var (
		gotMethod string
		gotBody   map[string]any
		gotHeader string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Api-Key")

		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"id":7}`))
	}))
	defer server.Close()

	store := memory.NewStore()
	d := services.NewDispatcher(store, log.Discard(), services.WithHTTPClient(server.Client()))

	createTool(t, store, &models.SystemTool{
		ID:   "http",
		Name: "Create order",
		Type: models.ToolTypeHTTP,
		Config: map[string]any{
			"url":     server.URL + "/orders",
			"headers": map[string]any{"X-Api-Key": "secret"},
		},
	})

	out, err := invoke(t, d, node("n", models.NodeTypeTool, "http"), map[string]any{"sku": "abc"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "secret", gotHeader)
	assert.Equal(t, map[string]any{"sku": "abc"}, gotBody)
	assert.Equal(t, true, out["ok"])
	assert.EqualValues(t, 7, out["id"])
}

func TestDispatcher_HTTPToolTemplates(t *testing.T) {
	var (
		gotPath   string
		gotBody   map[string]any
		gotHeader string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Request-Source")

		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	store := memory.NewStore()
	d := services.NewDispatcher(store, log.Discard(), services.WithHTTPClient(server.Client()))

	createTool(t, store, &models.SystemTool{
		ID:   "http",
		Name: "Update order",
		Type: models.ToolTypeHTTP,
		Config: map[string]any{
			"url":     server.URL + "/orders/{{ .input.id }}",
			"method":  "PUT",
			"headers": map[string]any{"X-Request-Source": "{{ .tool.id }}"},
			"body":    `{"status": "{{ .input.status }}", "items": {{ len .input.items }}}`,
		},
	})

	_, err := invoke(t, d, node("n", models.NodeTypeTool, "http"), map[string]any{
		"id":     "o-7",
		"status": "paid",
		"items":  []any{"a", "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/orders/o-7", gotPath)
	assert.Equal(t, "http", gotHeader)
	assert.Equal(t, map[string]any{"status": "paid", "items": float64(2)}, gotBody)

	createTool(t, store, &models.SystemTool{
		ID:     "broken",
		Name:   "Broken",
		Type:   models.ToolTypeHTTP,
		Config: map[string]any{"url": server.URL + "/{{ .input.id "},
	})

	_, err = invoke(t, d, node("n", models.NodeTypeTool, "broken"), map[string]any{"id": "x"})
	require.ErrorIs(t, err, services.ErrInvalidToolConfig)
}

func TestDispatcher_HTTPToolNonObjectAndErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/text":
			_, _ = w.Write([]byte("plain"))
		case "/list":
			_, _ = w.Write([]byte(`[1,2]`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		}
	}))
	defer server.Close()

	store := memory.NewStore()
	d := services.NewDispatcher(store, log.Discard(), services.WithHTTPClient(server.Client()))

	createTool(t, store, &models.SystemTool{ID: "text", Name: "text", Type: models.ToolTypeHTTP,
		Config: map[string]any{"url": server.URL + "/text", "method": "get"}})
	createTool(t, store, &models.SystemTool{ID: "list", Name: "list", Type: models.ToolTypeHTTP,
		Config: map[string]any{"url": server.URL + "/list", "method": "GET"}})
	createTool(t, store, &models.SystemTool{ID: "down", Name: "down", Type: models.ToolTypeHTTP,
		Config: map[string]any{"url": server.URL + "/down"}})
	createTool(t, store, &models.SystemTool{ID: "bad", Name: "bad", Type: models.ToolTypeHTTP,
		Config: map[string]any{"url": "not a url"}})

	out, err := invoke(t, d, node("n", models.NodeTypeTool, "text"), nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", out["body"])
	assert.EqualValues(t, http.StatusOK, out["statusCode"])

	out, err = invoke(t, d, node("n", models.NodeTypeTool, "list"), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, out["body"])

	_, err = invoke(t, d, node("n", models.NodeTypeTool, "down"), nil)
	require.ErrorIs(t, err, services.ErrHTTPTool)
	assert.Contains(t, err.Error(), "502")

	_, err = invoke(t, d, node("n", models.NodeTypeTool, "bad"), nil)
	require.ErrorIs(t, err, services.ErrInvalidToolConfig)
}

func TestDispatcher_MCPTool(t *testing.T) {
	store := memory.NewStore()
	createTool(t, store, &models.SystemTool{ID: "mcp-1:echo", Name: "echo", Type: models.ToolTypeMCP, MCPID: "mcp-1"})

	_, err := invoke(t, services.NewDispatcher(store, log.Discard()), node("n", models.NodeTypeTool, "mcp-1:echo"), nil)
	require.ErrorIs(t, err, services.ErrPluginMissing)

	plugins := &mocks.MockPluginExecutor{}
	plugins.On("Execute", mock.Anything, "mcp-1:echo", map[string]any{"x": 1}).
		Return(map[string]any{"tool": "mcp-1:echo"}, nil).Once()

	d := services.NewDispatcher(store, log.Discard(), services.WithPlugins(plugins))

	out, err := invoke(t, d, node("n", models.NodeTypeTool, "mcp-1:echo"), map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "mcp-1:echo", out["tool"])
	plugins.AssertExpectations(t)
}

func TestDispatcher_Agent(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Agents.Create(context.Background(), &models.Agent{ID: "writer", Name: "Writer"}))

	_, err := invoke(t, services.NewDispatcher(store, log.Discard()), node("n", models.NodeTypeAgent, "writer"), nil)
	require.ErrorIs(t, err, services.ErrNoAgentRunner)

	runner := &mocks.MockAgentRunner{}
	runner.On("Run", mock.Anything, mock.MatchedBy(func(agent *models.Agent) bool {
		return agent.ID == "writer"
	}), map[string]any{"topic": "go"}).Return(map[string]any{"agent": "writer"}, nil).Once()

	d := services.NewDispatcher(store, log.Discard(), services.WithAgentRunner(runner))

	out, err := invoke(t, d, node("n", models.NodeTypeAgent, "writer"), map[string]any{"topic": "go"})
	require.NoError(t, err)
	assert.Equal(t, "writer", out["agent"])

	_, err = invoke(t, d, node("n", models.NodeTypeAgent, "ghost"), nil)
	assert.True(t, persistence.IsAgentNotFound(err))
	runner.AssertExpectations(t)
}

func TestDispatcher_UnknownReferences(t *testing.T) {
	store := memory.NewStore()
	d := services.NewDispatcher(store, log.Discard())

	_, err := invoke(t, d, node("n", models.NodeTypeTool, "ghost"), nil)
	assert.True(t, persistence.IsToolNotFound(err))

	_, err = invoke(t, d, node("n", models.NodeTypeCondition, "ghost"), nil)
	require.ErrorIs(t, err, models.ErrInvalidNodeType)

	_, err = d.ConditionTool(context.Background(), "ghost")
	assert.True(t, persistence.IsConditionToolNotFound(err))
}

func TestDispatcher_CronResolver(t *testing.T) {
	store := memory.NewStore()
	d := services.NewDispatcher(store, log.Discard())

	createTool(t, store, &models.SystemTool{ID: "cron", Name: "cron", Type: models.ToolTypeCron,
		Config: map[string]any{"schedule": "0 * * * *", "inputs": map[string]any{"k": "v"}}})
	createTool(t, store, &models.SystemTool{ID: "manual", Name: "manual", Type: models.ToolTypeManual})
	createTool(t, store, &models.SystemTool{ID: "broken", Name: "broken", Type: models.ToolTypeCron})

	resolve := d.CronResolver()

	cfg, ok := resolve(context.Background(), node("t", models.NodeTypeTrigger, "cron"))
	require.True(t, ok)
	assert.Equal(t, "0 * * * *", cfg.Schedule)
	assert.Equal(t, map[string]any{"k": "v"}, cfg.Inputs)

	_, ok = resolve(context.Background(), node("t", models.NodeTypeTrigger, "manual"))
	assert.False(t, ok)

	_, ok = resolve(context.Background(), node("t", models.NodeTypeTrigger, "broken"))
	assert.False(t, ok)

	_, ok = resolve(context.Background(), node("t", models.NodeTypeTrigger, "missing"))
	assert.False(t, ok)
}
