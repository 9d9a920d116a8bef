package services_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unsafe"

	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type startCall struct {
	automationID string
	input        map[string]any
}

type fakeStarter struct {
	mu    sync.Mutex
	calls []startCall
	busy  map[string]bool
}

func (f *fakeStarter) StartExecution(_ context.Context, automationID string, input map[string]any, _ ...services.StartOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busy[automationID] {
		return "", services.ErrExecutionInProgress
	}

	f.calls = append(f.calls, startCall{automationID: automationID, input: input})

	return automationID, nil
}

func TestWebhookToken(t *testing.T) {
	token, err := services.GenerateWebhookToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, "whk_"))
	assert.Len(t, token, 36)
	assert.True(t, services.ValidWebhookToken(token))

	other, err := services.GenerateWebhookToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)

	assert.False(t, services.ValidWebhookToken("whk_XYZ"))
	assert.False(t, services.ValidWebhookToken("abc_0123456789abcdef0123456789abcdef"))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer whk_abc", "whk_abc", true},
		{"bearer   whk_abc ", "whk_abc", true},
		{"Basic whk_abc", "", false},
		{"Bearer", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			token, ok := services.BearerToken(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, token)
		})
	}
}

func webhookAutomation(t *testing.T, store *persistence.Store, id, toolID string) {
	t.Helper()

	automation := models.NewAutomation(id, id)
	automation.AddNode(node("trigger", models.NodeTypeTrigger, toolID))
	require.NoError(t, store.Automations.Create(context.Background(), automation))
}

func TestWebhooks_CreateTool(t *testing.T) {
	store := memory.NewStore()
	webhooks := services.NewWebhooks(store, &fakeStarter{}, services.WebhookConfig{BaseURL: "http://localhost:9091/"}, log.Discard())

	tool, err := webhooks.CreateTool(context.Background(), services.CreateWebhookToolRequest{Name: "Orders"})
	require.NoError(t, err)

	assert.Equal(t, models.ToolTypeWebhook, tool.Type)
	require.NotNil(t, tool.Webhook)
	assert.True(t, services.ValidWebhookToken(tool.Webhook.Token))
	assert.Equal(t, "http://localhost:9091/api/webhooks/"+tool.ID, tool.Webhook.URL)

	stored, err := store.Tools.FindByID(context.Background(), tool.ID)
	require.NoError(t, err)
	assert.Equal(t, tool.Webhook.Token, stored.Webhook.Token)

	_, err = webhooks.CreateTool(context.Background(), services.CreateWebhookToolRequest{Name: " "})
	require.ErrorIs(t, err, services.ErrInvalidRequest)
}

func TestWebhooks_BaseURLFromSystemConfig(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Configs.Create(context.Background(), &models.SystemConfig{
		Key:   models.SystemConfigBaseURL,
		Value: "https://hooks.example.com",
	}))

	webhooks := services.NewWebhooks(store, &fakeStarter{}, services.WebhookConfig{BaseURL: "http://ignored"}, log.Discard())

	tool, err := webhooks.CreateTool(context.Background(), services.CreateWebhookToolRequest{Name: "Orders"})
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/api/webhooks/"+tool.ID, tool.Webhook.URL)
}

func TestWebhooks_Trigger(t *testing.T) {
	store := memory.NewStore()
	starter := &fakeStarter{busy: map[string]bool{"busy": true}}
	webhooks := services.NewWebhooks(store, starter, services.WebhookConfig{}, log.Discard())

	tool, err := webhooks.CreateTool(context.Background(), services.CreateWebhookToolRequest{
		Name: "Orders",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"orderId"},
		},
	})
	require.NoError(t, err)

	webhookAutomation(t, store, "first", tool.ID)
	webhookAutomation(t, store, "busy", tool.ID)
	webhookAutomation(t, store, "other", "some-other-tool")

	ctx := context.Background()
	auth := "Bearer " + tool.Webhook.Token

	_, err = webhooks.Trigger(ctx, tool.ID, "", nil)
	require.ErrorIs(t, err, services.ErrUnauthorized)
	assert.True(t, services.IsUnauthorizedError(err))

	_, err = webhooks.Trigger(ctx, tool.ID, "Bearer whk_00000000000000000000000000000000", nil)
	require.ErrorIs(t, err, services.ErrUnauthorized)

	_, err = webhooks.Trigger(ctx, tool.ID, auth, map[string]any{"wrong": true})
	require.ErrorIs(t, err, services.ErrInvalidInput)

	started, err := webhooks.Trigger(ctx, tool.ID, auth, map[string]any{"orderId": "o-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, started)
	require.Len(t, starter.calls, 1)
	assert.Equal(t, map[string]any{"orderId": "o-1"}, starter.calls[0].input)

	_, err = webhooks.Trigger(ctx, "ghost", auth, nil)
	assert.True(t, persistence.IsToolNotFound(err))
}

func TestWebhooks_TriggerRejectsNonWebhookTool(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Tools.Create(context.Background(), &models.SystemTool{
		ID: "manual", Name: "manual", Type: models.ToolTypeManual,
	}))

	webhooks := services.NewWebhooks(store, &fakeStarter{}, services.WebhookConfig{}, log.Discard())

	_, err := webhooks.Trigger(context.Background(), "manual", "Bearer x", nil)
	assert.True(t, services.IsNotFoundError(err))
}

func TestWebhooks_RateLimit(t *testing.T) {
	store := memory.NewStore()
	webhooks := services.NewWebhooks(store, &fakeStarter{}, services.WebhookConfig{RatePerSecond: 0.001, Burst: 2}, log.Discard())

	tool, err := webhooks.CreateTool(context.Background(), services.CreateWebhookToolRequest{Name: "Orders"})
	require.NoError(t, err)

	auth := "Bearer " + tool.Webhook.Token

	for range 2 {
		_, err = webhooks.Trigger(context.Background(), tool.ID, auth, nil)
		require.NoError(t, err)
	}

	_, err = webhooks.Trigger(context.Background(), tool.ID, auth, nil)
	require.ErrorIs(t, err, services.ErrRateLimited)
	assert.True(t, services.IsRateLimitedError(err))

	// unauthenticated calls are rejected before consuming the budget
	_, err = webhooks.Trigger(context.Background(), tool.ID, "", nil)
	assert.True(t, errors.Is(err, services.ErrUnauthorized))
}

func TestWebhooks_RateLimitKeyedByStoredToolID(t *testing.T) {
	store := memory.NewStore()
	webhooks := services.NewWebhooks(store, &fakeStarter{}, services.WebhookConfig{RatePerSecond: 0.001, Burst: 1}, log.Discard())

	tool, err := webhooks.CreateTool(context.Background(), services.CreateWebhookToolRequest{Name: "Orders"})
	require.NoError(t, err)

	auth := "Bearer " + tool.Webhook.Token

	buf := []byte(tool.ID)
	id := unsafe.String(&buf[0], len(buf))

	_, err = webhooks.Trigger(context.Background(), id, auth, nil)
	require.NoError(t, err)

	copy(buf, strings.Repeat("x", len(buf)))

	_, err = webhooks.Trigger(context.Background(), tool.ID, auth, nil)
	require.ErrorIs(t, err, services.ErrRateLimited)
}

func TestWebhooks_RotateToken(t *testing.T) {
	store := memory.NewStore()
	webhooks := services.NewWebhooks(store, &fakeStarter{}, services.WebhookConfig{}, log.Discard())

	tool, err := webhooks.CreateTool(context.Background(), services.CreateWebhookToolRequest{Name: "Orders"})
	require.NoError(t, err)

	rotated, err := webhooks.RotateToken(context.Background(), tool.ID)
	require.NoError(t, err)
	assert.NotEqual(t, tool.Webhook.Token, rotated.Webhook.Token)
	assert.Equal(t, tool.Webhook.URL, rotated.Webhook.URL)

	_, err = webhooks.Trigger(context.Background(), tool.ID, "Bearer "+tool.Webhook.Token, nil)
	require.ErrorIs(t, err, services.ErrUnauthorized)

	_, err = webhooks.Trigger(context.Background(), tool.ID, "Bearer "+rotated.Webhook.Token, nil)
	require.NoError(t, err)
}
