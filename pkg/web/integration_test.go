//go:build integration

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/condition"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/dukex/autoflow/pkg/persistence/postgresql"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/dukex/autoflow/pkg/web"
	"github.com/dukex/autoflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (string, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "test_autoflow",
				"POSTGRES_USER":     "test_user",
				"POSTGRES_PASSWORD": "test_pass",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dbURL := fmt.Sprintf("postgres://test_user:test_pass@%s:%s/test_autoflow?sslmode=disable", host, port.Port())

	cleanup := func() {
		_ = container.Terminate(ctx)
	}

	return dbURL, cleanup
}

func setupIntegrationApp(t *testing.T, dbURL string) (*fiber.App, *services.Execution) {
	t.Helper()

	logs, err := postgresql.NewLogStore(context.Background(), slog.Default(), dbURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = logs.Close(context.Background())
	})

	store := memory.NewStore()
	dispatcher := services.NewDispatcher(store, slog.Default())
	executor := workflow.NewExecutor(dispatcher, dispatcher, condition.NewEngine(slog.Default()), slog.Default())
	execution := services.NewExecution(store.Automations, logs, executor, slog.Default())

	t.Cleanup(func() {
		_ = execution.Shutdown(context.Background())
	})

	handlers := web.NewAPIHandlers(
		services.NewAutomations(store, slog.Default()),
		execution,
		services.NewWebhooks(store, execution, services.WebhookConfig{}, slog.Default()),
		services.NewPlugins(store, slog.Default()),
		logs,
		validator.New(validator.WithRequiredStructEnabled()),
		slog.Default(),
	)

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)
	web.RegisterRoutes(app, handlers)

	return app, execution
}

func request(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBody
}

func TestIntegration_ExecutionLogsInPostgres(t *testing.T) {
	dbURL, cleanup := setupTestDB(t)
	defer cleanup()

	app, execution := setupIntegrationApp(t, dbURL)

	status, body := request(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = request(t, app, http.MethodPost, "/api/tools", map[string]any{
		"id": "manual", "name": "Manual", "type": "MANUAL",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = request(t, app, http.MethodPost, "/api/automations", manualAutomation("manual"))
	require.Equal(t, http.StatusCreated, status, string(body))

	for range 2 {
		status, body = request(t, app, http.MethodPost, "/api/executions/orders", map[string]any{
			"input": map[string]any{"orderId": "o-1"},
		})
		require.Equal(t, http.StatusAccepted, status, string(body))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		require.NoError(t, execution.Wait(ctx, "orders"))
		cancel()
	}

	status, body = request(t, app, http.MethodGet, "/api/executions/orders/status", nil)
	require.Equal(t, http.StatusOK, status)

	var summary models.ExecutionSummary
	require.NoError(t, json.Unmarshal(body, &summary))
	assert.Equal(t, models.AutomationStatusCompleted, summary.Status)
	assert.Equal(t, 2, summary.CompletedNodes)
	require.Len(t, summary.Logs, 2)
	assert.Equal(t, map[string]any{"orderId": "o-1"}, summary.Logs[0].Inputs)
}
