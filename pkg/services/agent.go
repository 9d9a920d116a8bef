package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	json "github.com/goccy/go-json"
)

var ErrAgentEndpoint = errors.New("agent endpoint failed")

// AgentRunner executes an AGENT node.
type AgentRunner interface {
	Run(ctx context.Context, agent *models.Agent, input map[string]any) (map[string]any, error)
}

// HTTPAgentRunner posts the agent request to the agent's endpoint and expects
// a JSON object back.
type HTTPAgentRunner struct {
	client *http.Client
	logger *slog.Logger
}

func NewHTTPAgentRunner(client *http.Client, logger *slog.Logger) *HTTPAgentRunner {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &HTTPAgentRunner{
		client: client,
		logger: logger.With("module", "agent_runner"),
	}
}

type agentRequest struct {
	AgentID      string         `json:"agentId"`
	Instructions string         `json:"instructions"`
	Input        map[string]any `json:"input"`
	ToolIDs      []string       `json:"toolIds,omitempty"`
}

func (r *HTTPAgentRunner) Run(ctx context.Context, agent *models.Agent, input map[string]any) (map[string]any, error) {
	if agent.Endpoint == "" {
		return nil, fmt.Errorf("%w: agent %s has no endpoint", ErrInvalidToolConfig, agent.ID)
	}

	if input == nil {
		input = map[string]any{}
	}

	body, err := json.Marshal(agentRequest{
		AgentID:      agent.ID,
		Instructions: agent.Instructions,
		Input:        input,
		ToolIDs:      agent.ToolIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAgentEndpoint, err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			r.logger.DebugContext(ctx, "failed to close agent response", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrAgentEndpoint, resp.StatusCode, string(respBody))
	}

	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: response is not a JSON object: %w", ErrAgentEndpoint, err)
	}

	return out, nil
}
