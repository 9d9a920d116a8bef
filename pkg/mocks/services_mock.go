package mocks

import (
	"context"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockPluginExecutor runs plugin tools without starting a sandbox.
type MockPluginExecutor struct {
	mock.Mock
}

func (m *MockPluginExecutor) Execute(ctx context.Context, toolID string, input map[string]any) (map[string]any, error) {
	args := m.Called(ctx, toolID, input)

	output, _ := args.Get(0).(map[string]any)

	return output, args.Error(1)
}

// MockAgentRunner answers agent nodes.
type MockAgentRunner struct {
	mock.Mock
}

func (m *MockAgentRunner) Run(ctx context.Context, agent *models.Agent, input map[string]any) (map[string]any, error) {
	args := m.Called(ctx, agent, input)

	output, _ := args.Get(0).(map[string]any)

	return output, args.Error(1)
}
