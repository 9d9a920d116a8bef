// Package persistence provides the storage abstraction for automations, tools and execution logs.
package persistence

import (
	"context"

	"github.com/dukex/autoflow/pkg/models"
)

// Repository is a keyed store of one entity kind. Keys are unique: Create fails
// with ErrAlreadyExists on a duplicate, and FindByID, Update and Delete fail with
// the entity's not-found error when the key is absent.
type Repository[T models.Entity] interface {
	Create(ctx context.Context, entity T) error
	FindByID(ctx context.Context, id string) (T, error)
	FindAll(ctx context.Context) ([]T, error)
	Update(ctx context.Context, entity T) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// ExecutionLogRepository stores per-node execution records.
type ExecutionLogRepository interface {
	// Save inserts or replaces the record with the same id.
	Save(ctx context.Context, execCtx *models.ExecutionContext) error
	// FindByAutomation returns the records of an automation ordered by start time.
	FindByAutomation(ctx context.Context, automationID string) ([]*models.ExecutionContext, error)
	DeleteByAutomation(ctx context.Context, automationID string) error
	Clear(ctx context.Context) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Store groups the entity repositories used by the services.
type Store struct {
	Automations    Repository[*models.Automation]
	Tools          Repository[*models.SystemTool]
	ConditionTools Repository[*models.ConditionTool]
	Agents         Repository[*models.Agent]
	MCPs           Repository[*models.MCP]
	Configs        Repository[*models.SystemConfig]
}
