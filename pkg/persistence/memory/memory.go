// Package memory provides in-memory repositories and an execution log store.
package memory

import (
	"context"
	"sync"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// Repository is a goroutine-safe keyed store. FindAll returns entities in
// insertion order.
type Repository[T models.Entity] struct {
	mu       sync.RWMutex
	kind     string
	notFound error
	items    map[string]T
	order    []string
}

// NewRepository creates an empty repository. kind names the entity in wrapped
// errors and notFound is returned for absent keys.
func NewRepository[T models.Entity](kind string, notFound error) *Repository[T] {
	return &Repository[T]{
		kind:     kind,
		notFound: notFound,
		items:    make(map[string]T),
	}
}

func (r *Repository[T]) Create(_ context.Context, entity T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := entity.GetID()
	if _, exists := r.items[id]; exists {
		return persistence.NewEntityError("Create", r.kind, id, persistence.ErrAlreadyExists)
	}

	r.items[id] = entity
	r.order = append(r.order, id)

	return nil
}

func (r *Repository[T]) FindByID(_ context.Context, id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.items[id]
	if !ok {
		var zero T

		return zero, persistence.NewEntityError("FindByID", r.kind, id, r.notFound)
	}

	return entity, nil
}

func (r *Repository[T]) FindAll(_ context.Context) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entities := make([]T, 0, len(r.order))
	for _, id := range r.order {
		entities = append(entities, r.items[id])
	}

	return entities, nil
}

func (r *Repository[T]) Update(_ context.Context, entity T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := entity.GetID()
	if _, exists := r.items[id]; !exists {
		return persistence.NewEntityError("Update", r.kind, id, r.notFound)
	}

	r.items[id] = entity

	return nil
}

func (r *Repository[T]) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[id]; !exists {
		return persistence.NewEntityError("Delete", r.kind, id, r.notFound)
	}

	delete(r.items, id)

	for i, key := range r.order {
		if key == id {
			r.order = append(r.order[:i], r.order[i+1:]...)

			break
		}
	}

	return nil
}

func (r *Repository[T]) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = make(map[string]T)
	r.order = nil

	return nil
}

// NewStore returns a persistence.Store backed entirely by memory.
func NewStore() *persistence.Store {
	return &persistence.Store{
		Automations:    NewRepository[*models.Automation]("automation", persistence.ErrAutomationNotFound),
		Tools:          NewRepository[*models.SystemTool]("tool", persistence.ErrToolNotFound),
		ConditionTools: NewRepository[*models.ConditionTool]("condition tool", persistence.ErrConditionToolNotFound),
		Agents:         NewRepository[*models.Agent]("agent", persistence.ErrAgentNotFound),
		MCPs:           NewRepository[*models.MCP]("mcp", persistence.ErrMCPNotFound),
		Configs:        NewRepository[*models.SystemConfig]("config", persistence.ErrConfigNotFound),
	}
}
