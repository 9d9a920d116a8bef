// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrAutomationNotFound indicates an automation was not found by the given identifier.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrAgentNotFound indicates an agent was not found by the given identifier.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrToolNotFound indicates a system tool was not found by the given identifier.
	ErrToolNotFound = errors.New("tool not found")

	// ErrConditionToolNotFound indicates a condition tool was not found by the given identifier.
	ErrConditionToolNotFound = errors.New("condition tool not found")

	// ErrMCPNotFound indicates an MCP plugin record was not found.
	ErrMCPNotFound = errors.New("mcp not found")

	// ErrConfigNotFound indicates a system config key is not set.
	ErrConfigNotFound = errors.New("config not found")

	// ErrAlreadyExists indicates an entity with the same identifier is already stored.
	ErrAlreadyExists = errors.New("entity already exists")

	ErrExecutionContextNotFound = errors.New("execution context not found")
)

// EntityError wraps repository errors with the operation and entity involved.
type EntityError struct {
	Op       string // Operation being performed (e.g., "FindByID", "Create", "Delete")
	Entity   string // Entity kind (e.g., "automation", "tool")
	EntityID string
	Err      error
}

func (e *EntityError) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Entity, e.Err)
	}

	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.EntityID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for entity errors.
func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates a new entity error with context.
func NewEntityError(op, entity, entityID string, err error) *EntityError {
	return &EntityError{
		Op:       op,
		Entity:   entity,
		EntityID: entityID,
		Err:      err,
	}
}

// IsAutomationNotFound checks if an error indicates an automation was not found.
func IsAutomationNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound)
}

// IsToolNotFound checks if an error indicates a system tool was not found.
func IsToolNotFound(err error) bool {
	return errors.Is(err, ErrToolNotFound)
}

// IsConditionToolNotFound checks if an error indicates a condition tool was not found.
func IsConditionToolNotFound(err error) bool {
	return errors.Is(err, ErrConditionToolNotFound)
}

func IsAgentNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound)
}

func IsMCPNotFound(err error) bool {
	return errors.Is(err, ErrMCPNotFound)
}

func IsConfigNotFound(err error) bool {
	return errors.Is(err, ErrConfigNotFound)
}

// IsNotFound reports whether err is any of the entity not-found errors.
func IsNotFound(err error) bool {
	return IsAutomationNotFound(err) ||
		IsToolNotFound(err) ||
		IsConditionToolNotFound(err) ||
		IsAgentNotFound(err) ||
		IsMCPNotFound(err) ||
		IsConfigNotFound(err) ||
		errors.Is(err, ErrExecutionContextNotFound)
}

// IsAlreadyExists checks if an error indicates a duplicate key.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
