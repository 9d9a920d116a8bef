// Package services provides the execution, plugin, webhook and tool dispatch services.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/autoflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidInput        = errors.New("input does not match tool schema")
	ErrUnsupportedToolType = errors.New("unsupported tool type")
	ErrInvalidToolConfig   = errors.New("invalid tool configuration")

	// Authentication Errors (401 Unauthorized).
	ErrUnauthorized = errors.New("invalid webhook token")

	// Business Logic Conflicts (409 Conflict).
	ErrExecutionInProgress = errors.New("execution already in progress")

	// Throttling (429 Too Many Requests).
	ErrRateLimited = errors.New("too many requests")

	ErrShuttingDown  = errors.New("execution service is shutting down")
	ErrPluginMissing = errors.New("plugin sandbox not loaded")
	ErrNoAgentRunner = errors.New("no agent runner configured")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnsupportedToolType) ||
		errors.Is(err, ErrInvalidToolConfig)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionInProgress) || persistence.IsAlreadyExists(err)
}

func IsUnauthorizedError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsRateLimitedError(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsNotFoundError reports entity lookups that should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
