// Package workflow runs automation graphs. The Executor walks nodes in
// dependency order; the Scheduler starts runs from cron triggers.
package workflow

import (
	"context"

	"github.com/dukex/autoflow/pkg/models"
)

// Invocation is a single TRIGGER, TOOL or AGENT node call.
type Invocation struct {
	Automation *models.Automation
	Node       *models.Node
	Input      map[string]any
}

// NodeInvoker runs the tool or agent a node references.
type NodeInvoker interface {
	Invoke(ctx context.Context, call Invocation) (map[string]any, error)
}

// NodeInvokerFunc adapts a function to NodeInvoker.
type NodeInvokerFunc func(ctx context.Context, call Invocation) (map[string]any, error)

func (f NodeInvokerFunc) Invoke(ctx context.Context, call Invocation) (map[string]any, error) {
	return f(ctx, call)
}

// ConditionResolver loads the condition tool a CONDITION node references.
type ConditionResolver interface {
	ConditionTool(ctx context.Context, id string) (*models.ConditionTool, error)
}

// Observer is notified around every node execution. NodeFinished receives
// the error, if any, that the node produced.
type Observer interface {
	NodeStarted(ctx context.Context, automation *models.Automation, node *models.Node, input map[string]any)
	NodeFinished(ctx context.Context, automation *models.Automation, node *models.Node, outputs map[string]any, err error)
}
