// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/autoflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a tool node with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:          uuid.New().String(),
		Type:        models.NodeTypeTool,
		ReferenceID: "manual",
		Config:      map[string]any{},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node id.
func WithID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
	}
}

// WithTriggerNode configures the node as a trigger node.
func WithTriggerNode() func(*models.Node) {
	return func(n *models.Node) {
		n.Type = models.NodeTypeTrigger
	}
}

// WithType sets the node type.
func WithType(nodeType models.NodeType) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = nodeType
	}
}

// WithReference sets the tool, agent or condition tool the node runs.
func WithReference(referenceID string) func(*models.Node) {
	return func(n *models.Node) {
		n.ReferenceID = referenceID
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Config = config
	}
}

// CreateManualTool creates a MANUAL system tool.
func CreateManualTool(id string) *models.SystemTool {
	return &models.SystemTool{ID: id, Name: id, Type: models.ToolTypeManual, Config: map[string]any{}}
}

// CreateManualChain builds trigger -> step where both nodes reference the
// MANUAL tool toolID and the trigger input feeds the step payload.
func CreateManualChain(id, toolID string) *models.Automation {
	automation := models.NewAutomation(id, "chain")
	automation.AddNode(CreateTestNode(WithID("trigger"), WithTriggerNode(), WithReference(toolID)))
	automation.AddNode(CreateTestNode(WithID("step"), WithReference(toolID)))
	automation.Connect("trigger", "input", "step", "payload")

	return automation
}
