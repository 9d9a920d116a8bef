package models

import (
	"fmt"

	"dario.cat/mergo"
)

// NodeType is the closed set of node kinds the executor knows how to run.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "TRIGGER"
	NodeTypeAgent     NodeType = "AGENT"
	NodeTypeTool      NodeType = "TOOL"
	NodeTypeCondition NodeType = "CONDITION"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeAgent, NodeTypeTool, NodeTypeCondition:
		return true
	default:
		return false
	}
}

// Node is a unit of work in an automation graph. ReferenceID points at the
// SystemTool, Agent or ConditionTool the node invokes.
type Node struct {
	ID          string         `json:"id"          validate:"required"`
	Type        NodeType       `json:"type"        validate:"required,oneof=TRIGGER AGENT TOOL CONDITION"`
	ReferenceID string         `json:"referenceId" validate:"required"`
	Config      map[string]any `json:"config"`
	// Outputs holds the last computed result. Only the executor writes it.
	Outputs map[string]any `json:"outputs,omitempty"`
}

// UpdateConfig deep-merges partial into the node config, overriding existing keys.
func (n *Node) UpdateConfig(partial map[string]any) error {
	if n.Config == nil {
		n.Config = map[string]any{}
	}

	if len(partial) == 0 {
		return nil
	}

	err := mergo.Merge(&n.Config, partial, mergo.WithOverride)
	if err != nil {
		return fmt.Errorf("failed to merge config for node %s: %w", n.ID, err)
	}

	return nil
}

// SetOutputs overwrites the node outputs with the result of its latest execution.
func (n *Node) SetOutputs(outputs map[string]any) {
	if outputs == nil {
		outputs = map[string]any{}
	}

	n.Outputs = outputs
}

// ResetOutputs clears outputs ahead of a new run.
func (n *Node) ResetOutputs() {
	n.Outputs = nil
}

// Link is a directed data-routing edge from an output key of one node to an
// input key of another.
type Link struct {
	FromNodeID    string `json:"fromNodeId"    validate:"required"`
	FromOutputKey string `json:"fromOutputKey" validate:"required"`
	ToNodeID      string `json:"toNodeId"      validate:"required"`
	ToInputKey    string `json:"toInputKey"    validate:"required"`
}
