// Package models defines the graph data model for automations: nodes, links, conditions,
// tools and the records produced while executing them.
package models

import "time"

// AutomationStatus represents the lifecycle state of an automation run.
type AutomationStatus string

const (
	AutomationStatusIdle      AutomationStatus = "IDLE"
	AutomationStatusRunning   AutomationStatus = "RUNNING"
	AutomationStatusCompleted AutomationStatus = "COMPLETED"
	AutomationStatusError     AutomationStatus = "ERROR"
)

// Entity is implemented by every model stored in a keyed repository.
type Entity interface {
	GetID() string
}

// Automation is a named graph of nodes and links. Nodes keep insertion order,
// which is not the execution order.
type Automation struct {
	ID          string           `json:"id"                    validate:"required"`
	Name        string           `json:"name"                  validate:"required,min=1"`
	Description string           `json:"description,omitempty"`
	Nodes       []*Node          `json:"nodes"                 validate:"dive"`
	Links       []*Link          `json:"links"                 validate:"dive"`
	Status      AutomationStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// NewAutomation returns an IDLE automation with empty graph collections.
func NewAutomation(id, name string) *Automation {
	now := time.Now().UTC()

	return &Automation{
		ID:        id,
		Name:      name,
		Nodes:     []*Node{},
		Links:     []*Link{},
		Status:    AutomationStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (a *Automation) GetID() string {
	return a.ID
}

// NodeByID returns the node with the given id, or nil.
func (a *Automation) NodeByID(id string) *Node {
	for _, node := range a.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// TriggerNodes returns the trigger nodes in insertion order.
func (a *Automation) TriggerNodes() []*Node {
	triggers := make([]*Node, 0, 1)

	for _, node := range a.Nodes {
		if node.Type == NodeTypeTrigger {
			triggers = append(triggers, node)
		}
	}

	return triggers
}

// AddNode appends a node, keeping insertion order.
func (a *Automation) AddNode(node *Node) {
	if node.Config == nil {
		node.Config = map[string]any{}
	}

	a.Nodes = append(a.Nodes, node)
	a.UpdatedAt = time.Now().UTC()
}

// Connect adds a link routing from.outputs[fromKey] into to.inputs[toKey].
func (a *Automation) Connect(fromNodeID, fromOutputKey, toNodeID, toInputKey string) *Link {
	link := &Link{
		FromNodeID:    fromNodeID,
		FromOutputKey: fromOutputKey,
		ToNodeID:      toNodeID,
		ToInputKey:    toInputKey,
	}
	a.Links = append(a.Links, link)
	a.UpdatedAt = time.Now().UTC()

	return link
}

func (a *Automation) SetStatus(status AutomationStatus) {
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
}
