package workflow

import (
	"context"
	"slices"

	"github.com/dukex/autoflow/pkg/models"
)

type nodeState int

const (
	statePending nodeState = iota
	stateExecuted
	stateFailed
	statePruned
)

// plan is the per-run view of an automation graph.
type plan struct {
	automation *models.Automation
	trigger    *models.Node

	incoming map[string][]*models.Link
	// sources lists, per node, every node whose settlement it waits on:
	// link sources plus condition nodes that gate it through linkedNodes.
	sources map[string][]string
	// gates lists, per node, the condition nodes naming it in linkedNodes.
	gates map[string][]string
	// conditions caches the tool of each CONDITION node, or its load error.
	conditions     map[string]*models.ConditionTool
	conditionErrs  map[string]error
	reachable      map[string]bool
	state          map[string]nodeState
	winners        map[string][]string
	conditionNodes map[string]bool
}

func newPlan(ctx context.Context, automation *models.Automation, trigger *models.Node, resolver ConditionResolver) *plan {
	p := &plan{
		automation:     automation,
		trigger:        trigger,
		incoming:       map[string][]*models.Link{},
		sources:        map[string][]string{},
		gates:          map[string][]string{},
		conditions:     map[string]*models.ConditionTool{},
		conditionErrs:  map[string]error{},
		reachable:      map[string]bool{},
		state:          map[string]nodeState{},
		winners:        map[string][]string{},
		conditionNodes: map[string]bool{},
	}

	edges := map[string][]string{}
	addEdge := func(from, to string) {
		if automation.NodeByID(to) == nil || automation.NodeByID(from) == nil {
			return
		}

		if !slices.Contains(p.sources[to], from) {
			p.sources[to] = append(p.sources[to], from)
			edges[from] = append(edges[from], to)
		}
	}

	for _, link := range automation.Links {
		p.incoming[link.ToNodeID] = append(p.incoming[link.ToNodeID], link)
		addEdge(link.FromNodeID, link.ToNodeID)
	}

	for _, node := range automation.Nodes {
		if node.Type != models.NodeTypeCondition {
			continue
		}

		p.conditionNodes[node.ID] = true

		tool, err := loadConditionTool(ctx, resolver, node.ReferenceID)
		if err != nil {
			p.conditionErrs[node.ID] = err

			continue
		}

		p.conditions[node.ID] = tool

		for _, c := range tool.Conditions {
			for _, target := range c.LinkedNodes {
				addEdge(node.ID, target)

				if !slices.Contains(p.gates[target], node.ID) {
					p.gates[target] = append(p.gates[target], node.ID)
				}
			}
		}
	}

	queue := []string{trigger.ID}
	p.reachable[trigger.ID] = true

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, next := range edges[id] {
			if !p.reachable[next] {
				p.reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	return p
}

func loadConditionTool(ctx context.Context, resolver ConditionResolver, id string) (*models.ConditionTool, error) {
	if resolver == nil {
		return nil, ErrNoConditionResolver
	}

	return resolver.ConditionTool(ctx, id)
}

// pending returns reachable, unsettled nodes in insertion order.
func (p *plan) pending() []*models.Node {
	nodes := make([]*models.Node, 0)

	for _, node := range p.automation.Nodes {
		if p.reachable[node.ID] && p.state[node.ID] == statePending {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// settled reports whether id will not change state for the rest of the run.
// Nodes outside the reachable set never run and count as settled.
func (p *plan) settled(id string) bool {
	return !p.reachable[id] || p.state[id] != statePending
}

// edgeActive reports whether the dependency from -> to delivers activation.
// Edges out of a condition node are active only toward the winner's linked nodes.
func (p *plan) edgeActive(from, to string) bool {
	if !p.reachable[from] || p.state[from] != stateExecuted {
		return false
	}

	if p.conditionNodes[from] {
		return slices.Contains(p.winners[from], to)
	}

	return true
}

// classify decides whether a pending node is ready, pruned or still waiting.
// A node gated by reachable condition nodes runs only when one of them picked
// it; other nodes need at least one active incoming edge.
func (p *plan) classify(id string) (ready, pruned bool) {
	sources := p.sources[id]

	for _, src := range sources {
		if !p.settled(src) {
			return false, false
		}
	}

	if gates := p.reachableGates(id); len(gates) > 0 {
		for _, gate := range gates {
			if p.edgeActive(gate, id) {
				return true, false
			}
		}

		return false, true
	}

	for _, src := range sources {
		if p.edgeActive(src, id) {
			return true, false
		}
	}

	return false, true
}

func (p *plan) reachableGates(id string) []string {
	var gates []string

	for _, gate := range p.gates[id] {
		if p.reachable[gate] {
			gates = append(gates, gate)
		}
	}

	return gates
}

// inputFor merges upstream outputs routed by links from nodes that executed.
func (p *plan) inputFor(id string) map[string]any {
	input := map[string]any{}

	for _, link := range p.incoming[id] {
		if p.state[link.FromNodeID] != stateExecuted || !p.reachable[link.FromNodeID] {
			continue
		}

		from := p.automation.NodeByID(link.FromNodeID)
		if from == nil {
			continue
		}

		input[link.ToInputKey] = from.Outputs[link.FromOutputKey]
	}

	return input
}
