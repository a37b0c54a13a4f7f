// Package trace derives exportable flows from the canonical step graph.
// A flow is the ordered, connected subgraph reachable from one create step.
package trace

import (
	"github.com/dmateu/syncanvas/pkg/schema"
)

// TraceFlow walks the step graph depth-first from rootID, following
// next_steps and every decision outcome's next_step_id, and returns the
// ordered step ids of the flow. A visited set guarantees termination on
// cyclic graphs: a revisit is silently pruned ("already included"), never
// an error. References to missing steps are skipped.
func TraceFlow(rootID string, nodes []*schema.Node) []string {
	byID := make(map[string]*schema.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	if byID[rootID] == nil {
		return nil
	}

	visited := make(map[string]bool, len(nodes))
	var order []string

	var visit func(id string)
	visit = func(id string) {
		n := byID[id]
		if n == nil || visited[id] {
			return
		}
		visited[id] = true
		order = append(order, id)

		for _, next := range n.NextSteps {
			visit(next)
		}
		for _, o := range n.Outcomes {
			if o.NextStepID != "" {
				visit(o.NextStepID)
			}
		}
	}
	visit(rootID)
	return order
}

// TraceFlows traces every create-step root independently, in graph order.
// A step reachable from two roots is included in both flows; steps
// unreachable from any root appear in none. Each flow's id and event table
// come from the root step (config key "event_table", defaulting to the
// root's id).
func TraceFlows(g *schema.Graph) []*schema.Flow {
	if g == nil || g.Kind != schema.DiagramFlow {
		return nil
	}

	var flows []*schema.Flow
	for _, n := range g.Nodes {
		if n.Type != schema.StepTypeCreate {
			continue
		}
		steps := TraceFlow(n.ID, g.Nodes)
		if len(steps) == 0 {
			continue
		}
		flows = append(flows, &schema.Flow{
			FlowID:     n.ID,
			EventTable: eventTable(n),
			Steps:      steps,
		})
	}
	return flows
}

func eventTable(root *schema.Node) string {
	if v, ok := root.Config["event_table"].(string); ok && v != "" {
		return v
	}
	return root.ID
}
