package validation

import (
	"fmt"

	"github.com/dmateu/syncanvas/pkg/schema"
)

// validateGraph performs graph analysis on flow diagrams: cycle reporting
// and dead-step reachability from create-step roots.
//
// Cycles are warnings, not errors: the tracer prunes revisits when
// exporting, so a cyclic authoring graph is still usable. Reachability is
// likewise a warning because a disconnected island is a valid authoring
// state; it just never reaches an exported flow.
func validateGraph(g *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if g.Kind != schema.DiagramFlow {
		return result
	}

	targets := func(n *schema.Node) []string {
		out := append([]string(nil), n.NextSteps...)
		for _, o := range n.Outcomes {
			if o.NextStepID != "" {
				out = append(out, o.NextStepID)
			}
		}
		return out
	}

	// Cycle detection: DFS with colors over the outgoing-edge graph.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))
	var cyclic bool

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		if n := g.Node(id); n != nil {
			for _, next := range targets(n) {
				switch color[next] {
				case white:
					if g.Node(next) != nil {
						visit(next)
					}
				case grey:
					cyclic = true
				}
			}
		}
		color[id] = black
	}
	for _, n := range g.Nodes {
		if color[n.ID] == white {
			visit(n.ID)
		}
	}
	if cyclic {
		result.AddWarning("steps", schema.ErrCodeCycleDetected,
			"flow graph contains a cycle; revisited steps are pruned on export")
	}

	// Reachability from create-step roots.
	reachable := make(map[string]bool, len(g.Nodes))
	var queue []string
	for _, n := range g.Nodes {
		if n.Type == schema.StepTypeCreate {
			reachable[n.ID] = true
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n := g.Node(id)
		if n == nil {
			continue
		}
		for _, next := range targets(n) {
			if !reachable[next] && g.Node(next) != nil {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for i, n := range g.Nodes {
		if !reachable[n.ID] {
			result.AddWarningf(fmt.Sprintf("steps[%d]", i),
				schema.ErrCodeValidation,
				"step %q is unreachable from any create step and will not be exported", n.ID)
		}
	}

	return result
}
