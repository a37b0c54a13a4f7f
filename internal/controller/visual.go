package controller

import (
	"fmt"
	"strings"

	"github.com/dmateu/syncanvas/pkg/schema"
)

// VisualNode is one rendered vertex: the canonical node plus its cached
// layout coordinate. Data is a clone; mutating it never touches the model.
type VisualNode struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Position schema.Position `json:"position"`
	Data     *schema.Node    `json:"data"`
}

// VisualEdge is one rendered connection between two nodes.
type VisualEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	Label        string `json:"label,omitempty"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// VisualGraph is the derived view of the canonical model. It is regenerated
// wholesale after every mutation and never edited directly.
type VisualGraph struct {
	Kind  schema.DiagramKind `json:"kind"`
	Nodes []*VisualNode      `json:"nodes"`
	Edges []*VisualEdge      `json:"edges"`
}

// EdgeID derives the stable identity of the edge between two nodes. It is
// also the key under which anchor metadata is cached.
func EdgeID(source, target string) string {
	return source + "->" + target
}

// SplitEdgeID recovers the endpoints from an edge identity.
func SplitEdgeID(edgeID string) (source, target string, ok bool) {
	source, target, ok = strings.Cut(edgeID, "->")
	if !ok || source == "" || target == "" {
		return "", "", false
	}
	return source, target, true
}

// buildVisualGraph derives the visual graph from the canonical model, the
// cached positions, and the cached edge anchors. Schema diagrams draw one
// edge per reference attribute; flow diagrams draw next-step and outcome
// edges.
func buildVisualGraph(g *schema.Graph, pos map[string]schema.Position, anchors map[string]schema.EdgeAnchors) *VisualGraph {
	vg := &VisualGraph{Kind: g.Kind}

	for _, n := range g.Nodes {
		vn := &VisualNode{
			ID:   n.ID,
			Type: n.Type,
			Data: n.Clone(),
		}
		if p, ok := pos[n.ID]; ok {
			vn.Position = p
		}
		vg.Nodes = append(vg.Nodes, vn)
	}

	seen := make(map[string]bool)
	addEdge := func(source, target, label string) {
		id := EdgeID(source, target)
		if seen[id] {
			return
		}
		seen[id] = true
		e := &VisualEdge{ID: id, Source: source, Target: target, Label: label}
		if a, ok := anchors[id]; ok {
			e.SourceHandle = a.SourceHandle
			e.TargetHandle = a.TargetHandle
		}
		vg.Edges = append(vg.Edges, e)
	}

	for _, n := range g.Nodes {
		switch g.Kind {
		case schema.DiagramSchema:
			for _, a := range n.Attributes {
				if !schema.IsReferenceType(a.Type) {
					continue
				}
				if target, _, ok := schema.SplitRef(a.Ref); ok && g.Node(target) != nil {
					addEdge(n.ID, target, a.Name)
				}
			}
		case schema.DiagramFlow:
			for _, next := range n.NextSteps {
				if g.Node(next) != nil {
					addEdge(n.ID, next, "")
				}
			}
			for _, o := range n.Outcomes {
				if g.Node(o.NextStepID) == nil {
					continue
				}
				label := o.Condition
				if o.Probability != nil {
					label = fmt.Sprintf("p=%g", *o.Probability)
				}
				addEdge(n.ID, o.NextStepID, label)
			}
		}
	}

	return vg
}
