package render

import (
	"fmt"

	"github.com/dmateu/syncanvas/internal/controller"
	"github.com/dmateu/syncanvas/pkg/schema"
)

// Build constructs a render Model from a derived visual graph. Node order is
// preserved; levels are computed by breadth-first walk from the in-degree
// zero roots so the ASCII renderer can lay boxes out top to bottom.
func Build(vg *controller.VisualGraph) (*Model, error) {
	if vg == nil {
		return nil, fmt.Errorf("render: visual graph is nil")
	}

	m := &Model{Title: title(vg.Kind)}
	for _, vn := range vg.Nodes {
		m.Nodes = append(m.Nodes, buildNode(vn))
	}
	for _, ve := range vg.Edges {
		m.Edges = append(m.Edges, Edge{From: ve.Source, To: ve.Target, Label: ve.Label})
	}
	m.Levels = levels(m)
	return m, nil
}

func title(kind schema.DiagramKind) string {
	if kind == schema.DiagramFlow {
		return "event flow"
	}
	return "database schema"
}

func buildNode(vn *controller.VisualNode) *Node {
	n := &Node{
		ID:    vn.ID,
		Label: vn.ID,
		Kind:  vn.Type,
	}
	if vn.Data == nil {
		return n
	}
	if vn.Data.Kind == schema.DiagramSchema {
		if vn.Data.Rows > 0 {
			n.Label = fmt.Sprintf("%s (%d rows)", vn.ID, vn.Data.Rows)
		}
		for _, a := range vn.Data.Attributes {
			line := a.Name + " " + a.Type
			if a.Ref != "" {
				line += " -> " + a.Ref
			}
			n.Detail = append(n.Detail, line)
		}
	}
	return n
}

// levels groups node ids into breadth-first layers. Roots are the nodes no
// edge points at; nodes only reachable through a cycle land in a trailing
// layer so every node is rendered exactly once.
func levels(m *Model) [][]string {
	indegree := make(map[string]int, len(m.Nodes))
	next := make(map[string][]string, len(m.Nodes))
	for _, n := range m.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range m.Edges {
		if _, ok := indegree[e.To]; ok {
			indegree[e.To]++
		}
		next[e.From] = append(next[e.From], e.To)
	}

	var out [][]string
	placed := make(map[string]bool, len(m.Nodes))

	var layer []string
	for _, n := range m.Nodes {
		if indegree[n.ID] == 0 {
			layer = append(layer, n.ID)
			placed[n.ID] = true
		}
	}
	for len(layer) > 0 {
		out = append(out, layer)
		var following []string
		for _, id := range layer {
			for _, to := range next[id] {
				if !placed[to] {
					placed[to] = true
					following = append(following, to)
				}
			}
		}
		layer = following
	}

	var rest []string
	for _, n := range m.Nodes {
		if !placed[n.ID] {
			rest = append(rest, n.ID)
		}
	}
	if len(rest) > 0 {
		out = append(out, rest)
	}
	return out
}
