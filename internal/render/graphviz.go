package render

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/dmateu/syncanvas/pkg/schema"
)

// RenderImage renders a Model as a PNG image using graphviz.
// Returns the PNG bytes.
func RenderImage(model *Model) ([]byte, error) {
	ctx := context.Background()

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("render: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("render: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("render: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(nodeLabel(node))
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV != nil && toGV != nil {
			e, eErr := graph.CreateEdgeByName("", fromGV, toGV)
			if eErr == nil && edge.Label != "" {
				e.SetLabel(edge.Label)
			}
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render: render PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// nodeLabel joins the node label with its attribute lines.
func nodeLabel(node *Node) string {
	if len(node.Detail) == 0 {
		return node.Label
	}
	label := node.Label
	for _, line := range node.Detail {
		label += "\n" + line
	}
	return label
}

// applyNodeStyle sets graphviz attributes based on node kind.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch node.Kind {
	case schema.EntityTypeTable:
		gvNode.SetShape(cgraph.BoxShape)
		gvNode.SetFillColor("#1a5276")
		gvNode.SetFontColor("white")
	case schema.EntityTypeLookup:
		gvNode.SetShape(cgraph.BoxShape)
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case schema.EntityTypeEvent:
		gvNode.SetShape(cgraph.BoxShape)
		gvNode.SetFillColor("#b7791a")
		gvNode.SetFontColor("white")
	case schema.StepTypeDecision:
		gvNode.SetShape(cgraph.DiamondShape)
		gvNode.SetFillColor("#6b3fa0")
		gvNode.SetFontColor("white")
	case schema.StepTypeCreate:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case schema.StepTypeWait:
		gvNode.SetShape(cgraph.EllipseShape)
		gvNode.SetFillColor("#d3d3d3")
		gvNode.SetFontColor("black")
	default:
		gvNode.SetShape(cgraph.BoxShape)
		gvNode.SetFillColor("#d3d3d3")
		gvNode.SetFontColor("black")
	}
}
