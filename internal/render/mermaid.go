package render

import (
	"fmt"
	"strings"

	"github.com/dmateu/syncanvas/pkg/schema"
)

// RenderMermaid renders a Model as a Mermaid flowchart string.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef table fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef lookup fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef event fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef decision fill:#6b3fa0,stroke:#4a2c70,color:#fff\n")

	for _, node := range model.Nodes {
		if cls := mermaidKindClass(node.Kind); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := node.Label

	switch node.Kind {
	case schema.StepTypeDecision:
		return fmt.Sprintf("%s{%q}", id, label)
	case schema.StepTypeWait:
		return fmt.Sprintf("%s([%q])", id, label)
	case schema.StepTypeCreate:
		return fmt.Sprintf("%s((%q))", id, label)
	case schema.EntityTypeLookup:
		return fmt.Sprintf("%s[[%q]]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidKindClass maps a node kind to a Mermaid class name.
func mermaidKindClass(kind string) string {
	switch kind {
	case schema.EntityTypeTable:
		return "table"
	case schema.EntityTypeLookup:
		return "lookup"
	case schema.EntityTypeEvent:
		return "event"
	case schema.StepTypeDecision:
		return "decision"
	default:
		return ""
	}
}
