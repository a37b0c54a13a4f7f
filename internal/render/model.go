// Package render turns a derived visual graph into shareable diagram text
// or images: Mermaid flowchart syntax, ASCII boxes, or a graphviz PNG.
package render

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is a single box in the rendered diagram. Kind is the node's entity
// or step type and selects the shape; Detail lines list entity attributes.
type Node struct {
	ID     string
	Label  string
	Kind   string
	Detail []string
}

// Edge is a rendered connection, labeled with the reference attribute or
// the decision condition/probability.
type Edge struct {
	From  string
	To    string
	Label string
}
