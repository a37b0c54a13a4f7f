package schema

import "sort"

// DiagramKind selects one of the two graph families the authoring core
// understands. Every graph, cache entry and document carries exactly one kind.
type DiagramKind string

const (
	DiagramSchema DiagramKind = "schema"
	DiagramFlow   DiagramKind = "flow"
)

// Valid reports whether k is one of the two supported diagram kinds.
func (k DiagramKind) Valid() bool {
	return k == DiagramSchema || k == DiagramFlow
}

// Entity node types. The type influences how inferred reference attributes
// are classified (see AttributeTypeForTarget).
const (
	EntityTypeTable  = "table"
	EntityTypeLookup = "lookup"
	EntityTypeEvent  = "event"
)

// Step types for flow diagrams. A "create" step is a flow root.
const (
	StepTypeCreate   = "create"
	StepTypeUpdate   = "update"
	StepTypeDecision = "decision"
	StepTypeDelete   = "delete"
	StepTypeWait     = "wait"
)

// Attribute types. The first three are reference kinds; the rest are scalar
// column kinds carried through the codec untouched.
const (
	AttrTypePK       = "pk"
	AttrTypeFK       = "fk"
	AttrTypeLookupFK = "lookup_fk"

	AttrTypeString = "string"
	AttrTypeInt    = "int"
	AttrTypeFloat  = "float"
	AttrTypeBool   = "bool"
	AttrTypeDate   = "date"
	AttrTypeUUID   = "uuid"
)

// IsReferenceType reports whether an attribute type encodes a relationship
// to another entity.
func IsReferenceType(t string) bool {
	return t == AttrTypeFK || t == AttrTypeLookupFK
}

// AttributeTypeForTarget derives the reference-attribute type from the
// target entity's declared type, falling back to the generic foreign key.
func AttributeTypeForTarget(targetType string) string {
	if targetType == EntityTypeLookup {
		return AttrTypeLookupFK
	}
	return AttrTypeFK
}

// Position is a cached layout coordinate. View-only: never serialized into
// the configuration document.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EdgeAnchors holds connection-anchor metadata for one visual edge.
type EdgeAnchors struct {
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Attribute is a single column on a schema entity. Ref, when set, points at
// "<targetNode>.<targetAttribute>".
type Attribute struct {
	Name      string         `yaml:"name" json:"name"`
	Type      string         `yaml:"type" json:"type"`
	Ref       string         `yaml:"ref,omitempty" json:"ref,omitempty"`
	Generator map[string]any `yaml:"generator,omitempty" json:"generator,omitempty"`
}

// Clone returns a deep copy of the attribute.
func (a *Attribute) Clone() *Attribute {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Generator = cloneMap(a.Generator)
	return &cp
}

// Outcome is one branch of a decision step: either a probability or an
// attribute-comparison condition, plus the step it leads to.
type Outcome struct {
	Probability *float64 `yaml:"probability,omitempty" json:"probability,omitempty"`
	Condition   string   `yaml:"condition,omitempty" json:"condition,omitempty"`
	NextStepID  string   `yaml:"next_step_id" json:"next_step_id"`
}

// Clone returns a deep copy of the outcome.
func (o *Outcome) Clone() *Outcome {
	if o == nil {
		return nil
	}
	cp := *o
	if o.Probability != nil {
		p := *o.Probability
		cp.Probability = &p
	}
	return &cp
}

// Node is a vertex in either graph family. Entities use Name-style identity
// and carry Attributes; steps use step_id identity and carry NextSteps and,
// for decision steps, Outcomes. Position is view state and never serialized.
type Node struct {
	ID         string         `json:"id"`
	Kind       DiagramKind    `json:"kind"`
	Type       string         `json:"type"`
	Rows       int            `json:"rows,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Attributes []*Attribute   `json:"attributes,omitempty"`
	NextSteps  []string       `json:"next_steps,omitempty"`
	Outcomes   []*Outcome     `json:"outcomes,omitempty"`
	Position   *Position      `json:"-"`
}

// Clone returns a deep copy of the node, position included.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Config = cloneMap(n.Config)
	if n.Attributes != nil {
		cp.Attributes = make([]*Attribute, len(n.Attributes))
		for i, a := range n.Attributes {
			cp.Attributes[i] = a.Clone()
		}
	}
	if n.NextSteps != nil {
		cp.NextSteps = append([]string(nil), n.NextSteps...)
	}
	if n.Outcomes != nil {
		cp.Outcomes = make([]*Outcome, len(n.Outcomes))
		for i, o := range n.Outcomes {
			cp.Outcomes[i] = o.Clone()
		}
	}
	if n.Position != nil {
		p := *n.Position
		cp.Position = &p
	}
	return &cp
}

// PrimaryKey returns the name of the node's primary-key attribute,
// defaulting to "id" when none is marked.
func (n *Node) PrimaryKey() string {
	for _, a := range n.Attributes {
		if a.Type == AttrTypePK {
			return a.Name
		}
	}
	return "id"
}

// HasAttribute reports whether the node already carries an attribute with
// the given name.
func (n *Node) HasAttribute(name string) bool {
	for _, a := range n.Attributes {
		if a.Name == name {
			return true
		}
	}
	return false
}

// SortAttributes applies the canonical attribute ordering: primary key
// first, reference attributes next, everything else last, ties by name.
func (n *Node) SortAttributes() {
	sort.SliceStable(n.Attributes, func(i, j int) bool {
		ri, rj := attrRank(n.Attributes[i]), attrRank(n.Attributes[j])
		if ri != rj {
			return ri < rj
		}
		return n.Attributes[i].Name < n.Attributes[j].Name
	})
}

func attrRank(a *Attribute) int {
	switch {
	case a.Type == AttrTypePK:
		return 0
	case IsReferenceType(a.Type):
		return 1
	default:
		return 2
	}
}

// RebalanceOutcomes rescales probability-based outcomes so they sum to 1.
// Condition-based outcomes are left untouched. Called whenever an outcome
// is added or removed on a decision step.
func (n *Node) RebalanceOutcomes() {
	var probs []*Outcome
	var total float64
	for _, o := range n.Outcomes {
		if o.Probability != nil {
			probs = append(probs, o)
			total += *o.Probability
		}
	}
	if len(probs) == 0 {
		return
	}
	if total <= 0 {
		even := 1.0 / float64(len(probs))
		for _, o := range probs {
			p := even
			o.Probability = &p
		}
		return
	}
	for _, o := range probs {
		p := *o.Probability / total
		o.Probability = &p
	}
}

// Graph is the canonical in-memory model: the single source of truth from
// which the visual graph and the serialized document are derived.
type Graph struct {
	Kind       DiagramKind    `json:"kind"`
	Nodes      []*Node        `json:"nodes"`
	Simulation map[string]any `json:"simulation,omitempty"`
}

// NewGraph creates an empty graph of the given kind.
func NewGraph(kind DiagramKind) *Graph {
	return &Graph{Kind: kind}
}

// Clone returns a structural deep copy of the graph. Used everywhere a
// snapshot or working copy is needed; the model is never cloned by
// round-tripping through text.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	cp := &Graph{Kind: g.Kind, Simulation: cloneMap(g.Simulation)}
	if g.Nodes != nil {
		cp.Nodes = make([]*Node, len(g.Nodes))
		for i, n := range g.Nodes {
			cp.Nodes[i] = n.Clone()
		}
	}
	return cp
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// NodeIDs returns the ids of all nodes in graph order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Rename changes a node's identity and rewrites every inbound reference
// (attribute refs, next_steps, outcome targets) in the same pass. Returns
// false if oldID does not exist or newID is already taken.
func (g *Graph) Rename(oldID, newID string) bool {
	if oldID == newID {
		return true
	}
	node := g.Node(oldID)
	if node == nil || g.Node(newID) != nil {
		return false
	}
	node.ID = newID
	for _, n := range g.Nodes {
		for _, a := range n.Attributes {
			if target, col, ok := SplitRef(a.Ref); ok && target == oldID {
				a.Ref = newID + "." + col
			}
		}
		for i, next := range n.NextSteps {
			if next == oldID {
				n.NextSteps[i] = newID
			}
		}
		for _, o := range n.Outcomes {
			if o.NextStepID == oldID {
				o.NextStepID = newID
			}
		}
	}
	return true
}

// SplitRef splits a "<node>.<attribute>" reference into its parts.
func SplitRef(ref string) (node, attr string, ok bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' {
			if i == 0 || i == len(ref)-1 {
				return "", "", false
			}
			return ref[:i], ref[i+1:], true
		}
	}
	return "", "", false
}

// Flow is a derived view: the ordered steps reachable from one create-step
// root, plus the record table the flow populates. Flows are recomputed from
// the canonical step graph and never edited directly.
type Flow struct {
	FlowID     string   `json:"flow_id"`
	EventTable string   `json:"event_table"`
	Steps      []string `json:"steps"`
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = cloneValue(v)
	}
	return cp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = cloneValue(e)
		}
		return cp
	default:
		return v
	}
}
