// Package codec maps between the canonical graph and the YAML configuration
// document. Parse is strict (wrong-kind and malformed documents are
// rejected with no partial result); Serialize emits only canonical fields,
// never view state such as positions.
package codec

import (
	"gopkg.in/yaml.v3"

	"github.com/dmateu/syncanvas/internal/trace"
	"github.com/dmateu/syncanvas/internal/validation"
	"github.com/dmateu/syncanvas/pkg/schema"
)

// schemaDocument is the wire shape of an entity-relationship document.
type schemaDocument struct {
	Entities []entityDoc `yaml:"entities"`
}

type entityDoc struct {
	Name       string              `yaml:"name"`
	Type       string              `yaml:"type,omitempty"`
	Rows       int                 `yaml:"rows"`
	Attributes []*schema.Attribute `yaml:"attributes"`
}

// flowDocument is the wire shape of an event-flow document. Steps are
// grouped under their flow on disk; the canonical model is the flat step
// graph the flows are derived from.
type flowDocument struct {
	Simulation map[string]any `yaml:"simulation"`
	EventFlows []flowDoc      `yaml:"event_flows"`
}

type flowDoc struct {
	FlowID     string    `yaml:"flow_id"`
	EventTable string    `yaml:"event_table"`
	Steps      []stepDoc `yaml:"steps"`
}

type stepDoc struct {
	StepID    string            `yaml:"step_id"`
	StepType  string            `yaml:"step_type"`
	Config    map[string]any    `yaml:"config,omitempty"`
	NextSteps []string          `yaml:"next_steps,omitempty"`
	Outcomes  []*schema.Outcome `yaml:"outcomes,omitempty"`
}

// Codec converts between serialized documents and canonical graphs.
type Codec struct {
	validator *validation.GraphValidator
}

// New creates a Codec backed by the given validator.
func New(validator *validation.GraphValidator) *Codec {
	return &Codec{validator: validator}
}

// Parse decodes, validates and converts a document of the expected kind.
// The pipeline is all-or-nothing: any structural or semantic error aborts
// with a typed error and no graph is returned.
func (c *Codec) Parse(kind schema.DiagramKind, text string) (*schema.Graph, error) {
	if !kind.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "unknown diagram kind %q", kind)
	}

	var generic map[string]any
	if err := yaml.Unmarshal([]byte(text), &generic); err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "document is not valid YAML").WithCause(err)
	}
	if err := c.validator.ValidateDocument(kind, generic); err != nil {
		return nil, err
	}

	var g *schema.Graph
	switch kind {
	case schema.DiagramSchema:
		var doc schemaDocument
		if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
			return nil, schema.NewError(schema.ErrCodeParse, "cannot decode schema document").WithCause(err)
		}
		g = schemaDocToGraph(&doc)
	case schema.DiagramFlow:
		var doc flowDocument
		if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
			return nil, schema.NewError(schema.ErrCodeParse, "cannot decode flow document").WithCause(err)
		}
		g = flowDocToGraph(&doc)
	}

	if err := c.validator.ValidateGraph(g).ToError(); err != nil {
		return nil, err
	}
	return g, nil
}

// Serialize emits the canonical YAML for a graph. It is the left inverse of
// Parse restricted to the canonical subset: attribute order is
// canonicalized and flow steps are grouped by traced flow, so
// Parse(kind, Serialize(g)) equals g up to attribute/step ordering for any
// graph with no dangling references.
func (c *Codec) Serialize(g *schema.Graph) (string, error) {
	if g == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "graph is nil")
	}

	var doc any
	switch g.Kind {
	case schema.DiagramSchema:
		doc = graphToSchemaDoc(g)
	case schema.DiagramFlow:
		doc = graphToFlowDoc(g)
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown diagram kind %q", g.Kind)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeParse, "cannot encode document").WithCause(err)
	}
	return string(out), nil
}

func schemaDocToGraph(doc *schemaDocument) *schema.Graph {
	g := schema.NewGraph(schema.DiagramSchema)
	for _, e := range doc.Entities {
		entityType := e.Type
		if entityType == "" {
			entityType = schema.EntityTypeTable
		}
		node := &schema.Node{
			ID:         e.Name,
			Kind:       schema.DiagramSchema,
			Type:       entityType,
			Rows:       e.Rows,
			Attributes: e.Attributes,
		}
		node.SortAttributes()
		g.Nodes = append(g.Nodes, node)
	}
	return g
}

func graphToSchemaDoc(g *schema.Graph) *schemaDocument {
	doc := &schemaDocument{Entities: []entityDoc{}}
	for _, n := range g.Nodes {
		cp := n.Clone()
		cp.SortAttributes()
		attrs := cp.Attributes
		if attrs == nil {
			attrs = []*schema.Attribute{}
		}
		entityType := cp.Type
		if entityType == schema.EntityTypeTable {
			entityType = "" // default type is omitted on disk
		}
		doc.Entities = append(doc.Entities, entityDoc{
			Name:       cp.ID,
			Type:       entityType,
			Rows:       cp.Rows,
			Attributes: attrs,
		})
	}
	return doc
}

func flowDocToGraph(doc *flowDocument) *schema.Graph {
	g := schema.NewGraph(schema.DiagramFlow)
	g.Simulation = doc.Simulation

	seen := make(map[string]bool)
	for _, f := range doc.EventFlows {
		for i, s := range f.Steps {
			// A step reachable from two roots appears in both flows on
			// disk; the canonical graph keeps a single copy.
			if seen[s.StepID] {
				continue
			}
			seen[s.StepID] = true

			node := &schema.Node{
				ID:        s.StepID,
				Kind:      schema.DiagramFlow,
				Type:      s.StepType,
				Config:    s.Config,
				NextSteps: s.NextSteps,
				Outcomes:  s.Outcomes,
			}
			// The flow's event table lives on its root step. The default
			// (event table named after the root) is not materialized, so
			// a round trip does not grow the config.
			if i == 0 && s.StepType == schema.StepTypeCreate && f.EventTable != "" && f.EventTable != s.StepID {
				if node.Config == nil {
					node.Config = map[string]any{}
				}
				node.Config["event_table"] = f.EventTable
			}
			g.Nodes = append(g.Nodes, node)
		}
	}
	return g
}

func graphToFlowDoc(g *schema.Graph) *flowDocument {
	doc := &flowDocument{
		Simulation: g.Simulation,
		EventFlows: []flowDoc{},
	}
	if doc.Simulation == nil {
		doc.Simulation = map[string]any{}
	}

	for _, flow := range trace.TraceFlows(g) {
		fd := flowDoc{
			FlowID:     flow.FlowID,
			EventTable: flow.EventTable,
		}
		for _, id := range flow.Steps {
			n := g.Node(id)
			if n == nil {
				continue
			}
			cp := n.Clone()
			fd.Steps = append(fd.Steps, stepDoc{
				StepID:    cp.ID,
				StepType:  cp.Type,
				Config:    cp.Config,
				NextSteps: cp.NextSteps,
				Outcomes:  cp.Outcomes,
			})
		}
		doc.EventFlows = append(doc.EventFlows, fd)
	}
	return doc
}
