package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func TestGraph_CloneIsDeep(t *testing.T) {
	g := NewGraph(DiagramSchema)
	g.Nodes = append(g.Nodes, &Node{
		ID:   "users",
		Kind: DiagramSchema,
		Type: EntityTypeTable,
		Rows: 100,
		Attributes: []*Attribute{
			{Name: "id", Type: AttrTypePK},
			{Name: "store_id", Type: AttrTypeFK, Ref: "stores.id", Generator: map[string]any{"dist": "uniform"}},
		},
		Position: &Position{X: 10, Y: 20},
	})

	cp := g.Clone()
	cp.Nodes[0].Attributes[1].Ref = "warehouses.id"
	cp.Nodes[0].Attributes[1].Generator["dist"] = "zipf"
	cp.Nodes[0].Position.X = 99

	assert.Equal(t, "stores.id", g.Nodes[0].Attributes[1].Ref)
	assert.Equal(t, "uniform", g.Nodes[0].Attributes[1].Generator["dist"])
	assert.Equal(t, 10.0, g.Nodes[0].Position.X)
}

func TestGraph_CloneNestedConfig(t *testing.T) {
	g := NewGraph(DiagramFlow)
	g.Nodes = append(g.Nodes, &Node{
		ID:   "create_order",
		Kind: DiagramFlow,
		Type: StepTypeCreate,
		Config: map[string]any{
			"event_table": "orders",
			"fields":      []any{map[string]any{"name": "total"}},
		},
	})

	cp := g.Clone()
	fields := cp.Nodes[0].Config["fields"].([]any)
	fields[0].(map[string]any)["name"] = "amount"

	orig := g.Nodes[0].Config["fields"].([]any)
	assert.Equal(t, "total", orig[0].(map[string]any)["name"])
}

func TestNode_SortAttributes(t *testing.T) {
	n := &Node{
		ID:   "orders",
		Kind: DiagramSchema,
		Attributes: []*Attribute{
			{Name: "total", Type: AttrTypeFloat},
			{Name: "user_id", Type: AttrTypeFK, Ref: "users.id"},
			{Name: "created", Type: AttrTypeDate},
			{Name: "id", Type: AttrTypePK},
			{Name: "country_id", Type: AttrTypeLookupFK, Ref: "countries.id"},
		},
	}
	n.SortAttributes()

	names := make([]string, len(n.Attributes))
	for i, a := range n.Attributes {
		names[i] = a.Name
	}
	assert.Equal(t, []string{"id", "country_id", "user_id", "created", "total"}, names)
}

func TestNode_PrimaryKeyDefault(t *testing.T) {
	n := &Node{ID: "logs", Attributes: []*Attribute{{Name: "msg", Type: AttrTypeString}}}
	assert.Equal(t, "id", n.PrimaryKey())

	n.Attributes = append(n.Attributes, &Attribute{Name: "log_key", Type: AttrTypePK})
	assert.Equal(t, "log_key", n.PrimaryKey())
}

func TestNode_RebalanceOutcomes(t *testing.T) {
	n := &Node{
		ID:   "check_stock",
		Type: StepTypeDecision,
		Outcomes: []*Outcome{
			{Probability: floatPtr(0.7), NextStepID: "ship"},
			{Probability: floatPtr(0.3), NextStepID: "backorder"},
		},
	}

	// Removing one probability outcome leaves the survivor at 1.0.
	n.Outcomes = n.Outcomes[:1]
	n.RebalanceOutcomes()
	assert.InDelta(t, 1.0, *n.Outcomes[0].Probability, 1e-9)
}

func TestNode_RebalanceOutcomesSkipsConditions(t *testing.T) {
	n := &Node{
		ID:   "route",
		Type: StepTypeDecision,
		Outcomes: []*Outcome{
			{Probability: floatPtr(0.5), NextStepID: "a"},
			{Probability: floatPtr(1.5), NextStepID: "b"},
			{Condition: `attributes.total > 100`, NextStepID: "c"},
		},
	}
	n.RebalanceOutcomes()

	assert.InDelta(t, 0.25, *n.Outcomes[0].Probability, 1e-9)
	assert.InDelta(t, 0.75, *n.Outcomes[1].Probability, 1e-9)
	assert.Nil(t, n.Outcomes[2].Probability)
}

func TestGraph_RenameRewritesInboundRefs(t *testing.T) {
	g := NewGraph(DiagramSchema)
	g.Nodes = []*Node{
		{ID: "stores", Kind: DiagramSchema, Type: EntityTypeTable,
			Attributes: []*Attribute{{Name: "id", Type: AttrTypePK}}},
		{ID: "orders", Kind: DiagramSchema, Type: EntityTypeTable,
			Attributes: []*Attribute{{Name: "store_id", Type: AttrTypeFK, Ref: "stores.id"}}},
	}

	require.True(t, g.Rename("stores", "shops"))
	assert.Nil(t, g.Node("stores"))
	require.NotNil(t, g.Node("shops"))
	assert.Equal(t, "shops.id", g.Node("orders").Attributes[0].Ref)
}

func TestGraph_RenameRewritesStepTargets(t *testing.T) {
	g := NewGraph(DiagramFlow)
	g.Nodes = []*Node{
		{ID: "start", Kind: DiagramFlow, Type: StepTypeCreate, NextSteps: []string{"finish"}},
		{ID: "route", Kind: DiagramFlow, Type: StepTypeDecision,
			Outcomes: []*Outcome{{Probability: floatPtr(1), NextStepID: "finish"}}},
		{ID: "finish", Kind: DiagramFlow, Type: StepTypeDelete},
	}

	require.True(t, g.Rename("finish", "done"))
	assert.Equal(t, []string{"done"}, g.Node("start").NextSteps)
	assert.Equal(t, "done", g.Node("route").Outcomes[0].NextStepID)
}

func TestGraph_RenameCollision(t *testing.T) {
	g := NewGraph(DiagramSchema)
	g.Nodes = []*Node{{ID: "a"}, {ID: "b"}}
	assert.False(t, g.Rename("a", "b"))
	assert.False(t, g.Rename("missing", "c"))
	assert.True(t, g.Rename("a", "a"))
}

func TestSplitRef(t *testing.T) {
	node, attr, ok := SplitRef("users.id")
	require.True(t, ok)
	assert.Equal(t, "users", node)
	assert.Equal(t, "id", attr)

	_, _, ok = SplitRef("users")
	assert.False(t, ok)
	_, _, ok = SplitRef(".id")
	assert.False(t, ok)
	_, _, ok = SplitRef("users.")
	assert.False(t, ok)
}

func TestAttributeTypeForTarget(t *testing.T) {
	assert.Equal(t, AttrTypeLookupFK, AttributeTypeForTarget(EntityTypeLookup))
	assert.Equal(t, AttrTypeFK, AttributeTypeForTarget(EntityTypeTable))
	assert.Equal(t, AttrTypeFK, AttributeTypeForTarget(""))
}
