package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateu/syncanvas/internal/controller"
	"github.com/dmateu/syncanvas/pkg/schema"
)

func sampleSchemaVisual() *controller.VisualGraph {
	return &controller.VisualGraph{
		Kind: schema.DiagramSchema,
		Nodes: []*controller.VisualNode{
			{
				ID:   "countries",
				Type: schema.EntityTypeLookup,
				Data: &schema.Node{
					ID:   "countries",
					Kind: schema.DiagramSchema,
					Type: schema.EntityTypeLookup,
					Rows: 50,
					Attributes: []*schema.Attribute{
						{Name: "id", Type: schema.AttrTypePK},
						{Name: "code", Type: schema.AttrTypeString},
					},
				},
			},
			{
				ID:   "users",
				Type: schema.EntityTypeTable,
				Data: &schema.Node{
					ID:   "users",
					Kind: schema.DiagramSchema,
					Type: schema.EntityTypeTable,
					Rows: 1000,
					Attributes: []*schema.Attribute{
						{Name: "id", Type: schema.AttrTypePK},
						{Name: "country_id", Type: schema.AttrTypeLookupFK, Ref: "countries.id"},
					},
				},
			},
		},
		Edges: []*controller.VisualEdge{
			{ID: "users->countries", Source: "users", Target: "countries", Label: "country_id"},
		},
	}
}

func sampleFlowVisual() *controller.VisualGraph {
	return &controller.VisualGraph{
		Kind: schema.DiagramFlow,
		Nodes: []*controller.VisualNode{
			{ID: "orders", Type: schema.StepTypeCreate, Data: &schema.Node{ID: "orders", Kind: schema.DiagramFlow, Type: schema.StepTypeCreate}},
			{ID: "route", Type: schema.StepTypeDecision, Data: &schema.Node{ID: "route", Kind: schema.DiagramFlow, Type: schema.StepTypeDecision}},
			{ID: "ship", Type: schema.StepTypeUpdate, Data: &schema.Node{ID: "ship", Kind: schema.DiagramFlow, Type: schema.StepTypeUpdate}},
		},
		Edges: []*controller.VisualEdge{
			{ID: "orders->route", Source: "orders", Target: "route"},
			{ID: "route->ship", Source: "route", Target: "ship", Label: "p=0.7"},
		},
	}
}

func TestBuild_SchemaModel(t *testing.T) {
	m, err := Build(sampleSchemaVisual())
	require.NoError(t, err)

	assert.Equal(t, "database schema", m.Title)
	require.Len(t, m.Nodes, 2)

	users := m.Nodes[1]
	assert.Equal(t, "users (1000 rows)", users.Label)
	require.Len(t, users.Detail, 2)
	assert.Equal(t, "country_id lookup_fk -> countries.id", users.Detail[1])

	require.Len(t, m.Edges, 1)
	assert.Equal(t, "country_id", m.Edges[0].Label)
}

func TestBuild_LevelsFollowEdges(t *testing.T) {
	m, err := Build(sampleFlowVisual())
	require.NoError(t, err)

	require.Len(t, m.Levels, 3)
	assert.Equal(t, []string{"orders"}, m.Levels[0])
	assert.Equal(t, []string{"route"}, m.Levels[1])
	assert.Equal(t, []string{"ship"}, m.Levels[2])
}

func TestBuild_CyclicGraphStillPlacesEveryNode(t *testing.T) {
	vg := sampleFlowVisual()
	vg.Edges = append(vg.Edges, &controller.VisualEdge{ID: "ship->route", Source: "ship", Target: "route"})
	// Make the cycle unreachable from a root: orders also joins it.
	vg.Edges[0] = &controller.VisualEdge{ID: "route->orders", Source: "route", Target: "orders"}

	m, err := Build(vg)
	require.NoError(t, err)

	total := 0
	seen := map[string]bool{}
	for _, level := range m.Levels {
		for _, id := range level {
			assert.False(t, seen[id], "node %s placed twice", id)
			seen[id] = true
			total++
		}
	}
	assert.Equal(t, len(vg.Nodes), total)
}

func TestBuild_NilGraph(t *testing.T) {
	_, err := Build(nil)
	require.Error(t, err)
}

func TestRenderMermaid(t *testing.T) {
	m, err := Build(sampleFlowVisual())
	require.NoError(t, err)

	out := RenderMermaid(m)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, `orders(("orders"))`)
	assert.Contains(t, out, `route{"route"}`)
	assert.Contains(t, out, "route -->|p=0.7| ship")
	assert.Contains(t, out, "class route decision")
}

func TestRenderMermaid_SchemaShapes(t *testing.T) {
	m, err := Build(sampleSchemaVisual())
	require.NoError(t, err)

	out := RenderMermaid(m)
	assert.Contains(t, out, `countries[["countries (50 rows)"]]`)
	assert.Contains(t, out, "users -->|country_id| countries")
	assert.Contains(t, out, "class users table")
}

func TestRenderASCII(t *testing.T) {
	m, err := Build(sampleSchemaVisual())
	require.NoError(t, err)

	out := RenderASCII(m)
	assert.Contains(t, out, "=== database schema ===")
	assert.Contains(t, out, "users (1000 rows)")
	assert.Contains(t, out, "country_id lookup_fk -> countries.id")
	assert.Contains(t, out, "users ─→ countries (country_id)")
}

func TestRenderImage(t *testing.T) {
	m, err := Build(sampleFlowVisual())
	require.NoError(t, err)

	png, err := RenderImage(m)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}
