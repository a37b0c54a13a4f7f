package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateu/syncanvas/internal/codec"
	"github.com/dmateu/syncanvas/internal/controller"
	"github.com/dmateu/syncanvas/internal/expressions"
	"github.com/dmateu/syncanvas/internal/infer"
	"github.com/dmateu/syncanvas/internal/positions"
	"github.com/dmateu/syncanvas/internal/store"
	"github.com/dmateu/syncanvas/internal/validation"
	"github.com/dmateu/syncanvas/pkg/schema"
)

const schemaDoc = `entities:
  - name: countries
    type: lookup
    rows: 50
    attributes:
      - name: id
        type: pk
      - name: code
        type: string
  - name: users
    rows: 1000
    attributes:
      - name: id
        type: pk
      - name: country_id
        type: lookup_fk
        ref: countries.id
`

// --- Helpers ---

func newTestServer(t *testing.T) (*CanvasServer, store.Store) {
	t.Helper()
	ev, err := expressions.NewEvaluator()
	require.NoError(t, err)
	gv, err := validation.NewGraphValidator(ev)
	require.NoError(t, err)

	ms := store.NewMemoryStore()
	cache := positions.NewCache(ms, nil, positions.Options{Debounce: time.Hour})
	t.Cleanup(cache.Close)

	registry := controller.NewRegistry(func(kind schema.DiagramKind, projectID string) (*controller.Controller, error) {
		return controller.New(controller.Config{
			ProjectID: projectID,
			Kind:      kind,
			Store:     ms,
			Cache:     cache,
			Codec:     codec.New(gv),
			Infer:     infer.New(nil),
			Validator: gv,
		})
	})

	s := NewCanvasServer(CanvasServerDeps{
		Controllers: registry,
		Store:       ms,
		Evaluator:   ev,
	})
	return s, ms
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func importSchema(t *testing.T, s *CanvasServer) {
	t.Helper()
	req := buildRequest("syncanvas.import", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"text":       schemaDoc,
	})
	result, err := s.handleImport(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

// --- Tests ---

func TestImportTool(t *testing.T) {
	s, ms := newTestServer(t)
	importSchema(t, s)

	changes, err := ms.ListChanges(context.Background(), store.ChangeFilter{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, schema.ChangeDocumentImported, changes[0].Type)
}

func TestImportToolMissingParams(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("syncanvas.import", map[string]any{"project_id": "p1", "text": schemaDoc})
	result, err := s.handleImport(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	req = buildRequest("syncanvas.import", map[string]any{"kind": "schema", "project_id": "p1"})
	result, err = s.handleImport(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestImportToolWrongKind(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("syncanvas.import", map[string]any{
		"kind":       "flow",
		"project_id": "p1",
		"text":       schemaDoc,
	})
	result, err := s.handleImport(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), schema.ErrCodeWrongDocumentKind)
}

func TestExportTool(t *testing.T) {
	s, _ := newTestServer(t)
	importSchema(t, s)

	req := buildRequest("syncanvas.export", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
	})
	result, err := s.handleExport(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "users")
}

func TestNodeToolAdd(t *testing.T) {
	s, _ := newTestServer(t)
	importSchema(t, s)

	req := buildRequest("syncanvas.node", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"action":     "add",
		"node": map[string]any{
			"id":   "orders",
			"type": "table",
			"rows": 100,
			"attributes": []any{
				map[string]any{"name": "id", "type": "pk"},
			},
		},
	})
	result, err := s.handleNode(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	assert.Equal(t, float64(3), out["nodes"])
}

func TestNodeToolDelete(t *testing.T) {
	s, _ := newTestServer(t)
	importSchema(t, s)

	req := buildRequest("syncanvas.node", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"action":     "delete",
		"node_ids":   []any{"countries"},
	})
	result, err := s.handleNode(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	assert.Equal(t, float64(1), out["nodes"])
}

func TestNodeToolBadAction(t *testing.T) {
	s, _ := newTestServer(t)
	importSchema(t, s)

	req := buildRequest("syncanvas.node", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"action":     "rename",
	})
	result, err := s.handleNode(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestConnectAndDisconnectTools(t *testing.T) {
	s, _ := newTestServer(t)
	importSchema(t, s)

	addReq := buildRequest("syncanvas.node", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"action":     "add",
		"node": map[string]any{
			"id":   "orders",
			"type": "table",
			"rows": 100,
			"attributes": []any{
				map[string]any{"name": "id", "type": "pk"},
			},
		},
	})
	result, err := s.handleNode(context.Background(), addReq)
	require.NoError(t, err)
	require.False(t, result.IsError)

	conReq := buildRequest("syncanvas.connect", map[string]any{
		"kind":          "schema",
		"project_id":    "p1",
		"source":        "orders",
		"target":        "users",
		"source_handle": "left",
	})
	result, err = s.handleConnect(context.Background(), conReq)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "orders->users")

	disReq := buildRequest("syncanvas.disconnect", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"edge_ids":   []any{"orders->users"},
	})
	result, err = s.handleDisconnect(context.Background(), disReq)
	require.NoError(t, err)
	require.False(t, result.IsError)
}

func TestMoveTool(t *testing.T) {
	s, _ := newTestServer(t)
	importSchema(t, s)

	req := buildRequest("syncanvas.move", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"node_id":    "users",
		"x":          120.5,
		"y":          64.0,
	})
	result, err := s.handleMove(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	// Unknown node.
	req = buildRequest("syncanvas.move", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"node_id":    "ghost",
		"x":          1.0,
		"y":          1.0,
	})
	result, err = s.handleMove(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), schema.ErrCodeNotFound)
}

func TestHistoryTool(t *testing.T) {
	s, _ := newTestServer(t)
	importSchema(t, s)

	addReq := buildRequest("syncanvas.node", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"action":     "add",
		"node": map[string]any{
			"id":   "events",
			"type": "event",
			"rows": 10,
			"attributes": []any{
				map[string]any{"name": "id", "type": "pk"},
			},
		},
	})
	result, err := s.handleNode(context.Background(), addReq)
	require.NoError(t, err)
	require.False(t, result.IsError)

	undoReq := buildRequest("syncanvas.history", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"action":     "undo",
	})
	result, err = s.handleHistory(context.Background(), undoReq)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	assert.Equal(t, true, out["can_redo"])

	// A second undo underflows: import was the baseline.
	result, err = s.handleHistory(context.Background(), undoReq)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), schema.ErrCodeHistoryUnderflow)
}

func TestQueryToolGraph(t *testing.T) {
	s, _ := newTestServer(t)
	importSchema(t, s)

	req := buildRequest("syncanvas.query", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"resource":   "graph",
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "countries")
}

func TestQueryToolWithSelector(t *testing.T) {
	s, _ := newTestServer(t)
	importSchema(t, s)

	req := buildRequest("syncanvas.query", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"resource":   "graph",
		"selector":   "jq: [.graph.nodes[].id]",
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.JSONEq(t, `["countries","users"]`, resultText(t, result))
}

func TestRenderTool(t *testing.T) {
	s, _ := newTestServer(t)
	importSchema(t, s)

	req := buildRequest("syncanvas.render", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"format":     "mermaid",
	})
	result, err := s.handleRender(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "users -->|country_id| countries")

	req = buildRequest("syncanvas.render", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"format":     "dot",
	})
	result, err = s.handleRender(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryToolChanges(t *testing.T) {
	s, _ := newTestServer(t)
	importSchema(t, s)

	req := buildRequest("syncanvas.query", map[string]any{
		"kind":       "schema",
		"project_id": "p1",
		"resource":   "changes",
		"filter":     map[string]any{"type": "document_imported", "limit": 10},
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), schema.ChangeDocumentImported)
}
