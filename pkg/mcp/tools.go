package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dmateu/syncanvas/internal/controller"
	"github.com/dmateu/syncanvas/internal/render"
	"github.com/dmateu/syncanvas/internal/store"
	"github.com/dmateu/syncanvas/pkg/schema"
)

// resolve extracts the diagram coordinates every tool carries and returns
// the matching controller.
func (s *CanvasServer) resolve(req mcp.CallToolRequest) (*controller.Controller, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return nil, fmt.Errorf("kind is required")
	}
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return nil, fmt.Errorf("project_id is required")
	}
	return s.controllers.Get(schema.DiagramKind(kind), projectID)
}

// handleImport replaces the current model with a parsed document.
func (s *CanvasServer) handleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	text := req.GetString("text", "")
	path := req.GetString("path", "")
	switch {
	case text != "":
		err = c.Import(ctx, text)
	case path != "":
		err = c.ImportFile(ctx, path)
	default:
		return mcp.NewToolResultError("one of text or path is required"), nil
	}
	if err != nil {
		return toolError("import failed", err), nil
	}
	return marshalResult(graphSummary(c))
}

// handleExport serializes the current model.
func (s *CanvasServer) handleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if path := req.GetString("path", ""); path != "" {
		if err := c.SaveFile(ctx, path); err != nil {
			return toolError("export failed", err), nil
		}
		return marshalResult(map[string]any{"ok": true, "path": path})
	}

	text, err := c.Export(ctx)
	if err != nil {
		return toolError("export failed", err), nil
	}
	return mcp.NewToolResultText(text), nil
}

// handleNode adds, updates, or deletes nodes.
func (s *CanvasServer) handleNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	var g *schema.Graph
	switch action {
	case "add":
		raw := mcp.ParseStringMap(req, "node", nil)
		if raw == nil {
			return mcp.NewToolResultError("node is required for action=add"), nil
		}
		node, decodeErr := decodeNode(raw)
		if decodeErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid node: %v", decodeErr)), nil
		}
		g, err = c.AddNode(ctx, node)

	case "update":
		nodeID := req.GetString("node_id", "")
		if nodeID == "" {
			return mcp.NewToolResultError("node_id is required for action=update"), nil
		}
		patch := mcp.ParseStringMap(req, "patch", nil)
		if len(patch) == 0 {
			return mcp.NewToolResultError("patch is required for action=update"), nil
		}
		g, err = c.UpdateNode(ctx, nodeID, patch)

	case "delete":
		ids := req.GetStringSlice("node_ids", nil)
		if len(ids) == 0 {
			return mcp.NewToolResultError("node_ids is required for action=delete"), nil
		}
		g, err = c.DeleteNodes(ctx, ids)

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}

	if err != nil {
		return toolError("node edit failed", err), nil
	}
	return marshalResult(map[string]any{"ok": true, "nodes": len(g.Nodes)})
}

// handleConnect wires an edge between two nodes.
func (s *CanvasServer) handleConnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError("target is required"), nil
	}

	var anchors *schema.EdgeAnchors
	sh := req.GetString("source_handle", "")
	th := req.GetString("target_handle", "")
	if sh != "" || th != "" {
		anchors = &schema.EdgeAnchors{SourceHandle: sh, TargetHandle: th}
	}

	if _, err := c.Connect(ctx, source, target, anchors); err != nil {
		return toolError("connect failed", err), nil
	}
	return marshalResult(map[string]any{
		"ok":      true,
		"edge_id": controller.EdgeID(source, target),
	})
}

// handleDisconnect removes edges by id.
func (s *CanvasServer) handleDisconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	edgeIDs := req.GetStringSlice("edge_ids", nil)
	if len(edgeIDs) == 0 {
		return mcp.NewToolResultError("edge_ids is required"), nil
	}

	if _, err := c.Disconnect(ctx, edgeIDs); err != nil {
		return toolError("disconnect failed", err), nil
	}
	return marshalResult(map[string]any{"ok": true, "removed": len(edgeIDs)})
}

// handleMove updates one cached node position.
func (s *CanvasServer) handleMove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError("node_id is required"), nil
	}
	x, err := req.RequireFloat("x")
	if err != nil {
		return mcp.NewToolResultError("x is required"), nil
	}
	y, err := req.RequireFloat("y")
	if err != nil {
		return mcp.NewToolResultError("y is required"), nil
	}

	if err := c.MoveNode(ctx, nodeID, x, y); err != nil {
		return toolError("move failed", err), nil
	}
	return marshalResult(map[string]any{"ok": true, "node_id": nodeID})
}

// handleHistory applies one undo or redo step.
func (s *CanvasServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	switch action {
	case "undo":
		_, err = c.Undo(ctx)
	case "redo":
		_, err = c.Redo(ctx)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
	if err != nil {
		return toolError("history failed", err), nil
	}

	return marshalResult(map[string]any{
		"ok":       true,
		"action":   action,
		"can_undo": c.CanUndo(),
		"can_redo": c.CanRedo(),
	})
}

// handleQuery inspects the graph, flows, positions, or change log.
func (s *CanvasServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	var result map[string]any
	switch resource {
	case "graph":
		result = map[string]any{"graph": c.Graph()}
	case "flows":
		result = map[string]any{"flows": c.Flows()}
	case "positions":
		result = map[string]any{"visual": c.Visual()}
	case "changes":
		changes, qerr := s.queryChanges(ctx, req)
		if qerr != nil {
			return toolError("query failed", qerr), nil
		}
		result = map[string]any{"changes": changes}
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}

	if selector := req.GetString("selector", ""); selector != "" {
		return s.applySelector(ctx, selector, result)
	}
	return marshalResult(result)
}

// queryChanges reads the persisted change log with the optional filter.
func (s *CanvasServer) queryChanges(ctx context.Context, req mcp.CallToolRequest) ([]*store.Change, error) {
	filter := mcp.ParseStringMap(req, "filter", nil)
	cf := store.ChangeFilter{
		ProjectID: req.GetString("project_id", ""),
		Limit:     extractInt(filter, "limit", 50),
	}
	if t, ok := filter["type"].(string); ok {
		cf.Type = t
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if ts, err := time.Parse(time.RFC3339, since); err == nil {
			cf.Since = &ts
		}
	}
	return s.store.ListChanges(ctx, cf)
}

// applySelector evaluates a jq/cel/expr selector against the JSON form of
// the query result.
func (s *CanvasServer) applySelector(ctx context.Context, selector string, result map[string]any) (*mcp.CallToolResult, error) {
	if s.evaluator == nil {
		return mcp.NewToolResultError("selector queries are not enabled"), nil
	}

	// Round-trip so the selector sees plain maps and slices, not structs.
	raw, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to decode result: %v", err)), nil
	}

	out, err := s.evaluator.Evaluate(ctx, selector, data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("selector failed: %v", err)), nil
	}
	return marshalResult(out)
}

// handleRender draws the visual graph in the requested format.
func (s *CanvasServer) handleRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}

	model, err := render.Build(c.Visual())
	if err != nil {
		return toolError("render failed", err), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(render.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(render.RenderMermaid(model)), nil
	case "image":
		png, imgErr := render.RenderImage(model)
		if imgErr != nil {
			return toolError("image render failed", imgErr), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format: %s", format)), nil
	}
}

// --- Internal helpers ---

// decodeNode converts a tool-argument map into a canonical node.
func decodeNode(raw map[string]any) (*schema.Node, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var node schema.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// graphSummary builds the compact result returned by mutating tools.
func graphSummary(c *controller.Controller) map[string]any {
	g := c.Graph()
	v := c.Visual()
	return map[string]any{
		"kind":  g.Kind,
		"nodes": len(g.Nodes),
		"edges": len(v.Edges),
	}
}

// toolError renders a failed operation, surfacing the structured error code
// when one is present.
func toolError(prefix string, err error) *mcp.CallToolResult {
	if code := schema.ErrCode(err); code != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s [%s]: %v", prefix, code, err))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return int(n)
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
