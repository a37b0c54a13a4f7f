package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dmateu/syncanvas/internal/controller"
	"github.com/dmateu/syncanvas/internal/expressions"
	"github.com/dmateu/syncanvas/internal/store"
)

// CanvasServerDeps holds the dependencies for creating a CanvasServer.
type CanvasServerDeps struct {
	Controllers *controller.Registry
	Store       store.Store
	Evaluator   *expressions.Evaluator
	Logger      *slog.Logger
}

// CanvasServer wraps an MCP server with diagram-editing tool handlers.
type CanvasServer struct {
	controllers *controller.Registry
	store       store.Store
	evaluator   *expressions.Evaluator
	logger      *slog.Logger
	mcpServer   *server.MCPServer
}

// NewCanvasServer creates a new CanvasServer with all 9 tools registered.
func NewCanvasServer(deps CanvasServerDeps) *CanvasServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &CanvasServer{
		controllers: deps.Controllers,
		store:       deps.Store,
		evaluator:   deps.Evaluator,
		logger:      logger,
	}

	mcpSrv := server.NewMCPServer(
		"syncanvas",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Syncanvas edits database-schema and event-flow diagrams. Use syncanvas.import/export to move whole documents, syncanvas.node to add/update/delete nodes, syncanvas.connect and syncanvas.disconnect for edges, syncanvas.move for layout, syncanvas.history for undo/redo, and syncanvas.query to inspect the graph, flows, positions, or the change log."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *CanvasServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *CanvasServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *CanvasServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: importTool(), Handler: s.handleImport},
		{Tool: exportTool(), Handler: s.handleExport},
		{Tool: nodeTool(), Handler: s.handleNode},
		{Tool: connectTool(), Handler: s.handleConnect},
		{Tool: disconnectTool(), Handler: s.handleDisconnect},
		{Tool: moveTool(), Handler: s.handleMove},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: renderTool(), Handler: s.handleRender},
	}
}

// --- Tool definitions ---

func importTool() mcp.Tool {
	return mcp.NewTool("syncanvas.import",
		mcp.WithDescription("Import a YAML diagram document, replacing the current model"),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum("schema", "flow"),
			mcp.Description("Diagram kind"),
		),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the diagram belongs to")),
		mcp.WithString("text", mcp.Description("Document text (YAML)")),
		mcp.WithString("path", mcp.Description("Path to a document file (used when text is empty)")),
	)
}

func exportTool() mcp.Tool {
	return mcp.NewTool("syncanvas.export",
		mcp.WithDescription("Export the current model as a YAML document"),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("schema", "flow"), mcp.Description("Diagram kind")),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the diagram belongs to")),
		mcp.WithString("path", mcp.Description("Write the document to this file instead of returning it")),
	)
}

func nodeTool() mcp.Tool {
	return mcp.NewTool("syncanvas.node",
		mcp.WithDescription("Add, update, or delete nodes (entities or steps)"),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("schema", "flow"), mcp.Description("Diagram kind")),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the diagram belongs to")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("add", "update", "delete"),
			mcp.Description("Node operation"),
		),
		mcp.WithObject("node", mcp.Description("Node to add (action=add)")),
		mcp.WithString("node_id", mcp.Description("Target node (action=update)")),
		mcp.WithObject("patch", mcp.Description("Partial update: id, type, rows, config, attributes, next_steps, outcomes (action=update)")),
		mcp.WithArray("node_ids", mcp.Description("Nodes to delete (action=delete)")),
	)
}

func connectTool() mcp.Tool {
	return mcp.NewTool("syncanvas.connect",
		mcp.WithDescription("Connect two nodes, inferring the reference attribute or step link"),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("schema", "flow"), mcp.Description("Diagram kind")),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the diagram belongs to")),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source node id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target node id")),
		mcp.WithString("source_handle", mcp.Description("Anchor on the source node")),
		mcp.WithString("target_handle", mcp.Description("Anchor on the target node")),
	)
}

func disconnectTool() mcp.Tool {
	return mcp.NewTool("syncanvas.disconnect",
		mcp.WithDescription("Remove edges by id (\"source->target\")"),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("schema", "flow"), mcp.Description("Diagram kind")),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the diagram belongs to")),
		mcp.WithArray("edge_ids", mcp.Required(), mcp.Description("Edge ids to remove")),
	)
}

func moveTool() mcp.Tool {
	return mcp.NewTool("syncanvas.move",
		mcp.WithDescription("Move a node on the canvas. Layout only: no history entry and no document change"),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("schema", "flow"), mcp.Description("Diagram kind")),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the diagram belongs to")),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Node to move")),
		mcp.WithNumber("x", mcp.Required(), mcp.Description("New x coordinate")),
		mcp.WithNumber("y", mcp.Required(), mcp.Description("New y coordinate")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("syncanvas.history",
		mcp.WithDescription("Undo or redo the last model edit, restoring the graph and its layout together"),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("schema", "flow"), mcp.Description("Diagram kind")),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the diagram belongs to")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("undo", "redo"),
			mcp.Description("History operation"),
		),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("syncanvas.query",
		mcp.WithDescription("Query the canonical graph, derived flows, cached positions, or the change log"),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("schema", "flow"), mcp.Description("Diagram kind")),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the diagram belongs to")),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("graph", "flows", "positions", "changes"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithString("selector", mcp.Description("Optional expression applied to the result; prefix with jq: or cel: to pick the dialect")),
		mcp.WithObject("filter", mcp.Description("Change-log filter criteria (type, since, limit)")),
	)
}

func renderTool() mcp.Tool {
	return mcp.NewTool("syncanvas.render",
		mcp.WithDescription("Render the diagram. Returns ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("schema", "flow"), mcp.Description("Diagram kind")),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the diagram belongs to")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}
