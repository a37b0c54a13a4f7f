package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dmateu/syncanvas/internal/codec"
	"github.com/dmateu/syncanvas/internal/history"
	"github.com/dmateu/syncanvas/internal/infer"
	"github.com/dmateu/syncanvas/internal/positions"
	"github.com/dmateu/syncanvas/internal/store"
	"github.com/dmateu/syncanvas/internal/trace"
	"github.com/dmateu/syncanvas/internal/validation"
	"github.com/dmateu/syncanvas/pkg/schema"
)

// Controller owns the canonical graph for one (project, diagram kind) pair
// and keeps the three representations consistent: after every model mutation
// it regenerates the visual graph and the serialized document; external text
// changes flow back through the codec. A single mutex serializes foreground
// mutations against the background debounce and janitor tasks.
type Controller struct {
	projectID string
	kind      schema.DiagramKind
	logger    *slog.Logger

	codec     *codec.Codec
	infer     *infer.Engine
	validator *validation.GraphValidator
	cache     *positions.Cache
	hist      *history.Manager
	store     store.Store

	mu       sync.Mutex
	state    schema.ControllerState
	graph    *schema.Graph
	visual   *VisualGraph
	document string

	// pendingSelfUpdate is the reentrancy token: a self-originated document
	// write arms it, and exactly one subsequent external-change notification
	// is skipped.
	pendingSelfUpdate atomic.Bool

	watcher *Watcher
}

// Config wires a Controller's collaborators. All fields except Logger and
// HistoryDepth are required.
type Config struct {
	ProjectID    string
	Kind         schema.DiagramKind
	Store        store.Store
	Cache        *positions.Cache
	Codec        *codec.Codec
	Infer        *infer.Engine
	Validator    *validation.GraphValidator
	HistoryDepth int
	Logger       *slog.Logger
}

// New creates a Controller with an empty canonical graph.
func New(cfg Config) (*Controller, error) {
	if !cfg.Kind.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown diagram kind %q", cfg.Kind)
	}
	if cfg.ProjectID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "project id is required")
	}
	if cfg.Store == nil || cfg.Cache == nil || cfg.Codec == nil || cfg.Infer == nil || cfg.Validator == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "store, cache, codec, infer and validator are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Controller{
		projectID: cfg.ProjectID,
		kind:      cfg.Kind,
		logger:    cfg.Logger,
		codec:     cfg.Codec,
		infer:     cfg.Infer,
		validator: cfg.Validator,
		cache:     cfg.Cache,
		hist:      history.NewManager(cfg.HistoryDepth),
		store:     cfg.Store,
		state:     schema.StateIdle,
		graph:     schema.NewGraph(cfg.Kind),
	}
	c.regenerate(context.Background())
	return c, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() schema.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Graph returns a deep copy of the canonical model.
func (c *Controller) Graph() *schema.Graph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.Clone()
}

// Visual returns the current derived visual graph.
func (c *Controller) Visual() *VisualGraph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visual
}

// Document returns the current serialized document text.
func (c *Controller) Document() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.document
}

// Flows returns the derived flow views, recomputed from the canonical graph.
func (c *Controller) Flows() []*schema.Flow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return trace.TraceFlows(c.graph)
}

// CanUndo reports whether an undo is available.
func (c *Controller) CanUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hist.CanUndo()
}

// CanRedo reports whether a redo is available.
func (c *Controller) CanRedo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hist.CanRedo()
}

// --- Import / Export ---

// Import parses external document text and replaces the canonical model.
// The history stacks are cleared: the imported document is a fresh baseline.
func (c *Controller) Import(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transition(schema.StateImporting); err != nil {
		return err
	}
	defer func() { c.state = schema.StateIdle }()

	g, err := c.codec.Parse(c.kind, text)
	if err != nil {
		return err
	}
	c.graph = g
	c.hist.Clear()
	c.regenerate(ctx)
	c.recordChange(ctx, schema.ChangeDocumentImported, "", nil)
	return nil
}

// Export serializes the canonical model.
func (c *Controller) Export(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec.Serialize(c.graph)
}

// ImportFile reads and imports a document from disk.
func (c *Controller) ImportFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodePersistence, "read %s: %s", path, err.Error()).WithCause(err)
	}
	return c.Import(ctx, string(data))
}

// SaveFile serializes the canonical model, writes it to disk and persists it
// to the document store. The write arms the reentrancy token so the file
// watcher does not re-import the controller's own output.
func (c *Controller) SaveFile(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transition(schema.StateSaving); err != nil {
		return err
	}
	defer func() { c.state = schema.StateIdle }()

	text, err := c.codec.Serialize(c.graph)
	if err != nil {
		return err
	}

	c.pendingSelfUpdate.Store(true)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		c.pendingSelfUpdate.Store(false)
		return schema.NewErrorf(schema.ErrCodePersistence, "write %s: %s", path, err.Error()).WithCause(err)
	}

	if err := c.store.SaveDocument(ctx, &store.Document{
		ProjectID: c.projectID,
		Kind:      c.kind,
		Body:      text,
	}); err != nil {
		c.logger.Warn("document store save failed", slog.String("error", err.Error()))
	}
	c.document = text
	c.recordChange(ctx, schema.ChangeDocumentSaved, "", nil)
	return nil
}

// HandleExternalChange feeds an externally observed document change into the
// controller. A change caused by the controller's own save is skipped exactly
// once; everything else is imported.
func (c *Controller) HandleExternalChange(ctx context.Context, text string) error {
	if c.pendingSelfUpdate.CompareAndSwap(true, false) {
		c.logger.Debug("skipping self-originated document change",
			slog.String("project_id", c.projectID))
		return nil
	}
	return c.Import(ctx, text)
}

// --- Node edits ---

// mutate runs one gated, all-or-nothing model mutation. fn receives the live
// graph and must return a new graph without touching its input; returning the
// input unchanged marks the operation as an idempotent no-op. On success the
// prior state is snapshotted, the result committed, and every derived
// artifact regenerated.
func (c *Controller) mutate(ctx context.Context, action schema.HistoryAction, changeType, nodeID string, payload any, fn func(g *schema.Graph) (*schema.Graph, error)) (*schema.Graph, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transition(schema.StateEditing); err != nil {
		return nil, err
	}
	defer func() { c.state = schema.StateIdle }()

	next, err := fn(c.graph)
	if err != nil {
		return nil, err
	}
	if next == c.graph {
		return c.graph.Clone(), nil
	}
	if verr := c.validator.ValidateGraph(next).ToError(); verr != nil {
		return nil, verr
	}

	c.hist.Push(action, c.graph,
		c.cache.GetAll(ctx, c.kind, c.projectID),
		c.cache.GetAllEdgeMeta(ctx, c.kind, c.projectID))
	c.graph = next
	c.regenerate(ctx)
	c.recordChange(ctx, changeType, nodeID, payload)
	return c.graph.Clone(), nil
}

// AddNode appends a new node to the canonical model.
func (c *Controller) AddNode(ctx context.Context, node *schema.Node) (*schema.Graph, error) {
	if node == nil || node.ID == "" {
		return nil, schema.NewError(schema.ErrCodeInvalidNode, "node id is required")
	}
	return c.mutate(ctx, schema.ActionAdd, schema.ChangeNodeAdded, node.ID, nil, func(g *schema.Graph) (*schema.Graph, error) {
		if g.Node(node.ID) != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidNode, "node %q already exists", node.ID).WithNode(node.ID)
		}
		next := g.Clone()
		n := node.Clone()
		n.Kind = c.kind
		n.SortAttributes()
		next.Nodes = append(next.Nodes, n)
		return next, nil
	})
}

// UpdateNode applies a partial patch to one node. Recognized keys: "id"
// (rename, rewriting every inbound reference), "type", "rows", "config"
// (merged), "attributes", "next_steps", "outcomes" (replaced).
func (c *Controller) UpdateNode(ctx context.Context, id string, patch map[string]any) (*schema.Graph, error) {
	changedID := id
	changeType := schema.ChangeNodeUpdated
	var payload any
	if raw, ok := patch["id"].(string); ok && raw != "" && raw != id {
		changedID = raw
		changeType = schema.ChangeNodeRenamed
		payload = map[string]any{"from": id}
	}
	return c.mutate(ctx, schema.ActionUpdate, changeType, changedID, payload, func(g *schema.Graph) (*schema.Graph, error) {
		if g.Node(id) == nil {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", id).WithNode(id)
		}
		next := g.Clone()
		if err := applyPatch(next, id, patch); err != nil {
			return nil, err
		}
		return next, nil
	})
}

// DeleteNodes removes nodes and cascades the cleanup of every reference that
// pointed at them. Their cached positions are dropped as well.
func (c *Controller) DeleteNodes(ctx context.Context, ids []string) (*schema.Graph, error) {
	g, err := c.mutate(ctx, schema.ActionDelete, schema.ChangeNodesDeleted, "", map[string]any{"ids": ids}, func(g *schema.Graph) (*schema.Graph, error) {
		next, _, err := c.infer.DeleteNodes(g, ids)
		if err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		c.cache.Remove(ctx, c.kind, c.projectID, id)
	}
	c.dropEdgeMetaFor(ctx, ids)
	return g, nil
}

// Connect adds the relationship edge between two nodes, deriving the
// attribute- or step-level edits through the inference engine.
func (c *Controller) Connect(ctx context.Context, sourceID, targetID string, anchors *schema.EdgeAnchors) (*schema.Graph, error) {
	g, err := c.mutate(ctx, schema.ActionUpdate, schema.ChangeEdgeConnected, sourceID,
		map[string]any{"source": sourceID, "target": targetID},
		func(g *schema.Graph) (*schema.Graph, error) {
			return c.infer.Connect(g, sourceID, targetID)
		})
	if err != nil {
		return nil, err
	}
	if anchors != nil {
		c.cache.SetEdgeMeta(ctx, c.kind, c.projectID, EdgeID(sourceID, targetID), *anchors)
		c.mu.Lock()
		c.refreshVisual(ctx)
		c.mu.Unlock()
	}
	return g, nil
}

// Disconnect removes the given edges and their cached anchor metadata.
func (c *Controller) Disconnect(ctx context.Context, edgeIDs []string) (*schema.Graph, error) {
	type pair struct{ source, target string }
	pairs := make([]pair, 0, len(edgeIDs))
	for _, id := range edgeIDs {
		s, t, ok := SplitEdgeID(id)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidConnection, "malformed edge id %q", id)
		}
		pairs = append(pairs, pair{s, t})
	}

	g, err := c.mutate(ctx, schema.ActionUpdate, schema.ChangeEdgeDisconnected, "",
		map[string]any{"edges": edgeIDs},
		func(g *schema.Graph) (*schema.Graph, error) {
			next := g
			for _, p := range pairs {
				var err error
				next, err = c.infer.Disconnect(next, p.source, p.target)
				if err != nil {
					return nil, err
				}
			}
			return next, nil
		})
	if err != nil {
		return nil, err
	}
	for _, id := range edgeIDs {
		c.cache.RemoveEdgeMeta(ctx, c.kind, c.projectID, id)
	}
	return g, nil
}

// MoveNode updates only a node's cached position. No history snapshot and no
// document regeneration: layout is view state, not model state.
func (c *Controller) MoveNode(ctx context.Context, id string, x, y any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph.Node(id) == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", id).WithNode(id)
	}
	if err := c.cache.Set(ctx, c.kind, c.projectID, id, x, y); err != nil {
		return err
	}
	c.visual = buildVisualGraph(c.graph,
		c.cache.GetAll(ctx, c.kind, c.projectID),
		c.cache.GetAllEdgeMeta(ctx, c.kind, c.projectID))
	return nil
}

// --- Undo / Redo ---

// Undo restores the most recent past snapshot: canonical graph and layout
// together, with every derived artifact regenerated from the restored model.
func (c *Controller) Undo(ctx context.Context) (*schema.Graph, error) {
	return c.replay(ctx, schema.ChangeUndoApplied, func(pos map[string]schema.Position, edges map[string]schema.EdgeAnchors) (*history.Snapshot, error) {
		return c.hist.Undo(schema.ActionUpdate, c.graph, pos, edges)
	})
}

// Redo reapplies the most recently undone snapshot.
func (c *Controller) Redo(ctx context.Context) (*schema.Graph, error) {
	return c.replay(ctx, schema.ChangeRedoApplied, func(pos map[string]schema.Position, edges map[string]schema.EdgeAnchors) (*history.Snapshot, error) {
		return c.hist.Redo(schema.ActionUpdate, c.graph, pos, edges)
	})
}

func (c *Controller) replay(ctx context.Context, changeType string, swap func(pos map[string]schema.Position, edges map[string]schema.EdgeAnchors) (*history.Snapshot, error)) (*schema.Graph, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transition(schema.StateEditing); err != nil {
		return nil, err
	}
	defer func() { c.state = schema.StateIdle }()

	snap, err := swap(
		c.cache.GetAll(ctx, c.kind, c.projectID),
		c.cache.GetAllEdgeMeta(ctx, c.kind, c.projectID))
	if err != nil {
		return nil, err
	}

	c.graph = snap.Graph.Clone()
	c.cache.Restore(ctx, c.kind, c.projectID, snap.Positions, snap.EdgeMeta)
	c.regenerate(ctx)
	c.recordChange(ctx, changeType, "", nil)
	return c.graph.Clone(), nil
}

// --- File watching ---

// Watch starts a file watcher that feeds external changes to path through
// HandleExternalChange.
func (c *Controller) Watch(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		return schema.NewError(schema.ErrCodeValidation, "watcher already running")
	}
	w, err := NewWatcher(path, c.HandleExternalChange, c.logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	c.watcher = w
	return nil
}

// Close stops the watcher and flushes this project's layout.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if w != nil {
		w.Stop()
	}
	return c.cache.Unload(ctx, c.kind, c.projectID)
}

// --- internals ---

// regenerate rebuilds every derived artifact from the canonical model.
// Callers hold c.mu.
func (c *Controller) regenerate(ctx context.Context) {
	c.refreshVisual(ctx)
	text, err := c.codec.Serialize(c.graph)
	if err != nil {
		// Leave the previous document in place; the model itself is intact.
		c.logger.Error("document regeneration failed", slog.String("error", err.Error()))
		return
	}
	c.document = text
}

func (c *Controller) refreshVisual(ctx context.Context) {
	c.visual = buildVisualGraph(c.graph,
		c.cache.GetAll(ctx, c.kind, c.projectID),
		c.cache.GetAllEdgeMeta(ctx, c.kind, c.projectID))
}

func (c *Controller) dropEdgeMetaFor(ctx context.Context, ids []string) {
	deleted := make(map[string]bool, len(ids))
	for _, id := range ids {
		deleted[id] = true
	}
	for edgeID := range c.cache.GetAllEdgeMeta(ctx, c.kind, c.projectID) {
		if s, t, ok := SplitEdgeID(edgeID); ok && (deleted[s] || deleted[t]) {
			c.cache.RemoveEdgeMeta(ctx, c.kind, c.projectID, edgeID)
		}
	}
}

// recordChange appends to the store change log. Best effort: a logging
// failure never fails the mutation itself.
func (c *Controller) recordChange(ctx context.Context, changeType, nodeID string, payload any) {
	ch := &store.Change{
		ProjectID: c.projectID,
		NodeID:    nodeID,
		Type:      changeType,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			ch.Payload = raw
		}
	}
	if err := c.store.AppendChange(ctx, ch); err != nil {
		c.logger.Warn("change log append failed",
			slog.String("type", changeType),
			slog.String("error", err.Error()))
	}
}

// applyPatch mutates one node of the working graph in place.
func applyPatch(g *schema.Graph, id string, patch map[string]any) error {
	node := g.Node(id)
	for key, value := range patch {
		switch key {
		case "id":
			newID, ok := value.(string)
			if !ok || newID == "" {
				return schema.NewError(schema.ErrCodeInvalidNode, "id must be a non-empty string").WithNode(id)
			}
			if !g.Rename(id, newID) {
				return schema.NewErrorf(schema.ErrCodeInvalidNode, "cannot rename %q to %q", id, newID).WithNode(id)
			}
		case "type", "step_type":
			t, ok := value.(string)
			if !ok {
				return schema.NewErrorf(schema.ErrCodeInvalidNode, "%s must be a string", key).WithNode(node.ID)
			}
			node.Type = t
		case "rows":
			switch n := value.(type) {
			case int:
				node.Rows = n
			case float64:
				node.Rows = int(n)
			default:
				return schema.NewError(schema.ErrCodeInvalidNode, "rows must be numeric").WithNode(node.ID)
			}
		case "config":
			m, ok := value.(map[string]any)
			if !ok {
				return schema.NewError(schema.ErrCodeInvalidNode, "config must be a mapping").WithNode(node.ID)
			}
			if node.Config == nil {
				node.Config = make(map[string]any, len(m))
			}
			for k, v := range m {
				node.Config[k] = v
			}
		case "attributes":
			var attrs []*schema.Attribute
			if err := reencode(value, &attrs); err != nil {
				return schema.NewErrorf(schema.ErrCodeInvalidNode, "attributes: %s", err.Error()).WithNode(node.ID)
			}
			node.Attributes = attrs
			node.SortAttributes()
		case "next_steps":
			var next []string
			if err := reencode(value, &next); err != nil {
				return schema.NewErrorf(schema.ErrCodeInvalidNode, "next_steps: %s", err.Error()).WithNode(node.ID)
			}
			node.NextSteps = next
		case "outcomes":
			var outcomes []*schema.Outcome
			if err := reencode(value, &outcomes); err != nil {
				return schema.NewErrorf(schema.ErrCodeInvalidNode, "outcomes: %s", err.Error()).WithNode(node.ID)
			}
			node.Outcomes = outcomes
			node.RebalanceOutcomes()
		default:
			return schema.NewErrorf(schema.ErrCodeInvalidNode, "unknown patch field %q", key).WithNode(node.ID)
		}
	}
	return nil
}

// reencode converts loosely-typed patch values (JSON/YAML maps) into typed
// structures via a JSON round-trip.
func reencode(value any, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
