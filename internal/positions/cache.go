package positions

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dmateu/syncanvas/internal/store"
	"github.com/dmateu/syncanvas/pkg/schema"
)

const (
	defaultDebounce   = 300 * time.Millisecond
	defaultMaxEntries = 64
	defaultIdleTTL    = 30 * time.Minute
)

// defaultPosition substitutes for coordinates that cannot be read back
// during corruption recovery.
var defaultPosition = schema.Position{X: 0, Y: 0}

// Options tunes the in-memory tier and the durable-write debounce.
// Zero values fall back to defaults.
type Options struct {
	Debounce   time.Duration
	MaxEntries int
	IdleTTL    time.Duration
}

// Cache is the two-tier layout store: an expiring in-memory tier keyed by
// (diagram kind, project), backed by the durable store. Writes are debounced;
// evicted or unloaded entries are flushed first.
type Cache struct {
	store    store.Store
	logger   *slog.Logger
	debounce time.Duration

	mu  sync.Mutex // guards entry creation; entries carry their own lock
	lru *expirable.LRU[string, *projectEntry]
}

// projectEntry is one project's in-memory layout. All fields are guarded by mu.
type projectEntry struct {
	mu        sync.Mutex
	kind      schema.DiagramKind
	projectID string
	positions map[string]schema.Position
	edgeMeta  map[string]schema.EdgeAnchors
	dirty     bool
	timer     *time.Timer
}

// NewCache creates a Cache backed by the given durable store.
func NewCache(st store.Store, logger *slog.Logger, opts Options) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}

	c := &Cache{
		store:    st,
		logger:   logger,
		debounce: opts.Debounce,
	}
	// Idle entries are evicted by TTL or capacity; dirty ones are flushed
	// on the way out.
	c.lru = expirable.NewLRU[string, *projectEntry](opts.MaxEntries, func(_ string, e *projectEntry) {
		c.flushEntry(context.Background(), e)
	}, opts.IdleTTL)
	return c
}

func entryKey(kind schema.DiagramKind, projectID string) string {
	return string(kind) + "/" + projectID
}

// entry returns the in-memory entry for (kind, project), loading it from the
// durable store on first access. A missing or unreadable durable record
// yields an empty entry; persistence failures are never fatal.
func (c *Cache) entry(ctx context.Context, kind schema.DiagramKind, projectID string) *projectEntry {
	key := entryKey(kind, projectID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lru.Get(key); ok {
		c.lru.Add(key, e) // refresh idle expiry
		return e
	}

	e := &projectEntry{
		kind:      kind,
		projectID: projectID,
		positions: make(map[string]schema.Position),
		edgeMeta:  make(map[string]schema.EdgeAnchors),
	}
	rec, err := c.store.LoadPositions(ctx, kind, projectID)
	switch {
	case err == nil:
		for id, pos := range rec.Positions {
			e.positions[id] = pos
		}
		for id, a := range rec.EdgeMetadata {
			e.edgeMeta[id] = a
		}
	case schema.ErrCode(err) != schema.ErrCodeNotFound:
		c.logger.Warn("layout load failed, starting empty",
			slog.String("diagram", string(kind)),
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
	}
	c.lru.Add(key, e)
	return e
}

// Get returns a node's cached position.
func (c *Cache) Get(ctx context.Context, kind schema.DiagramKind, projectID, nodeID string) (schema.Position, bool) {
	e := c.entry(ctx, kind, projectID)
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[nodeID]
	return pos, ok
}

// Set stores a node position. Coordinates are coerced to float64 and copied
// out immediately; NaN and infinities are rejected. The write marks the entry
// dirty and (re)schedules the debounced durable flush.
func (c *Cache) Set(ctx context.Context, kind schema.DiagramKind, projectID, nodeID string, x, y any) error {
	pos, err := coercePosition(x, y)
	if err != nil {
		return err
	}
	e := c.entry(ctx, kind, projectID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[nodeID] = pos
	c.markDirty(e)
	return nil
}

// Remove drops a node's position, typically on node deletion.
func (c *Cache) Remove(ctx context.Context, kind schema.DiagramKind, projectID, nodeID string) {
	e := c.entry(ctx, kind, projectID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.positions[nodeID]; !ok {
		return
	}
	delete(e.positions, nodeID)
	c.markDirty(e)
}

// GetAll returns a copy of the project's position map.
func (c *Cache) GetAll(ctx context.Context, kind schema.DiagramKind, projectID string) map[string]schema.Position {
	e := c.entry(ctx, kind, projectID)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]schema.Position, len(e.positions))
	for id, pos := range e.positions {
		out[id] = pos
	}
	return out
}

// SetEdgeMeta stores anchor metadata for a visual edge.
func (c *Cache) SetEdgeMeta(ctx context.Context, kind schema.DiagramKind, projectID, edgeID string, anchors schema.EdgeAnchors) {
	e := c.entry(ctx, kind, projectID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edgeMeta[edgeID] = anchors
	c.markDirty(e)
}

// GetEdgeMeta returns anchor metadata for a visual edge.
func (c *Cache) GetEdgeMeta(ctx context.Context, kind schema.DiagramKind, projectID, edgeID string) (schema.EdgeAnchors, bool) {
	e := c.entry(ctx, kind, projectID)
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.edgeMeta[edgeID]
	return a, ok
}

// RemoveEdgeMeta drops anchor metadata for a visual edge.
func (c *Cache) RemoveEdgeMeta(ctx context.Context, kind schema.DiagramKind, projectID, edgeID string) {
	e := c.entry(ctx, kind, projectID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.edgeMeta[edgeID]; !ok {
		return
	}
	delete(e.edgeMeta, edgeID)
	c.markDirty(e)
}

// GetAllEdgeMeta returns a copy of the project's edge-anchor map.
func (c *Cache) GetAllEdgeMeta(ctx context.Context, kind schema.DiagramKind, projectID string) map[string]schema.EdgeAnchors {
	e := c.entry(ctx, kind, projectID)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]schema.EdgeAnchors, len(e.edgeMeta))
	for id, a := range e.edgeMeta {
		out[id] = a
	}
	return out
}

// Restore replaces the project's entire layout, used when a history snapshot
// is reapplied. The input maps are copied, never aliased.
func (c *Cache) Restore(ctx context.Context, kind schema.DiagramKind, projectID string, pos map[string]schema.Position, edges map[string]schema.EdgeAnchors) {
	e := c.entry(ctx, kind, projectID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions = make(map[string]schema.Position, len(pos))
	for id, p := range pos {
		e.positions[id] = p
	}
	e.edgeMeta = make(map[string]schema.EdgeAnchors, len(edges))
	for id, a := range edges {
		e.edgeMeta[id] = a
	}
	c.markDirty(e)
}

// Unload flushes the project immediately and drops it from the in-memory tier.
func (c *Cache) Unload(ctx context.Context, kind schema.DiagramKind, projectID string) error {
	key := entryKey(kind, projectID)
	c.mu.Lock()
	e, ok := c.lru.Peek(key)
	if ok {
		c.lru.Remove(key) // eviction callback flushes
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	stillDirty := e.dirty
	e.mu.Unlock()
	if stillDirty {
		return schema.NewErrorf(schema.ErrCodePersistence, "unload flush failed for %s/%s", kind, projectID)
	}
	return nil
}

// Flush writes every dirty entry to the durable store immediately.
func (c *Cache) Flush(ctx context.Context) {
	c.mu.Lock()
	entries := c.lru.Values()
	c.mu.Unlock()
	for _, e := range entries {
		c.flushEntry(ctx, e)
	}
}

// Close flushes all dirty entries and stops pending debounce timers.
func (c *Cache) Close() {
	c.mu.Lock()
	entries := c.lru.Values()
	c.mu.Unlock()
	for _, e := range entries {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.mu.Unlock()
		c.flushEntry(context.Background(), e)
	}
}

// markDirty is called with e.mu held. It arms or resets the debounce timer.
func (c *Cache) markDirty(e *projectEntry) {
	e.dirty = true
	if e.timer != nil {
		e.timer.Reset(c.debounce)
		return
	}
	e.timer = time.AfterFunc(c.debounce, func() {
		c.flushEntry(context.Background(), e)
	})
}

// flushEntry writes one entry to the durable store if it is dirty. A failed
// write triggers corruption recovery: every coordinate is rebuilt through the
// defensive-copy path (unreadable ones replaced with the default position)
// and the write is retried once.
func (c *Cache) flushEntry(ctx context.Context, e *projectEntry) {
	e.mu.Lock()
	if !e.dirty {
		e.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	rec := &store.PositionRecord{
		Kind:      e.kind,
		ProjectID: e.projectID,
		Positions: make(map[string]schema.Position, len(e.positions)),
		LastSaved: time.Now().UTC(),
	}
	for id, pos := range e.positions {
		rec.Positions[id] = pos
	}
	if len(e.edgeMeta) > 0 {
		rec.EdgeMetadata = make(map[string]schema.EdgeAnchors, len(e.edgeMeta))
		for id, a := range e.edgeMeta {
			rec.EdgeMetadata[id] = a
		}
	}
	e.mu.Unlock()

	err := c.store.SavePositions(ctx, rec)
	if err != nil {
		c.logger.Warn("layout flush failed, rebuilding and retrying",
			slog.String("diagram", string(e.kind)),
			slog.String("project_id", e.projectID),
			slog.String("error", err.Error()),
		)
		rebuilt := 0
		for id, pos := range rec.Positions {
			clean, cerr := coercePosition(pos.X, pos.Y)
			if cerr != nil {
				clean = defaultPosition
				rebuilt++
			}
			rec.Positions[id] = clean
		}
		if rebuilt > 0 {
			c.logger.Warn("substituted default coordinates", slog.Int("count", rebuilt))
		}
		err = c.store.SavePositions(ctx, rec)
	}
	if err != nil {
		c.logger.Error("layout flush failed after retry",
			slog.String("diagram", string(e.kind)),
			slog.String("project_id", e.projectID),
			slog.String("error", err.Error()),
		)
		return
	}

	e.mu.Lock()
	e.dirty = false
	e.mu.Unlock()
}

// coercePosition copies raw coordinates into a Position, converting any
// numeric representation to float64 and rejecting NaN and infinities.
func coercePosition(x, y any) (schema.Position, error) {
	fx, err := coerceCoord(x)
	if err != nil {
		return schema.Position{}, err
	}
	fy, err := coerceCoord(y)
	if err != nil {
		return schema.Position{}, err
	}
	return schema.Position{X: fx, Y: fy}, nil
}

func coerceCoord(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, schema.NewErrorf(schema.ErrCodeValidation, "coordinate %q is not numeric", n.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, schema.NewErrorf(schema.ErrCodeValidation, "coordinate %q is not numeric", n)
		}
		f = parsed
	default:
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "coordinate has unsupported type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, schema.NewError(schema.ErrCodeValidation, "coordinate is not a finite number")
	}
	return f, nil
}
