package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmateu/syncanvas/pkg/schema"
)

// DefaultDepth is the maximum number of entries kept on each stack.
const DefaultDepth = 20

// Snapshot is one immutable capture of the synchronized state: the canonical
// graph plus the layout that belongs to it. Snapshots hold deep clones, never
// live references.
type Snapshot struct {
	ID        string
	Action    schema.HistoryAction
	Timestamp time.Time
	Graph     *schema.Graph
	Positions map[string]schema.Position
	EdgeMeta  map[string]schema.EdgeAnchors
}

// Manager keeps two bounded stacks of snapshots. Pushing a new snapshot
// clears the redo stack; exceeding the depth cap evicts the oldest entry.
// Manager is not safe for concurrent use; the controller serializes access.
type Manager struct {
	depth  int
	past   []*Snapshot
	future []*Snapshot
}

// NewManager creates a Manager with the given depth cap (DefaultDepth if <= 0).
func NewManager(depth int) *Manager {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Manager{depth: depth}
}

// capture deep-copies the live state into an immutable snapshot.
func capture(action schema.HistoryAction, g *schema.Graph, pos map[string]schema.Position, edges map[string]schema.EdgeAnchors) *Snapshot {
	s := &Snapshot{
		ID:        uuid.New().String(),
		Action:    action,
		Timestamp: time.Now().UTC(),
		Graph:     g.Clone(),
		Positions: make(map[string]schema.Position, len(pos)),
	}
	for id, p := range pos {
		s.Positions[id] = p
	}
	if len(edges) > 0 {
		s.EdgeMeta = make(map[string]schema.EdgeAnchors, len(edges))
		for id, a := range edges {
			s.EdgeMeta[id] = a
		}
	}
	return s
}

// Push records the current live state on the past stack before a mutation.
// The future stack is cleared: a new edit invalidates anything undone.
func (m *Manager) Push(action schema.HistoryAction, g *schema.Graph, pos map[string]schema.Position, edges map[string]schema.EdgeAnchors) {
	m.past = append(m.past, capture(action, g, pos, edges))
	if len(m.past) > m.depth {
		m.past = m.past[len(m.past)-m.depth:]
	}
	m.future = nil
}

// Undo moves the live state onto the future stack and returns the most
// recent past snapshot. Fails with HISTORY_UNDERFLOW when nothing is left.
func (m *Manager) Undo(liveAction schema.HistoryAction, g *schema.Graph, pos map[string]schema.Position, edges map[string]schema.EdgeAnchors) (*Snapshot, error) {
	if len(m.past) == 0 {
		return nil, schema.NewError(schema.ErrCodeHistoryUnderflow, "nothing to undo")
	}
	m.future = append(m.future, capture(liveAction, g, pos, edges))
	if len(m.future) > m.depth {
		m.future = m.future[len(m.future)-m.depth:]
	}
	top := m.past[len(m.past)-1]
	m.past = m.past[:len(m.past)-1]
	return top, nil
}

// Redo is the mirror of Undo, replaying from the future stack.
func (m *Manager) Redo(liveAction schema.HistoryAction, g *schema.Graph, pos map[string]schema.Position, edges map[string]schema.EdgeAnchors) (*Snapshot, error) {
	if len(m.future) == 0 {
		return nil, schema.NewError(schema.ErrCodeHistoryUnderflow, "nothing to redo")
	}
	m.past = append(m.past, capture(liveAction, g, pos, edges))
	if len(m.past) > m.depth {
		m.past = m.past[len(m.past)-m.depth:]
	}
	top := m.future[len(m.future)-1]
	m.future = m.future[:len(m.future)-1]
	return top, nil
}

// CanUndo reports whether the past stack is non-empty.
func (m *Manager) CanUndo() bool { return len(m.past) > 0 }

// CanRedo reports whether the future stack is non-empty.
func (m *Manager) CanRedo() bool { return len(m.future) > 0 }

// PastLen returns the current past-stack depth.
func (m *Manager) PastLen() int { return len(m.past) }

// FutureLen returns the current future-stack depth.
func (m *Manager) FutureLen() int { return len(m.future) }

// Clear drops both stacks, used when a fresh document is imported.
func (m *Manager) Clear() {
	m.past = nil
	m.future = nil
}
