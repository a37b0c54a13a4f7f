package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dmateu/syncanvas/pkg/schema"
)

// PositionRecord is one durable layout snapshot, keyed by diagram kind and project.
type PositionRecord struct {
	Kind         schema.DiagramKind             `json:"kind"`
	ProjectID    string                         `json:"project_id"`
	Positions    map[string]schema.Position     `json:"positions"`
	EdgeMetadata map[string]schema.EdgeAnchors  `json:"edge_metadata,omitempty"`
	LastSaved    time.Time                      `json:"last_saved"`
}

// PositionKey identifies a stored layout without its payload.
type PositionKey struct {
	Kind      schema.DiagramKind `json:"kind"`
	ProjectID string             `json:"project_id"`
	LastSaved time.Time          `json:"last_saved"`
}

// Document is a serialized diagram document as last saved or imported.
type Document struct {
	ProjectID string             `json:"project_id"`
	Kind      schema.DiagramKind `json:"kind"`
	Body      string             `json:"body"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Change is one append-only change-log entry.
type Change struct {
	ID        int64           `json:"id"`
	ProjectID string          `json:"project_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ChangeFilter narrows ListChanges queries.
type ChangeFilter struct {
	ProjectID string
	Type      string
	Since     *time.Time
	Limit     int
}

// positionPayload is the on-disk JSON shape of a layout record. Positions and
// edge metadata are stored as [key, value] pairs sorted by key so the payload
// is byte-stable across saves of the same layout.
type positionPayload struct {
	Positions    []positionEntry `json:"positions"`
	EdgeMetadata []edgeEntry     `json:"edgeMetadata,omitempty"`
	LastSaved    int64           `json:"lastSaved"`
}

type positionEntry struct {
	NodeID   string
	Position schema.Position
}

func (e positionEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.NodeID, e.Position})
}

func (e *positionEntry) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("position entry: %w", err)
	}
	if err := json.Unmarshal(raw[0], &e.NodeID); err != nil {
		return fmt.Errorf("position entry key: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Position); err != nil {
		return fmt.Errorf("position entry value: %w", err)
	}
	return nil
}

type edgeEntry struct {
	EdgeID  string
	Anchors schema.EdgeAnchors
}

func (e edgeEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.EdgeID, e.Anchors})
}

func (e *edgeEntry) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("edge entry: %w", err)
	}
	if err := json.Unmarshal(raw[0], &e.EdgeID); err != nil {
		return fmt.Errorf("edge entry key: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Anchors); err != nil {
		return fmt.Errorf("edge entry value: %w", err)
	}
	return nil
}

// EncodePositionPayload serializes a record's layout data to the durable JSON shape.
func EncodePositionPayload(rec *PositionRecord) ([]byte, error) {
	p := positionPayload{
		Positions: make([]positionEntry, 0, len(rec.Positions)),
		LastSaved: rec.LastSaved.UnixMilli(),
	}
	for id, pos := range rec.Positions {
		p.Positions = append(p.Positions, positionEntry{NodeID: id, Position: pos})
	}
	sort.Slice(p.Positions, func(i, j int) bool { return p.Positions[i].NodeID < p.Positions[j].NodeID })
	if len(rec.EdgeMetadata) > 0 {
		p.EdgeMetadata = make([]edgeEntry, 0, len(rec.EdgeMetadata))
		for id, a := range rec.EdgeMetadata {
			p.EdgeMetadata = append(p.EdgeMetadata, edgeEntry{EdgeID: id, Anchors: a})
		}
		sort.Slice(p.EdgeMetadata, func(i, j int) bool { return p.EdgeMetadata[i].EdgeID < p.EdgeMetadata[j].EdgeID })
	}
	return json.Marshal(p)
}

// DecodePositionPayload parses the durable JSON shape back into maps.
func DecodePositionPayload(data []byte, rec *PositionRecord) error {
	var p positionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode layout payload: %w", err)
	}
	rec.Positions = make(map[string]schema.Position, len(p.Positions))
	for _, e := range p.Positions {
		rec.Positions[e.NodeID] = e.Position
	}
	if len(p.EdgeMetadata) > 0 {
		rec.EdgeMetadata = make(map[string]schema.EdgeAnchors, len(p.EdgeMetadata))
		for _, e := range p.EdgeMetadata {
			rec.EdgeMetadata[e.EdgeID] = e.Anchors
		}
	}
	rec.LastSaved = time.UnixMilli(p.LastSaved).UTC()
	return nil
}
