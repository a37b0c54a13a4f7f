package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateu/syncanvas/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func sampleLayout(projectID string) *PositionRecord {
	return &PositionRecord{
		Kind:      schema.DiagramSchema,
		ProjectID: projectID,
		Positions: map[string]schema.Position{
			"users":  {X: 120, Y: 80},
			"orders": {X: 340, Y: 80},
		},
		EdgeMetadata: map[string]schema.EdgeAnchors{
			"orders->users": {SourceHandle: "left", TargetHandle: "right"},
		},
	}
}

// --- Layout Tests ---

func TestSaveAndLoadPositions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleLayout("proj-1")
	require.NoError(t, s.SavePositions(ctx, rec))

	got, err := s.LoadPositions(ctx, schema.DiagramSchema, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Positions, got.Positions)
	assert.Equal(t, rec.EdgeMetadata, got.EdgeMetadata)
	assert.False(t, got.LastSaved.IsZero())
}

func TestSavePositions_Overwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleLayout("proj-1")
	require.NoError(t, s.SavePositions(ctx, rec))

	rec.Positions["users"] = schema.Position{X: 500, Y: 500}
	require.NoError(t, s.SavePositions(ctx, rec))

	got, err := s.LoadPositions(ctx, schema.DiagramSchema, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, schema.Position{X: 500, Y: 500}, got.Positions["users"])
}

func TestLoadPositions_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadPositions(context.Background(), schema.DiagramFlow, "missing")
	require.Error(t, err)
	syncErr, ok := err.(*schema.SyncError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, syncErr.Code)
}

func TestPositions_KindsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleLayout("proj-1")
	require.NoError(t, s.SavePositions(ctx, rec))

	flowRec := &PositionRecord{
		Kind:      schema.DiagramFlow,
		ProjectID: "proj-1",
		Positions: map[string]schema.Position{"create_order": {X: 10, Y: 10}},
	}
	require.NoError(t, s.SavePositions(ctx, flowRec))

	gotSchema, err := s.LoadPositions(ctx, schema.DiagramSchema, "proj-1")
	require.NoError(t, err)
	gotFlow, err := s.LoadPositions(ctx, schema.DiagramFlow, "proj-1")
	require.NoError(t, err)
	assert.Contains(t, gotSchema.Positions, "users")
	assert.Contains(t, gotFlow.Positions, "create_order")
	assert.NotContains(t, gotFlow.Positions, "users")
}

func TestDeletePositions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePositions(ctx, sampleLayout("proj-1")))
	require.NoError(t, s.DeletePositions(ctx, schema.DiagramSchema, "proj-1"))

	_, err := s.LoadPositions(ctx, schema.DiagramSchema, "proj-1")
	require.Error(t, err)

	err = s.DeletePositions(ctx, schema.DiagramSchema, "proj-1")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrCode(err))
}

func TestPurgeStalePositions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := sampleLayout("old-proj")
	old.LastSaved = time.Now().UTC().Add(-30 * 24 * time.Hour)
	require.NoError(t, s.SavePositions(ctx, old))

	fresh := sampleLayout("fresh-proj")
	require.NoError(t, s.SavePositions(ctx, fresh))

	purged, err := s.PurgeStalePositions(ctx, time.Now().UTC().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	keys, err := s.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "fresh-proj", keys[0].ProjectID)
}

// --- Document Tests ---

func TestSaveAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &Document{ProjectID: "proj-1", Kind: schema.DiagramSchema, Body: "entities: []\n"}
	require.NoError(t, s.SaveDocument(ctx, doc))

	got, err := s.GetDocument(ctx, schema.DiagramSchema, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Body, got.Body)
	assert.False(t, got.UpdatedAt.IsZero())

	doc.Body = "entities:\n  - name: users\n    rows: 10\n"
	require.NoError(t, s.SaveDocument(ctx, doc))
	got, err = s.GetDocument(ctx, schema.DiagramSchema, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Body, got.Body)
}

func TestGetDocument_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDocument(context.Background(), schema.DiagramFlow, "nope")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrCode(err))
}

// --- Change Log Tests ---

func TestAppendChange_SequencePerProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ch := &Change{ProjectID: "proj-a", NodeID: "users", Type: schema.ChangeNodeUpdated}
		require.NoError(t, s.AppendChange(ctx, ch))
		assert.Equal(t, int64(i+1), ch.Sequence)
	}

	chB := &Change{ProjectID: "proj-b", Type: schema.ChangeDocumentImported}
	require.NoError(t, s.AppendChange(ctx, chB))
	assert.Equal(t, int64(1), chB.Sequence)
}

func TestListChanges_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendChange(ctx, &Change{ProjectID: "proj-a", NodeID: "users", Type: schema.ChangeNodeAdded}))
	require.NoError(t, s.AppendChange(ctx, &Change{ProjectID: "proj-a", NodeID: "orders", Type: schema.ChangeNodeAdded}))
	require.NoError(t, s.AppendChange(ctx, &Change{
		ProjectID: "proj-a",
		Type:      schema.ChangeEdgeConnected,
		Payload:   json.RawMessage(`{"source":"orders","target":"users"}`),
	}))

	byType, err := s.ListChanges(ctx, ChangeFilter{ProjectID: "proj-a", Type: schema.ChangeNodeAdded})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	limited, err := s.ListChanges(ctx, ChangeFilter{ProjectID: "proj-a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, schema.ChangeEdgeConnected, limited[0].Type)
	assert.JSONEq(t, `{"source":"orders","target":"users"}`, string(limited[0].Payload))
}

// --- Payload Codec Tests ---

func TestPositionPayload_RoundTrip(t *testing.T) {
	rec := sampleLayout("proj-1")
	rec.LastSaved = time.UnixMilli(1756200000000).UTC()

	data, err := EncodePositionPayload(rec)
	require.NoError(t, err)

	var decoded PositionRecord
	require.NoError(t, DecodePositionPayload(data, &decoded))
	assert.Equal(t, rec.Positions, decoded.Positions)
	assert.Equal(t, rec.EdgeMetadata, decoded.EdgeMetadata)
	assert.Equal(t, rec.LastSaved, decoded.LastSaved)
}

func TestPositionPayload_Shape(t *testing.T) {
	rec := &PositionRecord{
		Kind:      schema.DiagramSchema,
		ProjectID: "proj-1",
		Positions: map[string]schema.Position{"users": {X: 1, Y: 2}},
		LastSaved: time.UnixMilli(1756200000000).UTC(),
	}
	data, err := EncodePositionPayload(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"positions":[["users",{"x":1,"y":2}]],"lastSaved":1756200000000}`, string(data))
}

func TestPositionPayload_Deterministic(t *testing.T) {
	rec := sampleLayout("proj-1")
	rec.LastSaved = time.UnixMilli(1756200000000).UTC()

	a, err := EncodePositionPayload(rec)
	require.NoError(t, err)
	b, err := EncodePositionPayload(rec)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
