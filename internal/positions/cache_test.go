package positions

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateu/syncanvas/internal/store"
	"github.com/dmateu/syncanvas/pkg/schema"
)

// countingStore wraps a Store and counts durable position writes.
type countingStore struct {
	store.Store
	saves    atomic.Int64
	mu       sync.Mutex
	failNext int
}

func (s *countingStore) SavePositions(ctx context.Context, rec *store.PositionRecord) error {
	s.mu.Lock()
	if s.failNext > 0 {
		s.failNext--
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodePersistence, "simulated write failure")
	}
	s.mu.Unlock()
	s.saves.Add(1)
	return s.Store.SavePositions(ctx, rec)
}

func newTestCache(t *testing.T, debounce time.Duration) (*Cache, *countingStore) {
	t.Helper()
	cs := &countingStore{Store: store.NewMemoryStore()}
	c := NewCache(cs, nil, Options{Debounce: debounce})
	t.Cleanup(c.Close)
	return c, cs
}

func TestSetAndGet(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, schema.DiagramSchema, "proj", "users", 120.5, 80))

	pos, ok := c.Get(ctx, schema.DiagramSchema, "proj", "users")
	require.True(t, ok)
	assert.Equal(t, schema.Position{X: 120.5, Y: 80}, pos)

	_, ok = c.Get(ctx, schema.DiagramSchema, "proj", "missing")
	assert.False(t, ok)
}

func TestSet_CoercesNumericTypes(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, schema.DiagramSchema, "proj", "a", 10, int64(20)))
	require.NoError(t, c.Set(ctx, schema.DiagramSchema, "proj", "b", json.Number("1.5"), "2.5"))

	a, _ := c.Get(ctx, schema.DiagramSchema, "proj", "a")
	assert.Equal(t, schema.Position{X: 10, Y: 20}, a)
	b, _ := c.Get(ctx, schema.DiagramSchema, "proj", "b")
	assert.Equal(t, schema.Position{X: 1.5, Y: 2.5}, b)
}

func TestSet_RejectsNonFinite(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	err := c.Set(ctx, schema.DiagramSchema, "proj", "users", "NaN", 0)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrCode(err))

	err = c.Set(ctx, schema.DiagramSchema, "proj", "users", map[string]any{"x": 1}, 0)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrCode(err))

	_, ok := c.Get(ctx, schema.DiagramSchema, "proj", "users")
	assert.False(t, ok)
}

func TestDebouncedFlush_CoalescesWrites(t *testing.T) {
	c, cs := newTestCache(t, 30*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Set(ctx, schema.DiagramSchema, "proj", "users", float64(i*10), float64(i*10)))
	}

	require.Eventually(t, func() bool {
		return cs.saves.Load() == 1
	}, time.Second, 5*time.Millisecond)

	rec, err := cs.Store.LoadPositions(ctx, schema.DiagramSchema, "proj")
	require.NoError(t, err)
	assert.Equal(t, schema.Position{X: 40, Y: 40}, rec.Positions["users"])

	// Quiet period: no further writes happen.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int64(1), cs.saves.Load())
}

func TestGet_LoadsFromDurableTier(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, ms.SavePositions(ctx, &store.PositionRecord{
		Kind:      schema.DiagramFlow,
		ProjectID: "proj",
		Positions: map[string]schema.Position{"create_order": {X: 7, Y: 9}},
	}))

	c := NewCache(ms, nil, Options{Debounce: time.Hour})
	t.Cleanup(c.Close)

	pos, ok := c.Get(ctx, schema.DiagramFlow, "proj", "create_order")
	require.True(t, ok)
	assert.Equal(t, schema.Position{X: 7, Y: 9}, pos)
}

func TestRemove_DropsNodeFromFlush(t *testing.T) {
	c, cs := newTestCache(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, schema.DiagramSchema, "proj", "users", 1, 1))
	require.NoError(t, c.Set(ctx, schema.DiagramSchema, "proj", "orders", 2, 2))
	c.Remove(ctx, schema.DiagramSchema, "proj", "users")

	require.Eventually(t, func() bool {
		return cs.saves.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	rec, err := cs.Store.LoadPositions(ctx, schema.DiagramSchema, "proj")
	require.NoError(t, err)
	assert.NotContains(t, rec.Positions, "users")
	assert.Contains(t, rec.Positions, "orders")
}

func TestEdgeMeta(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	anchors := schema.EdgeAnchors{SourceHandle: "right", TargetHandle: "left"}
	c.SetEdgeMeta(ctx, schema.DiagramSchema, "proj", "orders->users", anchors)

	got, ok := c.GetEdgeMeta(ctx, schema.DiagramSchema, "proj", "orders->users")
	require.True(t, ok)
	assert.Equal(t, anchors, got)

	all := c.GetAllEdgeMeta(ctx, schema.DiagramSchema, "proj")
	assert.Len(t, all, 1)
}

func TestUnload_FlushesImmediately(t *testing.T) {
	c, cs := newTestCache(t, time.Hour) // debounce would never fire on its own
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, schema.DiagramSchema, "proj", "users", 3, 4))
	require.NoError(t, c.Unload(ctx, schema.DiagramSchema, "proj"))

	assert.Equal(t, int64(1), cs.saves.Load())
	rec, err := cs.Store.LoadPositions(ctx, schema.DiagramSchema, "proj")
	require.NoError(t, err)
	assert.Equal(t, schema.Position{X: 3, Y: 4}, rec.Positions["users"])
}

func TestFlush_RetriesOnceOnFailure(t *testing.T) {
	c, cs := newTestCache(t, time.Hour)
	ctx := context.Background()

	cs.mu.Lock()
	cs.failNext = 1
	cs.mu.Unlock()

	require.NoError(t, c.Set(ctx, schema.DiagramSchema, "proj", "users", 5, 6))
	c.Flush(ctx)

	assert.Equal(t, int64(1), cs.saves.Load())
	rec, err := cs.Store.LoadPositions(ctx, schema.DiagramSchema, "proj")
	require.NoError(t, err)
	assert.Equal(t, schema.Position{X: 5, Y: 6}, rec.Positions["users"])
}

func TestRestore_ReplacesLayout(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, schema.DiagramSchema, "proj", "old", 1, 1))

	c.Restore(ctx, schema.DiagramSchema, "proj",
		map[string]schema.Position{"users": {X: 9, Y: 9}},
		map[string]schema.EdgeAnchors{"e1": {SourceHandle: "top"}},
	)

	_, ok := c.Get(ctx, schema.DiagramSchema, "proj", "old")
	assert.False(t, ok)
	pos, ok := c.Get(ctx, schema.DiagramSchema, "proj", "users")
	require.True(t, ok)
	assert.Equal(t, schema.Position{X: 9, Y: 9}, pos)
}

func TestProjectsAreIsolated(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, schema.DiagramSchema, "proj-a", "users", 1, 1))
	require.NoError(t, c.Set(ctx, schema.DiagramSchema, "proj-b", "users", 2, 2))
	require.NoError(t, c.Set(ctx, schema.DiagramFlow, "proj-a", "users", 3, 3))

	a, _ := c.Get(ctx, schema.DiagramSchema, "proj-a", "users")
	b, _ := c.Get(ctx, schema.DiagramSchema, "proj-b", "users")
	f, _ := c.Get(ctx, schema.DiagramFlow, "proj-a", "users")
	assert.Equal(t, 1.0, a.X)
	assert.Equal(t, 2.0, b.X)
	assert.Equal(t, 3.0, f.X)
}

func TestJanitor_PurgesStaleDurableEntries(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, ms.SavePositions(ctx, &store.PositionRecord{
		Kind:      schema.DiagramSchema,
		ProjectID: "stale",
		Positions: map[string]schema.Position{"n": {X: 1, Y: 1}},
		LastSaved: time.Now().UTC().Add(-8 * 24 * time.Hour),
	}))
	require.NoError(t, ms.SavePositions(ctx, &store.PositionRecord{
		Kind:      schema.DiagramSchema,
		ProjectID: "fresh",
		Positions: map[string]schema.Position{"n": {X: 2, Y: 2}},
	}))

	c := NewCache(ms, nil, Options{Debounce: time.Hour})
	t.Cleanup(c.Close)

	j, err := NewJanitor(c, ms, "*/5 * * * *", 7*24*time.Hour, nil)
	require.NoError(t, err)
	j.tick(ctx)

	keys, err := ms.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "fresh", keys[0].ProjectID)
}

func TestJanitor_RejectsBadSchedule(t *testing.T) {
	c, cs := newTestCache(t, time.Hour)
	_, err := NewJanitor(c, cs, "not a cron", 0, nil)
	require.Error(t, err)
}

func TestJanitor_StartStop(t *testing.T) {
	c, cs := newTestCache(t, time.Hour)

	j, err := NewJanitor(c, cs, "0 3 * * *", 0, nil)
	require.NoError(t, err)
	require.NoError(t, j.Start(context.Background()))
	require.Error(t, j.Start(context.Background()))
	require.NoError(t, j.Stop())
	require.NoError(t, j.Stop())
}
