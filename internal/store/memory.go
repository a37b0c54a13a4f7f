package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmateu/syncanvas/pkg/schema"
)

// MemoryStore is an in-memory Store used by tests and by callers that do not
// need durability across restarts. It mirrors the libSQL semantics, including
// not-found errors and per-project change sequences.
type MemoryStore struct {
	mu        sync.RWMutex
	layouts   map[string]*PositionRecord
	documents map[string]*Document
	changes   []*Change
	nextID    int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		layouts:   make(map[string]*PositionRecord),
		documents: make(map[string]*Document),
	}
}

func layoutKey(kind schema.DiagramKind, projectID string) string {
	return string(kind) + "/" + projectID
}

func (s *MemoryStore) SavePositions(_ context.Context, rec *PositionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clonePositionRecord(rec)
	cp.LastSaved = timeOrNow(rec.LastSaved)
	rec.LastSaved = cp.LastSaved
	s.layouts[layoutKey(rec.Kind, rec.ProjectID)] = cp
	return nil
}

func (s *MemoryStore) LoadPositions(_ context.Context, kind schema.DiagramKind, projectID string) (*PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.layouts[layoutKey(kind, projectID)]
	if !ok {
		return nil, storeNotFound("layout", layoutKey(kind, projectID))
	}
	return clonePositionRecord(rec), nil
}

func (s *MemoryStore) DeletePositions(_ context.Context, kind schema.DiagramKind, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := layoutKey(kind, projectID)
	if _, ok := s.layouts[key]; !ok {
		return storeNotFound("layout", key)
	}
	delete(s.layouts, key)
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]PositionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]PositionKey, 0, len(s.layouts))
	for _, rec := range s.layouts {
		keys = append(keys, PositionKey{Kind: rec.Kind, ProjectID: rec.ProjectID, LastSaved: rec.LastSaved})
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].ProjectID < keys[j].ProjectID
	})
	return keys, nil
}

func (s *MemoryStore) PurgeStalePositions(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for key, rec := range s.layouts {
		if rec.LastSaved.Before(olderThan) {
			delete(s.layouts, key)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) SaveDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	cp.UpdatedAt = timeOrNow(doc.UpdatedAt)
	s.documents[doc.ProjectID+"/"+string(doc.Kind)] = &cp
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, kind schema.DiagramKind, projectID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[projectID+"/"+string(kind)]
	if !ok {
		return nil, storeNotFound("document", projectID+"/"+string(kind))
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]*Document, 0, len(s.documents))
	for _, d := range s.documents {
		cp := *d
		docs = append(docs, &cp)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].ProjectID != docs[j].ProjectID {
			return docs[i].ProjectID < docs[j].ProjectID
		}
		return docs[i].Kind < docs[j].Kind
	})
	return docs, nil
}

func (s *MemoryStore) AppendChange(_ context.Context, ch *Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var seq int64
	for _, c := range s.changes {
		if c.ProjectID == ch.ProjectID && c.Sequence > seq {
			seq = c.Sequence
		}
	}
	s.nextID++
	ch.ID = s.nextID
	ch.Sequence = seq + 1
	ch.Timestamp = timeOrNow(ch.Timestamp)
	cp := *ch
	s.changes = append(s.changes, &cp)
	return nil
}

func (s *MemoryStore) ListChanges(_ context.Context, filter ChangeFilter) ([]*Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Change
	for i := len(s.changes) - 1; i >= 0; i-- {
		c := s.changes[i]
		if filter.ProjectID != "" && c.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Type != "" && c.Type != filter.Type {
			continue
		}
		if filter.Since != nil && c.Timestamp.Before(*filter.Since) {
			continue
		}
		cp := *c
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Vacuum(context.Context) error  { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func clonePositionRecord(rec *PositionRecord) *PositionRecord {
	cp := &PositionRecord{
		Kind:      rec.Kind,
		ProjectID: rec.ProjectID,
		LastSaved: rec.LastSaved,
		Positions: make(map[string]schema.Position, len(rec.Positions)),
	}
	for id, pos := range rec.Positions {
		cp.Positions[id] = pos
	}
	if len(rec.EdgeMetadata) > 0 {
		cp.EdgeMetadata = make(map[string]schema.EdgeAnchors, len(rec.EdgeMetadata))
		for id, a := range rec.EdgeMetadata {
			cp.EdgeMetadata[id] = a
		}
	}
	return cp
}
