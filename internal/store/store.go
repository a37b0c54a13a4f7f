package store

import (
	"context"
	"time"

	"github.com/dmateu/syncanvas/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Layout positions (durable tier of the position cache)
	SavePositions(ctx context.Context, rec *PositionRecord) error
	LoadPositions(ctx context.Context, kind schema.DiagramKind, projectID string) (*PositionRecord, error)
	DeletePositions(ctx context.Context, kind schema.DiagramKind, projectID string) error
	ListPositions(ctx context.Context) ([]PositionKey, error)
	PurgeStalePositions(ctx context.Context, olderThan time.Time) (int64, error)

	// Serialized documents
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, kind schema.DiagramKind, projectID string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)

	// Change log (append-only)
	AppendChange(ctx context.Context, ch *Change) error
	ListChanges(ctx context.Context, filter ChangeFilter) ([]*Change, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
