package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/dmateu/syncanvas/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Layout positions ---

func (s *LibSQLStore) SavePositions(ctx context.Context, rec *PositionRecord) error {
	rec.LastSaved = timeOrNow(rec.LastSaved)
	payload, err := EncodePositionPayload(rec)
	if err != nil {
		return fmt.Errorf("marshal layout payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO layout_positions (diagram_kind, project_id, payload, last_saved)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(diagram_kind, project_id) DO UPDATE SET
		   payload=excluded.payload, last_saved=excluded.last_saved`,
		string(rec.Kind), rec.ProjectID, string(payload), rec.LastSaved,
	)
	return err
}

func (s *LibSQLStore) LoadPositions(ctx context.Context, kind schema.DiagramKind, projectID string) (*PositionRecord, error) {
	rec := &PositionRecord{Kind: kind, ProjectID: projectID}
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, last_saved FROM layout_positions WHERE diagram_kind = ? AND project_id = ?`,
		string(kind), projectID,
	).Scan(&payload, &rec.LastSaved)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("layout", string(kind)+"/"+projectID)
	}
	if err != nil {
		return nil, err
	}
	if err := DecodePositionPayload([]byte(payload), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *LibSQLStore) DeletePositions(ctx context.Context, kind schema.DiagramKind, projectID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM layout_positions WHERE diagram_kind = ? AND project_id = ?`,
		string(kind), projectID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "layout", string(kind)+"/"+projectID)
}

func (s *LibSQLStore) ListPositions(ctx context.Context) ([]PositionKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT diagram_kind, project_id, last_saved FROM layout_positions ORDER BY diagram_kind, project_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []PositionKey
	for rows.Next() {
		var k PositionKey
		var kind string
		if err := rows.Scan(&kind, &k.ProjectID, &k.LastSaved); err != nil {
			return nil, err
		}
		k.Kind = schema.DiagramKind(kind)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *LibSQLStore) PurgeStalePositions(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM layout_positions WHERE last_saved < ?`, olderThan,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Documents ---

func (s *LibSQLStore) SaveDocument(ctx context.Context, doc *Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (project_id, diagram_kind, body, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(project_id, diagram_kind) DO UPDATE SET
		   body=excluded.body, updated_at=excluded.updated_at`,
		doc.ProjectID, string(doc.Kind), doc.Body, timeOrNow(doc.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetDocument(ctx context.Context, kind schema.DiagramKind, projectID string) (*Document, error) {
	doc := &Document{ProjectID: projectID, Kind: kind}
	err := s.db.QueryRowContext(ctx,
		`SELECT body, updated_at FROM documents WHERE project_id = ? AND diagram_kind = ?`,
		projectID, string(kind),
	).Scan(&doc.Body, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("document", projectID+"/"+string(kind))
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *LibSQLStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, diagram_kind, body, updated_at FROM documents ORDER BY project_id, diagram_kind`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d := &Document{}
		var kind string
		if err := rows.Scan(&d.ProjectID, &kind, &d.Body, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Kind = schema.DiagramKind(kind)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- Change log ---

func (s *LibSQLStore) AppendChange(ctx context.Context, ch *Change) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Next sequence number for this project.
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM changes WHERE project_id = ?`, ch.ProjectID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	ch.Sequence = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO changes (project_id, node_id, change_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ProjectID, nullStr(ch.NodeID), ch.Type, nullRaw(ch.Payload), timeOrNow(ch.Timestamp), seq,
	)
	if err != nil {
		return fmt.Errorf("insert change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit change: %w", err)
	}
	return nil
}

func (s *LibSQLStore) ListChanges(ctx context.Context, filter ChangeFilter) ([]*Change, error) {
	var where []string
	var args []any

	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Type != "" {
		where = append(where, "change_type = ?")
		args = append(args, filter.Type)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, project_id, node_id, change_type, payload, timestamp, sequence FROM changes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sequence DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*Change
	for rows.Next() {
		c := &Change{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&c.ID, &c.ProjectID, &nodeID, &c.Type, &payload, &c.Timestamp, &c.Sequence); err != nil {
			return nil, err
		}
		c.NodeID = nodeID.String
		c.Payload = rawOrNil(payload)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.SyncError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
