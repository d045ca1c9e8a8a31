// Package history persists an append-only record of lifecycle operations
// (create, specification, delete) for each project, queryable by
// projectID. Build start and completion are not recorded. It exists purely for operator visibility after the fact; the
// Status Controller remains the live source of truth for a project's
// current state.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded lifecycle transition.
type Entry struct {
	ID          int64
	ProjectID   string
	OperationID string
	Kind        string
	State       string
	Detail      string
	Timestamp   time.Time
}

// Store is a SQLite-backed append-only ledger.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (creating if necessary) a SQLite database at dbPath and
// ensures its schema exists. Use ":memory:" for an ephemeral store.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lifecycle_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		operation_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		state TEXT NOT NULL,
		detail TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_project_id ON lifecycle_events(project_id);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON lifecycle_events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one lifecycle transition.
func (s *Store) Record(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO lifecycle_events (project_id, operation_id, kind, state, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		e.ProjectID, e.OperationID, e.Kind, e.State, e.Detail, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert lifecycle event: %w", err)
	}
	return nil
}

// ForProject returns every recorded transition for projectID, oldest first.
func (s *Store) ForProject(ctx context.Context, projectID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, operation_id, kind, state, detail, timestamp FROM lifecycle_events WHERE project_id = ? ORDER BY id",
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query lifecycle events: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var detail sql.NullString
		var ts int64
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.OperationID, &e.Kind, &e.State, &detail, &ts); err != nil {
			return nil, fmt.Errorf("scan lifecycle event: %w", err)
		}
		e.Detail = detail.String
		e.Timestamp = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
