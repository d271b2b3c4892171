// Package audit persists the staging lifecycle to SQLite: every stage,
// promote and reject lands in one append-only table, queryable per project.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/atelier-ai/atelier/internal/requestid"
)

// Entry is one recorded staging event.
type Entry struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	Path      string    `json:"path"`
	Action    string    `json:"action"` // staged | promoted | rejected
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages the SQLite audit database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.Mutex
}

// New opens (or creates) the audit database and runs migrations.
func New(dbPath string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, logger: logger.With().Str("component", "audit").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("audit store initialized")
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS staging_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		path TEXT NOT NULL,
		action TEXT NOT NULL,
		request_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_staging_events_project ON staging_events(project_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating staging_events: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record implements staging.Recorder. Failures are logged, never surfaced:
// the audit trail must not fail a staging operation.
func (s *Store) Record(ctx context.Context, projectID, path, action string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO staging_events (project_id, path, action, request_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		projectID, path, action, requestid.FromContext(ctx), time.Now().Unix(),
	)
	if err != nil {
		s.logger.Error().Err(err).
			Str("project", projectID).
			Str("path", path).
			Str("action", action).
			Msg("failed to record staging event")
	}
}

// ListByProject returns the most recent events for a project, newest first,
// up to limit (0 = 100).
func (s *Store) ListByProject(projectID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, project_id, path, action, request_id, created_at
		 FROM staging_events WHERE project_id = ? ORDER BY id DESC LIMIT ?`,
		projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying staging events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Path, &e.Action, &e.RequestID, &created); err != nil {
			return nil, fmt.Errorf("scanning staging event: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
