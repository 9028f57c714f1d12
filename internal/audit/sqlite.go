package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS denials (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	tier TEXT NOT NULL,
	identifier TEXT NOT NULL,
	path TEXT NOT NULL,
	reason TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_denials_created_at ON denials(created_at);
`

// SQLiteStore persists the denial trail in a local SQLite database. Suited to
// single-instance deployments that want the trail to survive restarts without
// running a database server.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required for sqlite audit storage")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles one writer at a time; serialize access through a single
	// connection instead of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, event *Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO denials (id, kind, tier, identifier, path, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Kind, event.Tier, event.Identifier, event.Path, event.Reason, event.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record denial: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, tier, identifier, path, reason, created_at
		 FROM denials ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query denials: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Tier, &e.Identifier, &e.Path, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan denial: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM denials WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune denials: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
