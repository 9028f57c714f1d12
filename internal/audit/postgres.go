package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS denials (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	tier TEXT NOT NULL,
	identifier TEXT NOT NULL,
	path TEXT NOT NULL,
	reason TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_denials_created_at ON denials(created_at);
`

// PostgresStore persists the denial trail in PostgreSQL, for deployments
// where multiple gateway instances share one trail.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and applies the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required for postgres audit storage")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(context.Background(), postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Record(ctx context.Context, event *Event) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO denials (id, kind, tier, identifier, path, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Kind, event.Tier, event.Identifier, event.Path, event.Reason, event.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record denial: %w", err)
	}
	return nil
}

func (p *PostgresStore) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id, kind, tier, identifier, path, reason, created_at
		 FROM denials ORDER BY created_at DESC, id LIMIT $1`, limit)
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

func (p *PostgresStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM denials WHERE created_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune denials: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
