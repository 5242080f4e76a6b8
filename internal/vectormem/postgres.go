package vectormem

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soyeahso/recall/internal/domain"
)

// PostgresBackend stores entries in PostgreSQL, for deployments where
// several recall processes share one memory.
type PostgresBackend struct {
	pool       *pgxpool.Pool
	collection string
}

// NewPostgresBackend connects and ensures the schema exists.
func NewPostgresBackend(ctx context.Context, databaseURL, collection string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresBackend{pool: pool, collection: collection}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT NOT NULL,
			collection TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			source_session TEXT NOT NULL DEFAULT '',
			summary_text TEXT NOT NULL,
			embedding BYTEA NOT NULL,
			source_digests TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_user ON memory_entries (collection, user_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (p *PostgresBackend) Append(ctx context.Context, e domain.MemoryEntry) error {
	blob, err := encodeEmbedding(e.Embedding)
	if err != nil {
		return fmt.Errorf("encoding entry %s: %w", e.ID, err)
	}
	digests := e.SourceDigests
	if digests == nil {
		digests = []string{}
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO memory_entries (id, collection, user_id, source_session, summary_text, embedding, source_digests, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, p.collection, e.UserID, e.SourceSession, e.SummaryText, blob, digests, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save memory entry: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Snapshot(ctx context.Context) ([]domain.MemoryEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, source_session, summary_text, embedding, source_digests, created_at
		 FROM memory_entries WHERE collection=$1 ORDER BY created_at`, p.collection,
	)
	if err != nil {
		return nil, fmt.Errorf("query memory entries: %w", err)
	}
	defer rows.Close()

	var items []domain.MemoryEntry
	for rows.Next() {
		var e domain.MemoryEntry
		var blob []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceSession, &e.SummaryText, &blob, &e.SourceDigests, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		var err error
		if e.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if len(e.SourceDigests) == 0 {
			e.SourceDigests = nil
		}
		e.CreatedAt = e.CreatedAt.UTC()
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}
	return items, nil
}

func (p *PostgresBackend) Count(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM memory_entries WHERE collection=$1`, p.collection,
	).Scan(&n)
	return n, err
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
