package vectormem

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/store"
)

// createdAtLayout is fixed width so created_at sorts chronologically as text.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteBackend stores entries in the memory_entries table of the main
// database, namespaced by collection.
type SQLiteBackend struct {
	db         *store.DB
	collection string
}

// NewSQLiteBackend creates a backend over an open database.
func NewSQLiteBackend(db *store.DB, collection string) *SQLiteBackend {
	return &SQLiteBackend{db: db, collection: collection}
}

func (s *SQLiteBackend) Append(ctx context.Context, e domain.MemoryEntry) error {
	blob, err := encodeEmbedding(e.Embedding)
	if err != nil {
		return fmt.Errorf("encoding entry %s: %w", e.ID, err)
	}
	digests := e.SourceDigests
	if digests == nil {
		digests = []string{}
	}
	digestJSON, err := json.Marshal(digests)
	if err != nil {
		return fmt.Errorf("encoding digests for %s: %w", e.ID, err)
	}
	_, err = s.db.SQL().ExecContext(ctx,
		`INSERT INTO memory_entries (id, collection, user_id, source_session, summary_text, embedding, source_digests, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, s.collection, e.UserID, e.SourceSession, e.SummaryText, blob, string(digestJSON),
		e.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteBackend) Snapshot(ctx context.Context) ([]domain.MemoryEntry, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT id, user_id, source_session, summary_text, embedding, source_digests, created_at
		 FROM memory_entries WHERE collection = ? ORDER BY created_at, rowid`, s.collection,
	)
	if err != nil {
		return nil, fmt.Errorf("query memory entries: %w", err)
	}
	defer rows.Close()

	var out []domain.MemoryEntry
	for rows.Next() {
		var e domain.MemoryEntry
		var blob []byte
		var digests, createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceSession, &e.SummaryText, &blob, &digests, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		var err error
		if e.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(digests), &e.SourceDigests); err != nil {
			return nil, fmt.Errorf("entry %s digests: %w", e.ID, err)
		}
		if len(e.SourceDigests) == 0 {
			e.SourceDigests = nil
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.SQL().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_entries WHERE collection = ?`, s.collection,
	).Scan(&n)
	return n, err
}

// Close is a no-op; the database is owned by the caller.
func (s *SQLiteBackend) Close() error { return nil }
