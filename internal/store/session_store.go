package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/recall/internal/domain"
)

// SessionRecord is a persisted conversation session.
type SessionRecord struct {
	domain.SessionRef
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionStore persists session identities so clients can resume them.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store using the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create starts a new session for userID.
func (s *SessionStore) Create(ctx context.Context, userID string) (*SessionRecord, error) {
	now := time.Now().UTC()
	rec := &SessionRecord{
		SessionRef: domain.SessionRef{ID: uuid.New().String(), UserID: userID},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		rec.ID, userID, now.Format(time.DateTime), now.Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return rec, nil
}

// GetOrCreate returns the session with id, creating it for userID when absent.
func (s *SessionStore) GetOrCreate(ctx context.Context, id, userID string) (*SessionRecord, error) {
	rec, err := s.Get(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, userID, now.Format(time.DateTime), now.Format(time.DateTime),
	)
	if err != nil {
		s.db.log.Error().Err(err).Str("session", id).Msg("failed to create session")
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns a session by ID, or ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	var createdAt, updatedAt string

	err := s.db.sql.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.UserID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return &rec, nil
}

// Touch bumps the session's updated_at.
func (s *SessionStore) Touch(ctx context.Context, id string) error {
	_, err := s.db.sql.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.DateTime), id,
	)
	return err
}

// List returns the user's sessions, most recently active first.
func (s *SessionStore) List(ctx context.Context, userID string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM sessions
		 WHERE user_id = ? ORDER BY updated_at DESC, id LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&rec.ID, &rec.UserID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		rec.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
