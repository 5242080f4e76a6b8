package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/recall/internal/domain"
)

// Summary is one row of the summary log.
type Summary struct {
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatLog records every exchange and every produced summary, and supports
// keyword search over past exchanges via SQLite FTS5.
type ChatLog struct {
	db *DB
}

// NewChatLog creates a chat log using the given database.
func NewChatLog(db *DB) *ChatLog {
	return &ChatLog{db: db}
}

// Append logs one question/answer exchange.
func (c *ChatLog) Append(ctx context.Context, rec domain.ChatRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err := c.db.sql.ExecContext(ctx,
		`INSERT INTO chat_history (user_id, session_id, timestamp, question, answer)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.UserID, rec.SessionID, rec.Timestamp.UTC().Format(time.DateTime), rec.Question, rec.Answer,
	)
	if err != nil {
		return fmt.Errorf("logging exchange: %w", err)
	}
	return nil
}

// Recent returns the user's last n exchanges in chronological order.
func (c *ChatLog) Recent(ctx context.Context, userID string, n int) ([]domain.ChatRecord, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := c.db.sql.QueryContext(ctx,
		`SELECT user_id, session_id, timestamp, question, answer FROM (
			SELECT id, user_id, session_id, timestamp, question, answer
			FROM chat_history WHERE user_id = ?
			ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		userID, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Search finds the user's exchanges whose question or answer matches any
// word of term, best matches first. Limit of 0 defaults to 3.
func (c *ChatLog) Search(ctx context.Context, userID, term string, limit int) ([]domain.ChatRecord, error) {
	if limit <= 0 {
		limit = 3
	}
	match := ftsQuery(term)
	if match == "" {
		return nil, nil
	}

	rows, err := c.db.sql.QueryContext(ctx,
		`SELECT ch.user_id, ch.session_id, ch.timestamp, ch.question, ch.answer
		 FROM chat_history_fts
		 JOIN chat_history ch ON ch.id = chat_history_fts.rowid
		 WHERE chat_history_fts MATCH ?
		   AND ch.user_id = ?
		 ORDER BY rank
		 LIMIT ?`,
		match, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching chat history: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// AppendSummary records a produced summary.
func (c *ChatLog) AppendSummary(ctx context.Context, userID, sessionID, text string) error {
	_, err := c.db.sql.ExecContext(ctx,
		`INSERT INTO summary (user_id, session_id, summary_text, timestamp) VALUES (?, ?, ?, ?)`,
		userID, sessionID, text, time.Now().UTC().Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("logging summary: %w", err)
	}
	return nil
}

// Summaries returns the user's summaries, oldest first.
func (c *ChatLog) Summaries(ctx context.Context, userID string) ([]Summary, error) {
	rows, err := c.db.sql.QueryContext(ctx,
		`SELECT user_id, session_id, summary_text, timestamp
		 FROM summary WHERE user_id = ? ORDER BY id ASC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var ts string
		if err := rows.Scan(&s.UserID, &s.SessionID, &s.Text, &ts); err != nil {
			return nil, err
		}
		s.Timestamp, _ = time.Parse(time.DateTime, ts)
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]domain.ChatRecord, error) {
	var out []domain.ChatRecord
	for rows.Next() {
		var rec domain.ChatRecord
		var ts string
		if err := rows.Scan(&rec.UserID, &rec.SessionID, &ts, &rec.Question, &rec.Answer); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = time.Parse(time.DateTime, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ftsQuery turns free text into an FTS5 query that ORs quoted prefix terms,
// so user input never reaches the FTS5 query syntax unescaped.
func ftsQuery(term string) string {
	words := strings.Fields(term)
	parts := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, `""`)
		parts = append(parts, `"`+w+`"*`)
	}
	return strings.Join(parts, " OR ")
}
