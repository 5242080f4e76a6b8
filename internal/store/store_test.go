package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.Nop()
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "recall.db")
	db, err := Open(path, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// reopening applies no migrations twice
	db, err = Open(path, logging.Nop())
	require.NoError(t, err)
	defer db.Close()
	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)

	var name string
	require.NoError(t, db.sql.QueryRow("SELECT name FROM schema_migrations WHERE version = 1").Scan(&name))
	assert.Equal(t, migrations[0].Name, name)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.migrate(context.Background()))

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Ordered(t *testing.T) {
	for i := 1; i < len(migrations); i++ {
		assert.Greater(t, migrations[i].Version, migrations[i-1].Version)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db := testDB(t)
	var on int
	require.NoError(t, db.sql.QueryRow("PRAGMA foreign_keys").Scan(&on))
	assert.Equal(t, 1, on)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"user_info", "sessions", "chat_history", "summary", "chat_history_fts", "memory_entries"}
	for _, table := range tables {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

// --- UserStore tests ---

func TestUserStore_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(testDB(t))

	err := users.Upsert(ctx, "alice", map[string]any{
		"name":      "Alice",
		"age":       float64(30), // JSON numbers arrive as float64
		"interests": []any{"chess", "tea"},
	})
	require.NoError(t, err)

	u, err := users.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.ID)
	assert.Equal(t, "Alice", u.Name)
	assert.Equal(t, 30, u.Age)
	assert.Equal(t, "chess, tea", u.Interests)
	assert.False(t, u.UpdatedAt.IsZero())
}

func TestUserStore_UpsertOnlyWritesGivenFields(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(testDB(t))

	require.NoError(t, users.Upsert(ctx, "bob", map[string]any{"name": "Bob", "location": "Oslo"}))
	require.NoError(t, users.Upsert(ctx, "bob", map[string]any{"occupation": "baker"}))

	u, err := users.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", u.Name)
	assert.Equal(t, "Oslo", u.Location)
	assert.Equal(t, "baker", u.Occupation)
	assert.Zero(t, u.Age)
}

func TestUserStore_InvalidField(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(testDB(t))

	err := users.Upsert(ctx, "alice", map[string]any{"email": "a@example.com"})
	assert.ErrorIs(t, err, ErrInvalidField)
	assert.Contains(t, err.Error(), "email")

	err = users.Upsert(ctx, "alice", map[string]any{"age": "thirty"})
	assert.ErrorIs(t, err, ErrInvalidField)

	err = users.Upsert(ctx, "alice", map[string]any{"age": 30.5})
	assert.ErrorIs(t, err, ErrInvalidField)

	err = users.Upsert(ctx, "alice", map[string]any{"name": 42})
	assert.ErrorIs(t, err, ErrInvalidField)

	err = users.Upsert(ctx, "alice", map[string]any{})
	assert.ErrorIs(t, err, ErrInvalidField)

	// nothing was written
	_, err = users.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserStore_AgeFromString(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(testDB(t))

	require.NoError(t, users.Upsert(ctx, "c", map[string]any{"age": " 41 "}))
	u, err := users.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 41, u.Age)
}

func TestUserStore_GetNotFound(t *testing.T) {
	users := NewUserStore(testDB(t))
	_, err := users.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- ChatLog tests ---

func TestChatLog_AppendAndRecent(t *testing.T) {
	ctx := context.Background()
	log := NewChatLog(testDB(t))

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(ctx, domain.ChatRecord{
			UserID:    "u1",
			SessionID: "s1",
			Question:  fmt.Sprintf("q%d", i),
			Answer:    fmt.Sprintf("a%d", i),
		}))
	}
	require.NoError(t, log.Append(ctx, domain.ChatRecord{UserID: "u2", SessionID: "s2", Question: "other", Answer: "x"}))

	recent, err := log.Recent(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "q2", recent[0].Question)
	assert.Equal(t, "q4", recent[2].Question)
	assert.Equal(t, "s1", recent[0].SessionID)
	assert.False(t, recent[0].Timestamp.IsZero())
}

func TestChatLog_Search(t *testing.T) {
	ctx := context.Background()
	log := NewChatLog(testDB(t))

	require.NoError(t, log.Append(ctx, domain.ChatRecord{UserID: "u1", SessionID: "s1", Question: "What is my favorite tea?", Answer: "You like oolong."}))
	require.NoError(t, log.Append(ctx, domain.ChatRecord{UserID: "u1", SessionID: "s1", Question: "Weather in Oslo?", Answer: "Cold."}))
	require.NoError(t, log.Append(ctx, domain.ChatRecord{UserID: "u2", SessionID: "s2", Question: "tea time", Answer: "now"}))

	hits, err := log.Search(ctx, "u1", "oolong", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "What is my favorite tea?", hits[0].Question)

	// prefix match, scoped to the user
	hits, err = log.Search(ctx, "u1", "te", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = log.Search(ctx, "u1", "nothing-like-this", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChatLog_SearchEscapesSyntax(t *testing.T) {
	ctx := context.Background()
	log := NewChatLog(testDB(t))
	require.NoError(t, log.Append(ctx, domain.ChatRecord{UserID: "u1", SessionID: "s1", Question: "quote \"this\"", Answer: "ok"}))

	_, err := log.Search(ctx, "u1", `"this" AND (NEAR`, 0)
	assert.NoError(t, err)

	hits, err := log.Search(ctx, "u1", "   ", 0)
	assert.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChatLog_Summaries(t *testing.T) {
	ctx := context.Background()
	log := NewChatLog(testDB(t))

	require.NoError(t, log.AppendSummary(ctx, "u1", "s1", "first"))
	require.NoError(t, log.AppendSummary(ctx, "u1", "s1", "second"))
	require.NoError(t, log.AppendSummary(ctx, "u2", "s2", "other"))

	sums, err := log.Summaries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "first", sums[0].Text)
	assert.Equal(t, "second", sums[1].Text)
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"tea"* OR "time"*`, ftsQuery("tea  time"))
	assert.Equal(t, `"say"* OR """hi"""*`, ftsQuery(`say "hi"`))
	assert.Equal(t, "", ftsQuery("  "))
}

// --- SessionStore tests ---

func TestSessionStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessionStore(testDB(t))

	rec, err := sessions.Create(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "u1", rec.UserID)

	got, err := sessions.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.SessionRef, got.SessionRef)
}

func TestSessionStore_GetNotFound(t *testing.T) {
	sessions := NewSessionStore(testDB(t))
	_, err := sessions.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessionStore(testDB(t))

	rec, err := sessions.GetOrCreate(ctx, "fixed-id", "u1")
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", rec.ID)

	// existing session keeps its original owner
	again, err := sessions.GetOrCreate(ctx, "fixed-id", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u1", again.UserID)
}

func TestSessionStore_ListAndTouch(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessionStore(testDB(t))

	a, err := sessions.Create(ctx, "u1")
	require.NoError(t, err)
	_, err = sessions.Create(ctx, "u1")
	require.NoError(t, err)
	_, err = sessions.Create(ctx, "u2")
	require.NoError(t, err)

	require.NoError(t, sessions.Touch(ctx, a.ID))

	list, err := sessions.List(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	empty, err := sessions.List(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
