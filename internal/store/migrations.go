package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create user info, sessions and chat history",
		SQL: `
			CREATE TABLE user_info (
				id          TEXT PRIMARY KEY,
				name        TEXT NOT NULL DEFAULT '',
				last_name   TEXT NOT NULL DEFAULT '',
				age         INTEGER,
				gender      TEXT NOT NULL DEFAULT '',
				location    TEXT NOT NULL DEFAULT '',
				occupation  TEXT NOT NULL DEFAULT '',
				interests   TEXT NOT NULL DEFAULT '',
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_sessions_user ON sessions (user_id, updated_at);

			CREATE TABLE chat_history (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id     TEXT NOT NULL DEFAULT '',
				session_id  TEXT NOT NULL,
				timestamp   TEXT NOT NULL DEFAULT (datetime('now')),
				question    TEXT NOT NULL,
				answer      TEXT NOT NULL
			);

			CREATE INDEX idx_chat_history_user ON chat_history (user_id, id);
			CREATE INDEX idx_chat_history_session ON chat_history (session_id, id);

			CREATE TABLE summary (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id       TEXT NOT NULL DEFAULT '',
				session_id    TEXT NOT NULL,
				summary_text  TEXT NOT NULL,
				timestamp     TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_summary_session ON summary (session_id, id);
		`,
	},
	{
		Version: 2,
		Name:    "create chat history FTS5 index",
		SQL: `
			CREATE VIRTUAL TABLE chat_history_fts USING fts5(
				question,
				answer,
				content='chat_history',
				content_rowid='id'
			);

			CREATE TRIGGER chat_history_ai AFTER INSERT ON chat_history BEGIN
				INSERT INTO chat_history_fts(rowid, question, answer)
				VALUES (new.id, new.question, new.answer);
			END;

			CREATE TRIGGER chat_history_ad AFTER DELETE ON chat_history BEGIN
				INSERT INTO chat_history_fts(chat_history_fts, rowid, question, answer)
				VALUES ('delete', old.id, old.question, old.answer);
			END;
		`,
	},
	{
		Version: 3,
		Name:    "create memory entries",
		SQL: `
			CREATE TABLE memory_entries (
				id              TEXT NOT NULL,
				collection      TEXT NOT NULL,
				user_id         TEXT NOT NULL DEFAULT '',
				source_session  TEXT NOT NULL DEFAULT '',
				summary_text    TEXT NOT NULL,
				embedding       BLOB NOT NULL,
				source_digests  TEXT NOT NULL DEFAULT '[]',
				created_at      TEXT NOT NULL,
				PRIMARY KEY (collection, id)
			);

			CREATE INDEX idx_memory_entries_user ON memory_entries (collection, user_id);
		`,
	},
}
