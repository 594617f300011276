package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS topic_streams (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    query TEXT NOT NULL,
    update_frequency TEXT NOT NULL,
    detail_level TEXT NOT NULL,
    model_type TEXT NOT NULL,
    recency_filter TEXT NOT NULL,
    last_updated TEXT
);

CREATE TABLE IF NOT EXISTS summaries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    topic_stream_id INTEGER NOT NULL REFERENCES topic_streams(id) ON DELETE CASCADE,
    content TEXT NOT NULL,
    sources TEXT,
    created_at TEXT NOT NULL,
    model TEXT
);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "stream generation settings",
		Up: func(tx *sql.Tx) error {
			if err := addColumns(tx, "topic_streams", [][2]string{
				{"temperature", "REAL NOT NULL DEFAULT 0.2"},
				{"system_prompt", "TEXT"},
				{"context_policy", "TEXT NOT NULL DEFAULT 'last_1'"},
				{"created_at", "TEXT"},
				{"updated_at", "TEXT"},
			}); err != nil {
				return err
			}
			_, err := tx.Exec(`
UPDATE topic_streams SET created_at = COALESCE(last_updated, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
WHERE created_at IS NULL;
UPDATE topic_streams SET updated_at = created_at WHERE updated_at IS NULL;
`)
			return err
		},
	},
	{
		Version:     3,
		Description: "summary token accounting and run ids",
		Up: func(tx *sql.Tx) error {
			if err := addColumns(tx, "summaries", [][2]string{
				{"run_id", "TEXT NOT NULL DEFAULT ''"},
				{"prompt_tokens", "INTEGER NOT NULL DEFAULT 0"},
				{"completion_tokens", "INTEGER NOT NULL DEFAULT 0"},
				{"total_tokens", "INTEGER NOT NULL DEFAULT 0"},
				{"estimated_content_tokens", "INTEGER NOT NULL DEFAULT 0"},
			}); err != nil {
				return err
			}
			_, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_summaries_stream_created
    ON summaries(topic_stream_id, created_at DESC, id DESC);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
