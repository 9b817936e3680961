package storage

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations must stay ordered by version, starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS boards (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	color      TEXT NOT NULL DEFAULT 'blue',
	members    TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS lists (
	id       TEXT PRIMARY KEY,
	board_id TEXT NOT NULL REFERENCES boards(id),
	title    TEXT NOT NULL,
	position INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	list_id      TEXT NOT NULL,
	assigned_to  TEXT NOT NULL DEFAULT '[]',
	priority     TEXT NOT NULL DEFAULT 'medium',
	color_tag    TEXT NOT NULL DEFAULT '',
	position     REAL NOT NULL DEFAULT 0,
	completed    INTEGER NOT NULL DEFAULT 0,
	completed_at INTEGER,
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS task_history (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	task_id         TEXT NOT NULL,
	change_type     TEXT NOT NULL,
	previous_value  TEXT NOT NULL,
	new_value       TEXT NOT NULL,
	changed_by      TEXT NOT NULL,
	changed_by_name TEXT NOT NULL,
	timestamp       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS activities (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	board_id   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	user_name  TEXT NOT NULL,
	action     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lists_board ON lists(board_id);
CREATE INDEX IF NOT EXISTS idx_tasks_list ON tasks(list_id);
CREATE INDEX IF NOT EXISTS idx_history_task ON task_history(task_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_activities_board ON activities(board_id, created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_activities_user ON activities(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(completed, completed_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
