package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Dependencies carry no foreign key: references to unknown ids are legal
// and simply never resolve.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		session_id TEXT NOT NULL,
		id TEXT NOT NULL,
		principal_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		estimated_duration TEXT NOT NULL DEFAULT '',
		actual_duration TEXT NOT NULL DEFAULT '',
		tags TEXT,
		created_at TEXT NOT NULL,
		completed_at TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (session_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_session_seq ON tasks(session_id, seq);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		session_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (session_id, task_id, position)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
