package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// UpsertTasks saves or merges tasks and their dependencies in one transaction.
// Uses ON CONFLICT to merge: unspecified fields keep their stored values.
func (s *SQLiteStore) UpsertTasks(ctx context.Context, sessionID, principalID string, tasks []scheduler.Task) error {
	if err := validateKeys(sessionID, principalID); err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())

	for _, task := range tasks {
		if task.ID == "" {
			return ErrInvalidKey
		}

		createdAt := task.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		// Upsert task (insert or merge on conflict)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (session_id, id, principal_id, seq, title, description, status,
				estimated_duration, actual_duration, tags, created_at, completed_at, updated_at)
			VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM tasks WHERE session_id = ?),
				?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, id) DO UPDATE SET
				title = COALESCE(NULLIF(excluded.title, ''), tasks.title),
				description = COALESCE(NULLIF(excluded.description, ''), tasks.description),
				status = COALESCE(NULLIF(excluded.status, ''), tasks.status),
				estimated_duration = COALESCE(NULLIF(excluded.estimated_duration, ''), tasks.estimated_duration),
				actual_duration = COALESCE(NULLIF(excluded.actual_duration, ''), tasks.actual_duration),
				tags = COALESCE(excluded.tags, tasks.tags),
				completed_at = COALESCE(excluded.completed_at, tasks.completed_at),
				updated_at = excluded.updated_at
			WHERE tasks.principal_id = excluded.principal_id
		`, sessionID, task.ID, principalID, sessionID,
			task.Title, task.Description, string(task.Status),
			task.EstimatedDuration, task.ActualDuration, joinList(task.Tags),
			formatTime(createdAt), formatOptionalTime(task.CompletedAt), now)
		if err != nil {
			return fmt.Errorf("failed to upsert task %s: %w", task.ID, err)
		}

		// Zero rows means the task belongs to another principal
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to upsert task %s: %w", task.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("upsert task %s: %w", task.ID, ErrPrincipalMismatch)
		}

		// Nil dependencies are unspecified; keep what is stored
		if task.Dependencies == nil {
			continue
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE session_id = ? AND task_id = ?`, sessionID, task.ID)
		if err != nil {
			return fmt.Errorf("failed to delete old dependencies: %w", err)
		}

		for i, depID := range task.Dependencies {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (session_id, task_id, position, depends_on_id)
				VALUES (?, ?, ?, ?)
			`, sessionID, task.ID, i, depID)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTasks returns all tasks of a session with their dependencies, in creation order.
func (s *SQLiteStore) GetTasks(ctx context.Context, sessionID, principalID string) ([]scheduler.Task, error) {
	if err := validateKeys(sessionID, principalID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, estimated_duration, actual_duration,
			tags, created_at, completed_at
		FROM tasks
		WHERE session_id = ? AND principal_id = ?
		ORDER BY seq
	`, sessionID, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	// Return empty slice (not nil) if no tasks
	tasks := []scheduler.Task{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			task        scheduler.Task
			status      string
			tags        sql.NullString
			createdAt   string
			completedAt sql.NullString
		)
		err := rows.Scan(&task.ID, &task.Title, &task.Description, &status,
			&task.EstimatedDuration, &task.ActualDuration, &tags, &createdAt, &completedAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		task.SessionID = sessionID
		task.Status = scheduler.Status(status)
		task.Tags = splitList(tags)
		task.Dependencies = []string{}
		if task.CreatedAt, err = parseTime(createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to parse created_at of task %s: %w", task.ID, err)
		}
		if completedAt.Valid {
			at, err := parseTime(completedAt.String)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to parse completed_at of task %s: %w", task.ID, err)
			}
			task.CompletedAt = &at
		}

		index[task.ID] = len(tasks)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	rows.Close()

	if len(tasks) == 0 {
		return tasks, nil
	}

	// Load dependencies for the whole session in one pass
	depRows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		WHERE session_id = ?
		ORDER BY task_id, position
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer depRows.Close()

	for depRows.Next() {
		var taskID, depID string
		if err := depRows.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if i, ok := index[taskID]; ok {
			tasks[i].Dependencies = append(tasks[i].Dependencies, depID)
		}
	}

	if err := depRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return tasks, nil
}

// joinList encodes a list column; nil stays NULL so it merges as unspecified.
func joinList(items []string) any {
	if items == nil {
		return nil
	}
	return strings.Join(items, ",")
}

func splitList(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	return strings.Split(v.String, ",")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
