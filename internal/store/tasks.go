package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TaskKind enumerates the closed set of reconciliation task types.
type TaskKind string

// Task kinds as stored in the tasks.kind column.
const (
	TaskDirSync  TaskKind = "dirsync"
	TaskUpload   TaskKind = "upload"
	TaskDownload TaskKind = "download"
	TaskDelete   TaskKind = "delete"
	TaskMove     TaskKind = "move"
	TaskConflict TaskKind = "conflict"
)

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

// Task statuses as stored in the tasks.status column. Pending and Running
// are non-terminal; Done and Failed are terminal.
const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// Task is one unit of reconciliation work. The meaning of LocalPath and
// RemoteID depends on Kind:
//
//	dirsync:  LocalPath is the directory (relative to the drive's sync
//	          root, "" for the root), RemoteID the remote directory
//	          ("" for the drive root).
//	upload:   LocalPath is the file, RemoteID the remote parent directory.
//	download: LocalPath is the destination file, RemoteID the remote item.
//	delete:   LocalPath is the tracked path; RemoteID "" means the remote
//	          side is already gone (delete locally), non-empty means the
//	          local side is gone (delete the remote item).
//	move:     LocalPath is the old path, NewLocalPath the new one,
//	          RemoteID the remote item to move.
//	conflict: LocalPath is the file, RemoteID the remote item.
type Task struct {
	ID           int64
	Kind         TaskKind
	DriveID      string
	LocalPath    string
	RemoteID     string
	NewLocalPath string

	// Remote signature observed by the diff that produced the task.
	// Transfer handlers commit it to the item cache after success.
	RemoteSize  int64
	RemoteMtime int64
	RemoteETag  string

	Status        TaskStatus
	Attempts      int
	NotBefore     int64 // earliest eligible claim time (Unix nanoseconds)
	LastError     string
	CreatedAt     int64
	LastAttemptAt *int64
}

// Key returns the deduplication key of a task.
func (t *Task) Key() string {
	return t.DriveID + ":" + t.LocalPath
}

const taskColumns = `id, kind, drive_id, local_path, remote_id, new_local_path,
	remote_size, remote_mtime, remote_etag,
	status, attempts, not_before, last_error, created_at, last_attempt_at`

// AddTask inserts a task in Pending status unless a non-terminal task for
// the same (drive_id, local_path) already exists. The partial unique index
// makes the check-and-insert atomic — two concurrent callers can never both
// insert. Returns whether the task was inserted.
func (s *Store) AddTask(ctx context.Context, t *Task) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (kind, drive_id, local_path, remote_id, new_local_path,
			remote_size, remote_mtime, remote_etag, status, not_before, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (drive_id, local_path)
		 WHERE status IN ('pending', 'running') DO NOTHING`,
		string(t.Kind), t.DriveID, t.LocalPath, t.RemoteID, t.NewLocalPath,
		t.RemoteSize, t.RemoteMtime, t.RemoteETag,
		string(TaskPending), t.NotBefore, NowNano(),
	)
	if err != nil {
		return false, fmt.Errorf("store: add task %s %s: %w", t.Kind, t.Key(), err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: add task rows affected: %w", err)
	}

	inserted := rows > 0
	if inserted {
		id, idErr := result.LastInsertId()
		if idErr == nil {
			t.ID = id
		}

		s.logger.Debug("task enqueued",
			"kind", t.Kind, "drive_id", t.DriveID, "path", t.LocalPath)
	} else {
		s.logger.Debug("task already queued, skipping",
			"kind", t.Kind, "drive_id", t.DriveID, "path", t.LocalPath)
	}

	return inserted, nil
}

// HasPendingTask reports whether a non-terminal task exists for the key.
// The seeding loop uses this to avoid duplicate root tasks.
func (s *Store) HasPendingTask(ctx context.Context, driveID, localPath string) (bool, error) {
	var count int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks
		 WHERE drive_id = ? AND local_path = ? AND status IN ('pending', 'running')`,
		driveID, localPath).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: has pending task %s/%s: %w", driveID, localPath, err)
	}

	return count > 0, nil
}

// ClaimNextTask atomically selects the oldest eligible Pending task, marks
// it Running, increments its attempt counter, and returns it. Returns
// (nil, nil) when no task is eligible. The single UPDATE...RETURNING
// statement guarantees exactly one worker claims any given task.
func (s *Store) ClaimNextTask(ctx context.Context) (*Task, error) {
	now := NowNano()

	row := s.db.QueryRowContext(ctx,
		`UPDATE tasks
		 SET status = ?, attempts = attempts + 1, last_attempt_at = ?
		 WHERE id = (
			SELECT id FROM tasks
			WHERE status = ? AND not_before <= ?
			ORDER BY id LIMIT 1
		 )
		 RETURNING `+taskColumns,
		string(TaskRunning), now, string(TaskPending), now)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil task means "queue empty"
	}

	if err != nil {
		return nil, fmt.Errorf("store: claim next task: %w", err)
	}

	s.logger.Debug("task claimed",
		"id", task.ID, "kind", task.Kind, "path", task.LocalPath, "attempt", task.Attempts)

	return task, nil
}

// CompleteTask transitions a task from Running to Done.
func (s *Store) CompleteTask(ctx context.Context, id int64) error {
	return s.transition(ctx, id, TaskRunning, TaskDone,
		`UPDATE tasks SET status = ? WHERE id = ? AND status = ?`)
}

// RetryTask re-enqueues a Running task as Pending with a backoff deadline.
// The attempt counter was already incremented at claim time.
func (s *Store) RetryTask(ctx context.Context, id int64, notBefore int64, errMsg string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, not_before = ?, last_error = ?
		 WHERE id = ? AND status = ?`,
		string(TaskPending), notBefore, errMsg, id, string(TaskRunning))
	if err != nil {
		return fmt.Errorf("store: retry task %d: %w", id, err)
	}

	return requireTransition(result, id, TaskRunning)
}

// FailTask transitions a Running task to the terminal Failed status,
// recording the error for the operator.
func (s *Store) FailTask(ctx context.Context, id int64, errMsg string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, last_error = ? WHERE id = ? AND status = ?`,
		string(TaskFailed), errMsg, id, string(TaskRunning))
	if err != nil {
		return fmt.Errorf("store: fail task %d: %w", id, err)
	}

	return requireTransition(result, id, TaskRunning)
}

// ResetRunningTasks flips any task left Running by a prior crash back to
// Pending so no work is silently lost. Called once at startup, before
// workers begin claiming.
func (s *Store) ResetRunningTasks(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, not_before = 0 WHERE status = ?`,
		string(TaskPending), string(TaskRunning))
	if err != nil {
		return 0, fmt.Errorf("store: reset running tasks: %w", err)
	}

	n, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return 0, fmt.Errorf("store: reset running rows affected: %w", rowsErr)
	}

	if n > 0 {
		s.logger.Warn("reset tasks left running by prior shutdown", "count", n)
	}

	return n, nil
}

// TaskCounts returns the number of tasks per status.
func (s *Store) TaskCounts(ctx context.Context) (map[TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: task counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)

	for rows.Next() {
		var (
			status string
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("store: scan task count row: %w", err)
		}

		counts[TaskStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate task count rows: %w", err)
	}

	return counts, nil
}

// ListTasksByStatus returns all tasks with the given status, ordered by id.
func (s *Store) ListTasksByStatus(ctx context.Context, status TaskStatus) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY id`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("store: list %s tasks: %w", status, err)
	}
	defer rows.Close()

	var tasks []*Task

	for rows.Next() {
		task, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: scan task row: %w", scanErr)
		}

		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate task rows: %w", err)
	}

	return tasks, nil
}

// transition is the shared guarded status-transition helper.
func (s *Store) transition(ctx context.Context, id int64, from, to TaskStatus, query string) error {
	result, err := s.db.ExecContext(ctx, query, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("store: task %d %s->%s: %w", id, from, to, err)
	}

	return requireTransition(result, id, from)
}

// requireTransition verifies a guarded UPDATE matched a row, catching
// illegal status transitions (double complete, complete-after-fail).
func requireTransition(result sql.Result, id int64, from TaskStatus) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: task %d rows affected: %w", id, err)
	}

	if rows == 0 {
		return fmt.Errorf("store: task %d: not in %s status", id, from)
	}

	return nil
}

// scanTask scans a full task row.
func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var (
		t             Task
		kind, status  string
		lastAttemptAt sql.NullInt64
	)

	err := row.Scan(
		&t.ID, &kind, &t.DriveID, &t.LocalPath, &t.RemoteID, &t.NewLocalPath,
		&t.RemoteSize, &t.RemoteMtime, &t.RemoteETag,
		&status, &t.Attempts, &t.NotBefore, &t.LastError, &t.CreatedAt,
		&lastAttemptAt,
	)
	if err != nil {
		return nil, err
	}

	t.Kind = TaskKind(kind)
	t.Status = TaskStatus(status)

	if lastAttemptAt.Valid {
		t.LastAttemptAt = &lastAttemptAt.Int64
	}

	return &t, nil
}
