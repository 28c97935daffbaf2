// Package store provides SQLite-backed persistence for relay state: tasks,
// dependencies, executions, rate windows, projects, and the agent registry.
package store

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by id lookups and updates that match no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the single-writer SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	prompt TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'quick',
	priority TEXT NOT NULL DEFAULT 'medium',
	status TEXT NOT NULL DEFAULT 'pending',
	blocked_by TEXT NOT NULL DEFAULT '',
	preferred_model TEXT NOT NULL DEFAULT '',
	deadline INTEGER,
	estimated_duration INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error TEXT NOT NULL DEFAULT '',
	result TEXT NOT NULL DEFAULT '',
	scheduled_for INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS task_deps (
	task_id TEXT NOT NULL,
	depends_on TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (task_id, depends_on),
	FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	model TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	success INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	tokens_used INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS rate_limits (
	model TEXT PRIMARY KEY,
	current_usage INTEGER NOT NULL DEFAULT 0,
	max_requests INTEGER NOT NULL,
	window_start INTEGER NOT NULL,
	window_duration INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	target TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	model TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT '',
	score REAL NOT NULL DEFAULT 0,
	memory_used INTEGER NOT NULL DEFAULT 0,
	last_used INTEGER,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_scheduled_for ON tasks(scheduled_for);
CREATE INDEX IF NOT EXISTS idx_executions_task ON executions(task_id);
CREATE INDEX IF NOT EXISTS idx_task_deps_depends_on ON task_deps(depends_on);
`

// Open creates or opens the database at dbPath and ensures the schema exists.
// It fails fast when the parent directory is missing or not a directory.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store: open %s: parent %s is not a directory", dbPath, dir)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// migrate applies incremental schema migrations for existing databases.
// Evolution is append-only: new columns are added behind existence checks,
// never renamed or dropped.
func migrate(db *sql.DB) error {
	// scheduled_for arrived with delayed re-queues.
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('tasks') WHERE name = 'scheduled_for'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check scheduled_for column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE tasks ADD COLUMN scheduled_for INTEGER`); err != nil {
			return fmt.Errorf("add scheduled_for column: %w", err)
		}
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_scheduled_for ON tasks(scheduled_for)`); err != nil {
			return fmt.Errorf("create scheduled_for index: %w", err)
		}
	}

	// preferred_model arrived with per-task routing hints.
	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('tasks') WHERE name = 'preferred_model'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check preferred_model column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE tasks ADD COLUMN preferred_model TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add preferred_model column: %w", err)
		}
	}

	// Cost tracking columns on executions.
	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('executions') WHERE name = 'tokens_used'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check tokens_used column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE executions ADD COLUMN tokens_used INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add tokens_used column: %w", err)
		}
	}

	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('executions') WHERE name = 'cost_usd'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check cost_usd column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE executions ADD COLUMN cost_usd REAL NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add cost_usd column: %w", err)
		}
	}

	// Scoring columns on agents.
	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('agents') WHERE name = 'score'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check score column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE agents ADD COLUMN score REAL NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add score column: %w", err)
		}
	}

	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('agents') WHERE name = 'memory_used'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check memory_used column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE agents ADD COLUMN memory_used INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add memory_used column: %w", err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for collaborators that query directly.
func (s *Store) DB() *sql.DB {
	return s.db
}

const maxIDAttempts = 10

// NewID generates an opaque id of form <prefix>_<ms>_<hex8>. The random
// suffix carries 32 bits of entropy.
func NewID(prefix string) (string, error) {
	const maxSuffix = int64(1) << 32
	n, err := rand.Int(rand.Reader, big.NewInt(maxSuffix))
	if err != nil {
		return "", fmt.Errorf("store: generate id: %w", err)
	}
	return fmt.Sprintf("%s_%d_%08x", prefix, time.Now().UnixMilli(), n.Int64()), nil
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// nullableMs maps 0 to NULL for optional timestamp columns.
func nullableMs(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func isUniqueIDError(err error, table string) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "unique constraint failed") && strings.Contains(text, table+".id")
}

const taskCols = `id, project_id, title, prompt, category, priority, status, blocked_by, preferred_model, deadline, estimated_duration, attempts, max_attempts, last_error, result, scheduled_for, created_at, updated_at, completed_at`

// priorityBucket orders rows critical < high < medium < low for ready scans.
const priorityBucket = `CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END`

func validateTaskEnums(t *Task) error {
	if !ValidStatus(t.Status) {
		return fmt.Errorf("unknown status %q", t.Status)
	}
	if !ValidPriority(t.Priority) {
		return fmt.Errorf("unknown priority %q", t.Priority)
	}
	if !ValidCategory(t.Category) {
		return fmt.Errorf("unknown category %q", t.Category)
	}
	return nil
}

// InsertTask persists a task and its dependency edges in one transaction.
// A missing id is generated; CreatedAt/UpdatedAt are stamped when zero.
func (s *Store) InsertTask(t *Task) (string, error) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if err := validateTaskEnums(t); err != nil {
		return "", fmt.Errorf("store: insert task: %w", err)
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = nowMs()
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = t.CreatedAt
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		if t.ID == "" {
			id, err := NewID("task")
			if err != nil {
				return "", err
			}
			t.ID = id
		}

		err := s.insertTaskOnce(t)
		if err == nil {
			return t.ID, nil
		}
		if !isUniqueIDError(err, "tasks") {
			return "", fmt.Errorf("store: insert task: %w", err)
		}
		t.ID = ""
	}
	return "", fmt.Errorf("store: insert task: exceeded %d id generation attempts", maxIDAttempts)
}

func (s *Store) insertTaskOnce(t *Task) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertTaskTx(tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTaskTx(tx *sql.Tx, t *Task) error {
	_, err := tx.Exec(
		`INSERT INTO tasks (`+taskCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Prompt, t.Category, t.Priority, t.Status,
		t.BlockedBy, t.PreferredModel, nullableMs(t.Deadline), t.EstimatedDuration,
		t.Attempts, t.MaxAttempts, t.LastError, t.Result, nullableMs(t.ScheduledFor),
		t.CreatedAt, t.UpdatedAt, nullableMs(t.CompletedAt),
	)
	if err != nil {
		return err
	}

	for i, dep := range t.DependsOn {
		if _, err := tx.Exec(
			`INSERT INTO task_deps (task_id, depends_on, position) VALUES (?, ?, ?)`,
			t.ID, dep, i,
		); err != nil {
			return err
		}
	}

	return nil
}

// GetTask returns the task with the given id, or ErrNotFound.
func (s *Store) GetTask(id string) (*Task, error) {
	tasks, err := s.queryTasks(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("store: get task %s: %w", id, ErrNotFound)
	}
	return &tasks[0], nil
}

// UpdateTask rewrites every mutable column of the task row and stamps
// updated_at in the same statement.
func (s *Store) UpdateTask(t *Task) error {
	if err := validateTaskEnums(t); err != nil {
		return fmt.Errorf("store: update task %s: %w", t.ID, err)
	}
	t.UpdatedAt = nowMs()
	res, err := s.db.Exec(
		`UPDATE tasks SET project_id = ?, title = ?, prompt = ?, category = ?, priority = ?,
		 status = ?, blocked_by = ?, preferred_model = ?, deadline = ?, estimated_duration = ?,
		 attempts = ?, max_attempts = ?, last_error = ?, result = ?, scheduled_for = ?,
		 updated_at = ?, completed_at = ? WHERE id = ?`,
		t.ProjectID, t.Title, t.Prompt, t.Category, t.Priority,
		t.Status, t.BlockedBy, t.PreferredModel, nullableMs(t.Deadline), t.EstimatedDuration,
		t.Attempts, t.MaxAttempts, t.LastError, t.Result, nullableMs(t.ScheduledFor),
		t.UpdatedAt, nullableMs(t.CompletedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update task %s: %w", t.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update task %s: %w", t.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("store: update task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// DeleteTask removes a task; its dependency edges cascade.
func (s *Store) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete task %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete task %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("store: delete task %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListTasks returns tasks, optionally filtered by status, newest last.
func (s *Store) ListTasks(statuses ...string) ([]Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return s.queryTasks(query, args...)
}

// TasksByProject returns every task belonging to a project.
func (s *Store) TasksByProject(projectID string) ([]Task, error) {
	return s.queryTasks(`SELECT `+taskCols+` FROM tasks WHERE project_id = ? ORDER BY created_at ASC, id ASC`, projectID)
}

// ReadyTasks returns pending/scheduled tasks whose dependencies are all
// completed and whose scheduled_for (when set) has arrived, ordered by
// priority bucket then created_at.
func (s *Store) ReadyTasks(now int64) ([]Task, error) {
	return s.queryTasks(`SELECT `+taskCols+` FROM tasks AS t
		WHERE t.status IN ('pending', 'scheduled')
		  AND (t.scheduled_for IS NULL OR t.scheduled_for <= ?)
		  AND NOT EXISTS (
			SELECT 1
			FROM task_deps d
			JOIN tasks dep ON dep.id = d.depends_on
			WHERE d.task_id = t.id
			  AND dep.status != 'completed'
		)
		ORDER BY `+priorityBucket+`, t.created_at ASC, t.id ASC`, now)
}

// RunningTasks returns tasks currently marked running.
func (s *Store) RunningTasks() ([]Task, error) {
	return s.ListTasks(StatusRunning)
}

// BlockedTasksWaitingOn returns blocked tasks whose blocked_by marker is the
// given task id. The unblock scan re-checks full dependency completion.
func (s *Store) BlockedTasksWaitingOn(taskID string) ([]Task, error) {
	return s.queryTasks(`SELECT `+taskCols+` FROM tasks WHERE status = 'blocked' AND blocked_by = ?`, taskID)
}

// CountTasksByStatus returns a status → count map covering all tasks.
func (s *Store) CountTasksByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryTasks(query string, args ...any) ([]Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	var ids []string
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query tasks: %w", err)
	}

	deps, err := s.taskDependencies(ids)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].DependsOn = deps[tasks[i].ID]
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(scanner rowScanner) (Task, error) {
	var t Task
	var deadline, scheduledFor, completedAt sql.NullInt64
	if err := scanner.Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Prompt, &t.Category, &t.Priority, &t.Status,
		&t.BlockedBy, &t.PreferredModel, &deadline, &t.EstimatedDuration,
		&t.Attempts, &t.MaxAttempts, &t.LastError, &t.Result, &scheduledFor,
		&t.CreatedAt, &t.UpdatedAt, &completedAt,
	); err != nil {
		return Task{}, fmt.Errorf("store: scan task: %w", err)
	}
	t.Deadline = deadline.Int64
	t.ScheduledFor = scheduledFor.Int64
	t.CompletedAt = completedAt.Int64

	// Enums are validated on read so a corrupted row surfaces immediately.
	if !ValidStatus(t.Status) {
		return Task{}, fmt.Errorf("store: task %s has unknown status %q", t.ID, t.Status)
	}
	if !ValidPriority(t.Priority) {
		return Task{}, fmt.Errorf("store: task %s has unknown priority %q", t.ID, t.Priority)
	}
	if !ValidCategory(t.Category) {
		return Task{}, fmt.Errorf("store: task %s has unknown category %q", t.ID, t.Category)
	}
	return t, nil
}

// taskDependencies loads ordered dependsOn lists for the given task ids.
func (s *Store) taskDependencies(taskIDs []string) (map[string][]string, error) {
	deps := make(map[string][]string, len(taskIDs))
	if len(taskIDs) == 0 {
		return deps, nil
	}

	query := `SELECT task_id, depends_on FROM task_deps WHERE task_id IN (` +
		placeholders(len(taskIDs)) + `) ORDER BY task_id, position`
	args := make([]any, len(taskIDs))
	for i, id := range taskIDs {
		args[i] = id
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID, dep string
		if err := rows.Scan(&taskID, &dep); err != nil {
			return nil, fmt.Errorf("store: scan dependency: %w", err)
		}
		deps[taskID] = append(deps[taskID], dep)
	}
	return deps, rows.Err()
}

// DependentsOf returns ids of tasks that declare a dependency on taskID.
func (s *Store) DependentsOf(taskID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT task_id FROM task_deps WHERE depends_on = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: query dependents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan dependent: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func placeholders(count int) string {
	if count == 0 {
		return ""
	}
	values := make([]string, count)
	for i := range values {
		values[i] = "?"
	}
	return strings.Join(values, ", ")
}
