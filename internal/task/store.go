package task

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// ErrNotFound is returned when a task doesn't exist.
var ErrNotFound = errors.New("task not found")

// Store persists task records in SQLite. All mutation goes through the
// store's statements, so SQLite's single-writer semantics give each
// task a total order of transitions; the guard primitives below use
// conditional UPDATEs as the atomic compare-and-swap.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates a task store at the given path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes all writes, so the conditional UPDATEs
	// below behave as compare-and-swap without SQLITE_BUSY handling.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			task_id           TEXT PRIMARY KEY,
			status            TEXT NOT NULL,
			finalization      TEXT NOT NULL DEFAULT 'none',
			container_name    TEXT NOT NULL DEFAULT '',
			interactive       INTEGER NOT NULL DEFAULT 0,
			exit_code         INTEGER,
			reason            TEXT NOT NULL DEFAULT '',
			finalize_attempts INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL,
			started_at        TEXT,
			finished_at       TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_finalization ON tasks(finalization);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a new task record.
func (s *Store) Create(t *Task) error {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Finalization == "" {
		t.Finalization = FinalizeNone
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO tasks (task_id, status, finalization, container_name, interactive, exit_code, reason, finalize_attempts, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, string(t.Status), string(t.Finalization), t.ContainerName, boolToInt(t.Interactive),
		nullableInt(t.ExitCode), t.Reason, t.FinalizeAttempts,
		formatTime(t.CreatedAt), nullableTime(t.StartedAt), nullableTime(t.FinishedAt))
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *Store) Get(id string) (*Task, error) {
	row := s.db.QueryRow(selectColumns+` WHERE task_id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// List returns all tasks, newest first.
func (s *Store) List() ([]*Task, error) {
	return s.query(selectColumns + ` ORDER BY created_at DESC`)
}

// ListNonTerminal returns every task whose finalization has not completed.
// This is the recovery pass's worklist.
func (s *Store) ListNonTerminal() ([]*Task, error) {
	return s.query(selectColumns+` WHERE finalization != ? ORDER BY created_at`, string(FinalizeDone))
}

// SetRunning records the container name and start time as the runner
// takes ownership of the task.
func (s *Store) SetRunning(id, containerName string, startedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, container_name = ?, started_at = ?
		WHERE task_id = ?
	`, string(StatusRunning), containerName, formatTime(startedAt), id)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return requireRow(res)
}

// SetStatus updates the task's status without touching outcome fields.
func (s *Store) SetStatus(id string, status Status) error {
	res, err := s.db.Exec(`UPDATE tasks SET status = ? WHERE task_id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return requireRow(res)
}

// SetOutcome records an observed exit: status, exit code, finish time, and
// reason. Idempotent by construction; a second write with the same marker
// data leaves the row unchanged.
func (s *Store) SetOutcome(id string, status Status, exitCode *int, finishedAt time.Time, reason string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, exit_code = ?, finished_at = ?, reason = ?
		WHERE task_id = ?
	`, string(status), nullableInt(exitCode), nullableTime(finishedAt), reason, id)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return requireRow(res)
}

// TryQueueFinalization atomically advances finalization none -> queued.
// Returns false without touching the row when the state is already
// queued, running, or done. This single conditional UPDATE is what makes
// finalization exactly-once across concurrent trigger sources.
func (s *Store) TryQueueFinalization(id string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET finalization = ?
		WHERE task_id = ? AND finalization = ?
	`, string(FinalizeQueued), id, string(FinalizeNone))
	if err != nil {
		return false, fmt.Errorf("queueing finalization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// BeginFinalize advances queued -> running and bumps the attempt counter.
// Returns false if the task is not queued, so at most one worker holds
// the running sub-state.
func (s *Store) BeginFinalize(id string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET finalization = ?, finalize_attempts = finalize_attempts + 1
		WHERE task_id = ? AND finalization = ?
	`, string(FinalizeRunning), id, string(FinalizeQueued))
	if err != nil {
		return false, fmt.Errorf("beginning finalization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishFinalize advances running -> done.
func (s *Store) FinishFinalize(id string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET finalization = ?
		WHERE task_id = ? AND finalization = ?
	`, string(FinalizeDone), id, string(FinalizeRunning))
	if err != nil {
		return fmt.Errorf("finishing finalization: %w", err)
	}
	return requireRow(res)
}

// RequeueStuckFinalize handles a crash mid-finalization: a task stuck in
// running is put back to queued for retry, but only while the attempt
// count stays under maxAttempts, so a permanently broken staging path
// cannot loop forever. Returns true if the task was requeued.
func (s *Store) RequeueStuckFinalize(id string, maxAttempts int) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET finalization = ?
		WHERE task_id = ? AND finalization = ? AND finalize_attempts < ?
	`, string(FinalizeQueued), id, string(FinalizeRunning), maxAttempts)
	if err != nil {
		return false, fmt.Errorf("requeueing finalization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const selectColumns = `
	SELECT task_id, status, finalization, container_name, interactive, exit_code, reason, finalize_attempts, created_at, started_at, finished_at
	FROM tasks`

func (s *Store) query(q string, args ...any) ([]*Task, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*Task, error) {
	var t Task
	var status, finalization string
	var interactive int
	var exitCode sql.NullInt64
	var createdAt string
	var startedAt, finishedAt sql.NullString

	err := row.Scan(&t.ID, &status, &finalization, &t.ContainerName, &interactive,
		&exitCode, &t.Reason, &t.FinalizeAttempts, &createdAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.Finalization = FinalizationState(finalization)
	t.Interactive = interactive != 0
	if exitCode.Valid {
		code := int(exitCode.Int64)
		t.ExitCode = &code
	}
	t.CreatedAt = parseTime(createdAt)
	if startedAt.Valid {
		t.StartedAt = parseTime(startedAt.String)
	}
	if finishedAt.Valid {
		t.FinishedAt = parseTime(finishedAt.String)
	}
	return &t, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
