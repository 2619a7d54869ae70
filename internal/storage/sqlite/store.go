// Package sqlite provides a single-file store for local runs of the crawler.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

//go:embed schema.sql
var schema string

// Store implements crawler.Store on SQLite. All access goes through one
// connection, which serializes writers.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ crawler.Store = (*Store)(nil)

// Open opens the database at path (":memory:" for an in-memory database)
// and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=on"
	}
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const taskColumns = `id, name, platform, kind, target_url, search_keyword, max_pages, delay_seconds,
	status, progress, items_found, items_saved, items_failed,
	created_at, started_at, completed_at, updated_at`

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, task crawler.Task) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO crawl_tasks (`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		task.ID,
		task.Name,
		task.Platform,
		string(task.Kind),
		task.TargetURL,
		task.SearchKeyword,
		task.MaxPages,
		task.DelaySeconds,
		string(task.Status),
		task.Progress,
		task.Counters.Found,
		task.Counters.Saved,
		task.Counters.Failed,
		task.CreatedAt,
		task.StartedAt,
		task.CompletedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask fetches a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID string) (crawler.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM crawl_tasks WHERE id = ?`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Task{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Task{}, fmt.Errorf("select task: %w", err)
	}
	return task, nil
}

// ListTasks returns matching tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, filter crawler.TaskFilter) ([]crawler.Task, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(filter.Status))
	}
	if filter.Platform != "" {
		where, args = append(where, "platform = ?"), append(args, filter.Platform)
	}
	if filter.Kind != "" {
		where, args = append(where, "kind = ?"), append(args, string(filter.Kind))
	}
	query := `SELECT ` + taskColumns + ` FROM crawl_tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var tasks []crawler.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// CountTasksByStatus returns the number of tasks per status.
func (s *Store) CountTasksByStatus(ctx context.Context) (map[crawler.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM crawl_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()
	counts := make(map[crawler.TaskStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[crawler.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	return counts, nil
}

// Transition moves a task from one status to another if it is currently in from.
func (s *Store) Transition(
	ctx context.Context,
	taskID string,
	from, to crawler.TaskStatus,
	update crawler.TaskUpdate,
) error {
	var found, saved, failed *int
	if update.Counters != nil {
		found, saved, failed = &update.Counters.Found, &update.Counters.Saved, &update.Counters.Failed
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE crawl_tasks SET
	status = ?,
	started_at = COALESCE(?, started_at),
	completed_at = COALESCE(?, completed_at),
	progress = COALESCE(?, progress),
	items_found = COALESCE(?, items_found),
	items_saved = COALESCE(?, items_saved),
	items_failed = COALESCE(?, items_failed),
	updated_at = ?
WHERE id = ? AND status = ?`,
		string(to),
		update.StartedAt,
		update.CompletedAt,
		update.Progress,
		found,
		saved,
		failed,
		s.now(),
		taskID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("transition task %s: %w", taskID, err)
	}
	return s.guarded(ctx, res, taskID, "expected "+string(from))
}

// UpdateProgress raises the progress of a running task.
func (s *Store) UpdateProgress(ctx context.Context, taskID string, progress int) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE crawl_tasks SET progress = MAX(progress, ?), updated_at = ?
WHERE id = ? AND status = 'running'`, progress, s.now(), taskID)
	if err != nil {
		return fmt.Errorf("update progress %s: %w", taskID, err)
	}
	return s.guarded(ctx, res, taskID, "expected running")
}

// CancelTask cancels a pending or running task.
func (s *Store) CancelTask(ctx context.Context, taskID string, at time.Time) (crawler.Task, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE crawl_tasks SET status = 'cancelled', completed_at = ?, updated_at = ?
WHERE id = ? AND status IN ('pending', 'running')`, at, at, taskID)
	if err != nil {
		return crawler.Task{}, fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	guardErr := s.guarded(ctx, res, taskID, "expected pending or running")
	if errors.Is(guardErr, crawler.ErrNotFound) {
		return crawler.Task{}, guardErr
	}
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return crawler.Task{}, err
	}
	return task, guardErr
}

// guarded turns a zero-row guarded update into ErrNotFound or ErrConflict.
func (s *Store) guarded(ctx context.Context, res sql.Result, taskID, expectation string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM crawl_tasks WHERE id = ?`, taskID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reload task %s: %w", taskID, err)
	}
	return fmt.Errorf("%w: task %s is %s, %s", crawler.ErrConflict, taskID, status, expectation)
}

// AppendLog inserts one log entry.
func (s *Store) AppendLog(ctx context.Context, entry crawler.LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO crawl_logs (id, task_id, level, message, created_at) VALUES (?,?,?,?,?)`,
		entry.ID, entry.TaskID, string(entry.Level), entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// ListLogs returns the log entries of a task, newest first.
func (s *Store) ListLogs(ctx context.Context, taskID string, filter crawler.LogFilter) ([]crawler.LogEntry, error) {
	query := `SELECT id, task_id, level, message, created_at FROM crawl_logs WHERE task_id = ?`
	args := []any{taskID}
	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, string(filter.Level))
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()
	var entries []crawler.LogEntry
	for rows.Next() {
		var (
			e     crawler.LogEntry
			level string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &level, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.Level = crawler.LogLevel(level)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return entries, nil
}

// GetPlatform fetches a platform by name.
func (s *Store) GetPlatform(ctx context.Context, name string) (crawler.Platform, error) {
	var p crawler.Platform
	err := s.db.QueryRowContext(ctx, `SELECT name, base_url, active, created_at FROM platforms WHERE name = ?`, name).
		Scan(&p.Name, &p.BaseURL, &p.Active, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Platform{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Platform{}, fmt.Errorf("select platform: %w", err)
	}
	return p, nil
}

// ListPlatforms returns every platform sorted by name.
func (s *Store) ListPlatforms(ctx context.Context) ([]crawler.Platform, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, base_url, active, created_at FROM platforms ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list platforms: %w", err)
	}
	defer rows.Close()
	var out []crawler.Platform
	for rows.Next() {
		var p crawler.Platform
		if err := rows.Scan(&p.Name, &p.BaseURL, &p.Active, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan platform: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list platforms: %w", err)
	}
	return out, nil
}

// UpsertPlatform creates the platform or refreshes its base URL and active flag.
func (s *Store) UpsertPlatform(ctx context.Context, p crawler.Platform) (bool, error) {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO platforms (name, base_url, active, created_at) VALUES (?,?,?,?)
ON CONFLICT (name) DO NOTHING`, p.Name, p.BaseURL, p.Active, createdAt)
	if err != nil {
		return false, fmt.Errorf("insert platform %s: %w", p.Name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE platforms SET base_url = ?, active = ? WHERE name = ?`,
		p.BaseURL, p.Active, p.Name); err != nil {
		return false, fmt.Errorf("update platform %s: %w", p.Name, err)
	}
	return false, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (crawler.Task, error) {
	var (
		t                  crawler.Task
		kind, status       string
		started, completed sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Platform,
		&kind,
		&t.TargetURL,
		&t.SearchKeyword,
		&t.MaxPages,
		&t.DelaySeconds,
		&status,
		&t.Progress,
		&t.Counters.Found,
		&t.Counters.Saved,
		&t.Counters.Failed,
		&t.CreatedAt,
		&started,
		&completed,
		&t.UpdatedAt,
	)
	if err != nil {
		return crawler.Task{}, err
	}
	t.Kind = crawler.TaskKind(kind)
	t.Status = crawler.TaskStatus(status)
	t.StartedAt = nullTime(started)
	t.CompletedAt = nullTime(completed)
	return t, nil
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// ownerError maps a foreign key failure to crawler.ErrNotFound.
func ownerError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return fmt.Errorf("%w: %v", crawler.ErrNotFound, err)
	}
	return err
}
