// Package postgres provides the Postgres-backed task, log, platform and
// entity stores.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

//go:embed schema.sql
var schema string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements crawler.Store on Postgres.
type Store struct {
	pool pool
}

var _ crawler.Store = (*Store)(nil)

// Open creates a pooled Store using the provided config.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

const taskColumns = `id, name, platform, kind, target_url, search_keyword, max_pages, delay_seconds,
	status, progress, items_found, items_saved, items_failed,
	created_at, started_at, completed_at, updated_at`

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, task crawler.Task) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_tasks (`+taskColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
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
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM crawl_tasks WHERE id = $1`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	add := func(column string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}
	if filter.Platform != "" {
		add("platform", filter.Platform)
	}
	if filter.Kind != "" {
		add("kind", string(filter.Kind))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + taskColumns + ` FROM crawl_tasks`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
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
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM crawl_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()
	counts := make(map[crawler.TaskStatus]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[crawler.TaskStatus(status)] = int(n)
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
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_tasks SET
	status = $3,
	started_at = COALESCE($4, started_at),
	completed_at = COALESCE($5, completed_at),
	progress = COALESCE($6, progress),
	items_found = COALESCE($7, items_found),
	items_saved = COALESCE($8, items_saved),
	items_failed = COALESCE($9, items_failed),
	updated_at = now()
WHERE id = $1 AND status = $2`,
		taskID,
		string(from),
		string(to),
		update.StartedAt,
		update.CompletedAt,
		update.Progress,
		found,
		saved,
		failed,
	)
	if err != nil {
		return fmt.Errorf("transition task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missedGuard(ctx, taskID, "expected "+string(from))
	}
	return nil
}

// UpdateProgress raises the progress of a running task.
func (s *Store) UpdateProgress(ctx context.Context, taskID string, progress int) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_tasks SET progress = GREATEST(progress, $2), updated_at = now()
WHERE id = $1 AND status = 'running'`, taskID, progress)
	if err != nil {
		return fmt.Errorf("update progress %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missedGuard(ctx, taskID, "expected running")
	}
	return nil
}

// CancelTask cancels a pending or running task.
func (s *Store) CancelTask(ctx context.Context, taskID string, at time.Time) (crawler.Task, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE crawl_tasks SET status = 'cancelled', completed_at = $2, updated_at = $2
WHERE id = $1 AND status IN ('pending', 'running')
RETURNING `+taskColumns, taskID, at)
	task, err := scanTask(row)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return crawler.Task{}, fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	current, getErr := s.GetTask(ctx, taskID)
	if getErr != nil {
		return crawler.Task{}, getErr
	}
	return current, fmt.Errorf("%w: task %s is %s", crawler.ErrConflict, taskID, current.Status)
}

// missedGuard explains why a guarded update touched no rows.
func (s *Store) missedGuard(ctx context.Context, taskID, expectation string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM crawl_tasks WHERE id = $1`, taskID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reload task %s: %w", taskID, err)
	}
	return fmt.Errorf("%w: task %s is %s, %s", crawler.ErrConflict, taskID, status, expectation)
}

// AppendLog inserts one log entry.
func (s *Store) AppendLog(ctx context.Context, entry crawler.LogEntry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_logs (id, task_id, level, message, created_at) VALUES ($1,$2,$3,$4,$5)`,
		entry.ID, entry.TaskID, string(entry.Level), entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// ListLogs returns the log entries of a task, newest first.
func (s *Store) ListLogs(ctx context.Context, taskID string, filter crawler.LogFilter) ([]crawler.LogEntry, error) {
	query := `SELECT id, task_id, level, message, created_at FROM crawl_logs WHERE task_id = $1`
	args := []any{taskID}
	if filter.Level != "" {
		args = append(args, string(filter.Level))
		query += fmt.Sprintf(" AND level = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
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
	err := s.pool.QueryRow(ctx, `SELECT name, base_url, active, created_at FROM platforms WHERE name = $1`, name).
		Scan(&p.Name, &p.BaseURL, &p.Active, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Platform{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Platform{}, fmt.Errorf("select platform: %w", err)
	}
	return p, nil
}

// ListPlatforms returns every platform sorted by name.
func (s *Store) ListPlatforms(ctx context.Context) ([]crawler.Platform, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, base_url, active, created_at FROM platforms ORDER BY name`)
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
		createdAt = time.Now().UTC()
	}
	var inserted bool
	err := s.pool.QueryRow(ctx, `
INSERT INTO platforms (name, base_url, active, created_at) VALUES ($1,$2,$3,$4)
ON CONFLICT (name) DO UPDATE SET base_url = EXCLUDED.base_url, active = EXCLUDED.active
RETURNING (xmax = 0)`, p.Name, p.BaseURL, p.Active, createdAt).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert platform %s: %w", p.Name, err)
	}
	return inserted, nil
}

func scanTask(row pgx.Row) (crawler.Task, error) {
	var (
		t                  crawler.Task
		kind, status       string
		started, completed pgtype.Timestamptz
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
	t.StartedAt = timePtr(started)
	t.CompletedAt = timePtr(completed)
	return t, nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
