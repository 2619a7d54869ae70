package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

var now = time.Unix(1_714_564_800, 0).UTC()

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil)
	require.Error(t, err)
	_, err = Open(context.Background(), Config{})
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS platforms").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionClaimsTask(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
		WithArgs("t1", "pending", "running", &now, pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.Transition(context.Background(), "t1", crawler.TaskStatusPending, crawler.TaskStatusRunning,
		crawler.TaskUpdate{StartedAt: &now})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionWritesCounters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	tally := crawler.Tally{Found: 43, Saved: 40, Failed: 3}
	mock.ExpectExec("UPDATE crawl_tasks SET").
		WithArgs("t1", "running", "completed", pgxmock.AnyArg(), &now, crawler.IntPtr(100),
			crawler.IntPtr(43), crawler.IntPtr(40), crawler.IntPtr(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.Transition(context.Background(), "t1", crawler.TaskStatusRunning, crawler.TaskStatusCompleted,
		crawler.TaskUpdate{CompletedAt: &now, Progress: crawler.IntPtr(100), Counters: &tally})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionReportsConflictAndMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE crawl_tasks SET").WithArgs(transitionArgs("t1")...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM crawl_tasks").WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("cancelled"))
	mock.ExpectExec("UPDATE crawl_tasks SET").WithArgs(transitionArgs("ghost")...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM crawl_tasks").WithArgs("ghost").WillReturnError(pgx.ErrNoRows)

	err := store.Transition(context.Background(), "t1", crawler.TaskStatusRunning, crawler.TaskStatusCompleted, crawler.TaskUpdate{})
	require.ErrorIs(t, err, crawler.ErrConflict)
	require.ErrorContains(t, err, "is cancelled")

	err = store.Transition(context.Background(), "ghost", crawler.TaskStatusRunning, crawler.TaskStatusCompleted, crawler.TaskUpdate{})
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgressGuardsRunning(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("GREATEST(progress, $2)")).WithArgs("t1", 50).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("GREATEST(progress, $2)")).WithArgs("t1", 99).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM crawl_tasks").WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("cancelled"))

	require.NoError(t, store.UpdateProgress(context.Background(), "t1", 50))
	require.ErrorIs(t, store.UpdateProgress(context.Background(), "t1", 99), crawler.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTask(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM crawl_tasks WHERE id = ").WithArgs("t1").WillReturnRows(taskRows().
		AddRow("t1", "search-test-netease", "netease", "search", "", "test", 2, 0,
			"completed", 100, 43, 43, 0, now, now, now.Add(time.Minute), now.Add(time.Minute)))
	mock.ExpectQuery("FROM crawl_tasks WHERE id = ").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	task, err := store.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusCompleted, task.Status)
	require.Equal(t, crawler.TaskKindSearch, task.Kind)
	require.Equal(t, crawler.Tally{Found: 43, Saved: 43}, task.Counters)
	require.Equal(t, time.Minute, task.Duration(now.Add(time.Hour)))

	_, err = store.GetTask(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTasksBuildsFilters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND platform = $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4")).
		WithArgs("running", "netease", 10, 20).
		WillReturnRows(taskRows())
	mock.ExpectQuery(regexp.QuoteMeta("FROM crawl_tasks ORDER BY created_at DESC")).
		WillReturnRows(taskRows())

	tasks, err := store.ListTasks(context.Background(), crawler.TaskFilter{
		Status: crawler.TaskStatusRunning, Platform: "netease", Limit: 10, Offset: 20,
	})
	require.NoError(t, err)
	require.Empty(t, tasks)

	_, err = store.ListTasks(context.Background(), crawler.TaskFilter{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountTasksByStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("GROUP BY status").WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
		AddRow("pending", int64(2)).
		AddRow("completed", int64(5)))

	counts, err := store.CountTasksByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[crawler.TaskStatus]int{crawler.TaskStatusPending: 2, crawler.TaskStatusCompleted: 5}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelTaskRejectsTerminal(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("status IN ('pending', 'running')")).WithArgs("t1", now).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM crawl_tasks WHERE id = ").WithArgs("t1").WillReturnRows(taskRows().
		AddRow("t1", "n", "netease", "search", "", "x", 1, 0, "completed", 100, 1, 1, 0, now, now, now, now))

	task, err := store.CancelTask(context.Background(), "t1", now)
	require.ErrorIs(t, err, crawler.ErrConflict)
	require.Equal(t, crawler.TaskStatusCompleted, task.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO crawl_logs").WithArgs("l1", "t1", "info", "task started: x", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE task_id = $1 AND level = $2 ORDER BY created_at DESC, id DESC LIMIT $3")).
		WithArgs("t1", "error", 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "task_id", "level", "message", "created_at"}).
			AddRow("l2", "t1", "error", "task failed: boom", now))

	require.NoError(t, store.AppendLog(context.Background(), crawler.LogEntry{
		ID: "l1", TaskID: "t1", Level: crawler.LogLevelInfo, Message: "task started: x", CreatedAt: now,
	}))
	entries, err := store.ListLogs(context.Background(), "t1", crawler.LogFilter{Level: crawler.LogLevelError, Limit: 5})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, crawler.LogLevelError, entries[0].Level)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlatforms(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO platforms").WithArgs("netease", "https://music.163.com", true, now).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery("FROM platforms WHERE name").WithArgs("kuwo").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM platforms ORDER BY name").WillReturnRows(
		pgxmock.NewRows([]string{"name", "base_url", "active", "created_at"}).
			AddRow("netease", "https://music.163.com", true, now))

	created, err := store.UpsertPlatform(context.Background(), crawler.Platform{
		Name: "netease", BaseURL: "https://music.163.com", Active: true, CreatedAt: now,
	})
	require.NoError(t, err)
	require.True(t, created)

	_, err = store.GetPlatform(context.Background(), "kuwo")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	platforms, err := store.ListPlatforms(context.Background())
	require.NoError(t, err)
	require.Len(t, platforms, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertArtistReportsInsert(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	bio := "Taiwanese singer"
	rec := crawler.ArtistRecord{ExternalID: "6452", Name: "Jay Chou", Biography: &bio}
	cols := []string{"id", "platform", "external_id", "name", "biography", "url", "created_at", "updated_at", "inserted"}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (platform, external_id) DO UPDATE")).
		WithArgs("a1", "netease", "6452", "Jay Chou", &bio, (*string)(nil), now).
		WillReturnRows(pgxmock.NewRows(cols).AddRow("a1", "netease", "6452", "Jay Chou", bio, "", now, now, true))
	mock.ExpectQuery("INSERT INTO artists").
		WithArgs("a2", "netease", "6452", "Jay Chou", &bio, (*string)(nil), now).
		WillReturnRows(pgxmock.NewRows(cols).AddRow("a1", "netease", "6452", "Jay Chou", bio, "", now, now, false))

	artist, created, err := store.UpsertArtist(context.Background(), crawler.ArtistUpsert{ID: "a1", Platform: "netease", Record: rec, At: now})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "a1", artist.ID)

	artist, created, err = store.UpsertArtist(context.Background(), crawler.ArtistUpsert{ID: "a2", Platform: "netease", Record: rec, At: now})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "a1", artist.ID, "existing row keeps its id")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAlbumMissingArtist(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO albums").
		WithArgs("al1", "netease", "18905", "missing", "Fantasy",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnError(&pgconn.PgError{Code: foreignKeyViolation, ConstraintName: "albums_artist_id_fkey"})

	_, _, err := store.UpsertAlbum(context.Background(), crawler.AlbumUpsert{
		ID: "al1", Platform: "netease", ArtistID: "missing",
		Record: crawler.AlbumRecord{ExternalID: "18905", Title: "Fantasy"}, At: now,
	})
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSongPassesNullAlbum(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO songs").
		WithArgs("s1", "netease", "185811", "a1", (*string)(nil), "Simple Love", crawler.IntPtr(269),
			(*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), crawler.Int64Ptr(42), (*int64)(nil), now).
		WillReturnError(pgx.ErrTxClosed)

	_, _, err := store.UpsertSong(context.Background(), crawler.SongUpsert{
		ID: "s1", Platform: "netease", ArtistID: "a1",
		Record: crawler.SongRecord{ExternalID: "185811", Title: "Simple Love", Duration: crawler.IntPtr(269), PlayCount: crawler.Int64Ptr(42)},
		At:     now,
	})
	require.ErrorIs(t, err, pgx.ErrTxClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func taskRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "name", "platform", "kind", "target_url", "search_keyword", "max_pages", "delay_seconds",
		"status", "progress", "items_found", "items_saved", "items_failed",
		"created_at", "started_at", "completed_at", "updated_at",
	})
}

// transitionArgs matches a running → completed transition with no update fields.
func transitionArgs(taskID string) []any {
	args := []any{taskID, "running", "completed"}
	for range 6 {
		args = append(args, pgxmock.AnyArg())
	}
	return args
}
