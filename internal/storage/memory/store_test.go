package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestStoreTaskLifecycle(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	task := crawler.Task{ID: "task-1", Platform: "netease", Kind: crawler.TaskKindSearch, Status: crawler.TaskStatusPending, CreatedAt: testNow}

	require.NoError(t, store.CreateTask(ctx, task))
	require.Error(t, store.CreateTask(ctx, task))

	started := testNow.Add(time.Second)
	require.NoError(t, store.Transition(ctx, task.ID, crawler.TaskStatusPending, crawler.TaskStatusRunning, crawler.TaskUpdate{StartedAt: &started}))

	err := store.Transition(ctx, task.ID, crawler.TaskStatusPending, crawler.TaskStatusRunning, crawler.TaskUpdate{})
	require.ErrorIs(t, err, crawler.ErrConflict)

	require.NoError(t, store.UpdateProgress(ctx, task.ID, 50))
	require.NoError(t, store.UpdateProgress(ctx, task.ID, 20))
	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 50, got.Progress)

	done := testNow.Add(time.Minute)
	tally := crawler.Tally{Found: 3, Saved: 2, Failed: 1}
	require.NoError(t, store.Transition(ctx, task.ID, crawler.TaskStatusRunning, crawler.TaskStatusCompleted, crawler.TaskUpdate{
		CompletedAt: &done,
		Progress:    crawler.IntPtr(100),
		Counters:    &tally,
	}))

	got, err = store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
	require.Equal(t, tally, got.Counters)
	require.Equal(t, started, *got.StartedAt)
	require.Equal(t, done, *got.CompletedAt)

	require.ErrorIs(t, store.UpdateProgress(ctx, task.ID, 100), crawler.ErrConflict)
	_, err = store.CancelTask(ctx, task.ID, done)
	require.ErrorIs(t, err, crawler.ErrConflict)

	_, err = store.GetTask(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestStoreCancelPendingTask(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, crawler.Task{ID: "t", Status: crawler.TaskStatusPending}))

	cancelled, err := store.CancelTask(ctx, "t", testNow)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusCancelled, cancelled.Status)
	require.Equal(t, testNow, *cancelled.CompletedAt)

	err = store.Transition(ctx, "t", crawler.TaskStatusPending, crawler.TaskStatusRunning, crawler.TaskUpdate{})
	require.ErrorIs(t, err, crawler.ErrConflict)
}

func TestStoreListTasksFiltersAndCounts(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	for i, status := range []crawler.TaskStatus{crawler.TaskStatusPending, crawler.TaskStatusPending, crawler.TaskStatusFailed} {
		require.NoError(t, store.CreateTask(ctx, crawler.Task{
			ID:        fmt.Sprintf("t%d", i),
			Platform:  "netease",
			Kind:      crawler.TaskKindSearch,
			Status:    status,
			CreatedAt: testNow.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.CreateTask(ctx, crawler.Task{ID: "q", Platform: "qq", Kind: crawler.TaskKindArtist, Status: crawler.TaskStatusPending, CreatedAt: testNow}))

	pending, err := store.ListTasks(ctx, crawler.TaskFilter{Status: crawler.TaskStatusPending, Platform: "netease"})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "t1", pending[0].ID)

	artists, err := store.ListTasks(ctx, crawler.TaskFilter{Kind: crawler.TaskKindArtist})
	require.NoError(t, err)
	require.Len(t, artists, 1)

	page, err := store.ListTasks(ctx, crawler.TaskFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)

	counts, err := store.CountTasksByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, counts[crawler.TaskStatusPending])
	require.Equal(t, 1, counts[crawler.TaskStatusFailed])
}

func TestStoreListLogsNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	levels := []crawler.LogLevel{crawler.LogLevelInfo, crawler.LogLevelDebug, crawler.LogLevelError}
	for i, level := range levels {
		require.NoError(t, store.AppendLog(ctx, crawler.LogEntry{
			ID:        fmt.Sprintf("l%d", i),
			TaskID:    "t",
			Level:     level,
			Message:   fmt.Sprintf("msg %d", i),
			CreatedAt: testNow,
		}))
	}

	all, err := store.ListLogs(ctx, "t", crawler.LogFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"l2", "l1", "l0"}, logIDs(all))

	errs, err := store.ListLogs(ctx, "t", crawler.LogFilter{Level: crawler.LogLevelError})
	require.NoError(t, err)
	require.Equal(t, []string{"l2"}, logIDs(errs))

	limited, err := store.ListLogs(ctx, "t", crawler.LogFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestStoreUpsertPlatform(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	created, err := store.UpsertPlatform(ctx, crawler.Platform{Name: "netease", BaseURL: "https://a", Active: true, CreatedAt: testNow})
	require.NoError(t, err)
	require.True(t, created)

	created, err = store.UpsertPlatform(ctx, crawler.Platform{Name: "netease", BaseURL: "https://b", Active: false, CreatedAt: testNow.Add(time.Hour)})
	require.NoError(t, err)
	require.False(t, created)

	p, err := store.GetPlatform(ctx, "netease")
	require.NoError(t, err)
	require.Equal(t, "https://b", p.BaseURL)
	require.False(t, p.Active)
	require.Equal(t, testNow, p.CreatedAt)
}

func TestStoreUpsertArtistMerge(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	first, created, err := store.UpsertArtist(ctx, crawler.ArtistUpsert{
		ID:       "a1",
		Platform: "netease",
		Record:   crawler.ArtistRecord{ExternalID: "6452", Name: "Jay", Biography: crawler.StringPtr("bio")},
		At:       testNow,
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "bio", first.Biography)

	second, created, err := store.UpsertArtist(ctx, crawler.ArtistUpsert{
		ID:       "a2",
		Platform: "netease",
		Record:   crawler.ArtistRecord{ExternalID: "6452", Name: "Jay Chou"},
		At:       testNow.Add(time.Hour),
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "a1", second.ID)
	require.Equal(t, "Jay Chou", second.Name)
	require.Equal(t, "bio", second.Biography)
	require.Equal(t, testNow, second.CreatedAt)
	require.Len(t, store.Artists(), 1)

	other, created, err := store.UpsertArtist(ctx, crawler.ArtistUpsert{
		ID:       "a3",
		Platform: "qq",
		Record:   crawler.ArtistRecord{ExternalID: "6452", Name: "Jay"},
		At:       testNow,
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "a3", other.ID)
}

func TestStoreUpsertSongOverwritesCounters(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	_, _, err := store.UpsertArtist(ctx, crawler.ArtistUpsert{ID: "a1", Platform: "netease", Record: crawler.ArtistRecord{ExternalID: "1", Name: "A"}, At: testNow})
	require.NoError(t, err)
	_, _, err = store.UpsertAlbum(ctx, crawler.AlbumUpsert{ID: "al1", Platform: "netease", ArtistID: "a1", Record: crawler.AlbumRecord{ExternalID: "10", Title: "Al"}, At: testNow})
	require.NoError(t, err)

	song, created, err := store.UpsertSong(ctx, crawler.SongUpsert{
		ID:       "s1",
		Platform: "netease",
		ArtistID: "a1",
		AlbumID:  "al1",
		Record: crawler.SongRecord{
			ExternalID: "100",
			Title:      "Song",
			Genre:      crawler.StringPtr("pop"),
			PlayCount:  crawler.Int64Ptr(10),
			Duration:   crawler.IntPtr(200),
		},
		At: testNow,
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(10), song.PlayCount)

	song, created, err = store.UpsertSong(ctx, crawler.SongUpsert{
		ID:       "s2",
		Platform: "netease",
		ArtistID: "a1",
		Record:   crawler.SongRecord{ExternalID: "100", Title: "Song", PlayCount: crawler.Int64Ptr(4)},
		At:       testNow.Add(time.Hour),
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "s1", song.ID)
	require.Equal(t, int64(4), song.PlayCount)
	require.Equal(t, "pop", song.Genre)
	require.Equal(t, 200, *song.Duration)
	require.Equal(t, "al1", song.AlbumID)
}

func TestStoreUpsertSongRequiresArtist(t *testing.T) {
	t.Parallel()

	_, _, err := NewStore().UpsertSong(context.Background(), crawler.SongUpsert{
		ID:       "s1",
		Platform: "netease",
		ArtistID: "missing",
		Record:   crawler.SongRecord{ExternalID: "1", Title: "x"},
	})
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestStoreConcurrentUpsertsKeepOneRow(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := store.UpsertArtist(ctx, crawler.ArtistUpsert{
				ID:       fmt.Sprintf("a%d", i),
				Platform: "netease",
				Record:   crawler.ArtistRecord{ExternalID: "same", Name: "A"},
				At:       testNow,
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.Len(t, store.Artists(), 1)
}

func logIDs(entries []crawler.LogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
