package crawler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateTask(t *testing.T) {
	t.Parallel()

	defaults := TaskDefaults{MaxPages: 5, DelaySeconds: 3}
	cases := []struct {
		name    string
		req     TaskRequest
		wantErr bool
	}{
		{
			name: "search with keyword",
			req:  TaskRequest{Platform: "netease", Kind: TaskKindSearch, SearchKeyword: "jay"},
		},
		{
			name:    "search without keyword",
			req:     TaskRequest{Platform: "netease", Kind: TaskKindSearch},
			wantErr: true,
		},
		{
			name: "artist with url",
			req:  TaskRequest{Platform: "netease", Kind: TaskKindArtist, TargetURL: "https://music.163.com/#/artist?id=6452"},
		},
		{
			name:    "album without url",
			req:     TaskRequest{Platform: "netease", Kind: TaskKindAlbum, SearchKeyword: "jay"},
			wantErr: true,
		},
		{
			name:    "relative url",
			req:     TaskRequest{Platform: "netease", Kind: TaskKindPlaylist, TargetURL: "playlist?id=1"},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			req:     TaskRequest{Platform: "netease", Kind: "radio", SearchKeyword: "jay"},
			wantErr: true,
		},
		{
			name:    "missing platform",
			req:     TaskRequest{Kind: TaskKindSearch, SearchKeyword: "jay"},
			wantErr: true,
		},
		{
			name:    "negative pages",
			req:     TaskRequest{Platform: "netease", Kind: TaskKindSearch, SearchKeyword: "jay", MaxPages: -1},
			wantErr: true,
		},
		{
			name:    "negative delay",
			req:     TaskRequest{Platform: "netease", Kind: TaskKindSearch, SearchKeyword: "jay", DelaySeconds: IntPtr(-2)},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateTask(tc.req.Normalize(defaults))
			if tc.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrInvalidTask))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNormalizeAppliesDefaults(t *testing.T) {
	t.Parallel()

	req := TaskRequest{Platform: " NetEase ", Kind: "SEARCH", SearchKeyword: "  jay "}
	got := req.Normalize(TaskDefaults{MaxPages: 5, DelaySeconds: 3})

	require.Equal(t, "netease", got.Platform)
	require.Equal(t, TaskKindSearch, got.Kind)
	require.Equal(t, "jay", got.SearchKeyword)
	require.Equal(t, 5, got.MaxPages)
	require.NotNil(t, got.DelaySeconds)
	require.Equal(t, 3, *got.DelaySeconds)

	zero := TaskRequest{Platform: "qq", Kind: TaskKindSearch, SearchKeyword: "x", DelaySeconds: IntPtr(0)}
	require.Equal(t, 0, *zero.Normalize(TaskDefaults{DelaySeconds: 3}).DelaySeconds)
}

func TestNewTaskDefaultsName(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	task := NewTask("task-1", TaskRequest{
		Platform:      "netease",
		Kind:          TaskKindSearch,
		SearchKeyword: "jay",
		MaxPages:      2,
		DelaySeconds:  IntPtr(1),
	}, now)

	require.Equal(t, "search-jay-netease", task.Name)
	require.Equal(t, TaskStatusPending, task.Status)
	require.Equal(t, 0, task.Progress)
	require.Equal(t, Tally{}, task.Counters)
	require.Equal(t, now, task.CreatedAt)
	require.Nil(t, task.StartedAt)

	named := NewTask("task-2", TaskRequest{Name: "nightly", Platform: "qq", Kind: TaskKindArtist, TargetURL: "https://y.qq.com/a"}, now)
	require.Equal(t, "nightly", named.Name)
	require.Equal(t, 0, named.DelaySeconds)
}

func TestTaskDuration(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	now := start.Add(10 * time.Minute)

	require.Zero(t, Task{}.Duration(now))
	require.Equal(t, 10*time.Minute, Task{StartedAt: &start}.Duration(now))
	require.Equal(t, 90*time.Second, Task{StartedAt: &start, CompletedAt: &end}.Duration(now))
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, TaskStatusPending.Terminal())
	require.False(t, TaskStatusRunning.Terminal())
	require.True(t, TaskStatusCompleted.Terminal())
	require.True(t, TaskStatusFailed.Terminal())
	require.True(t, TaskStatusCancelled.Terminal())
	require.False(t, TaskStatus("paused").Valid())
}

func TestFetchErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := error(&FetchError{URL: "https://example.com", StatusCode: 503, Cause: cause})
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "status 503")

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, 503, fe.StatusCode)
}

func TestTallyAdd(t *testing.T) {
	t.Parallel()

	total := Tally{Found: 1}
	total.Add(Tally{Found: 2, Saved: 2, Failed: 1})
	require.Equal(t, Tally{Found: 3, Saved: 2, Failed: 1}, total)
}
