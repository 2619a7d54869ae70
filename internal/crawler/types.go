// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values persisted in the task store.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further automatic transition leaves the status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// AllTaskStatuses lists statuses in lifecycle order.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusPending,
		TaskStatusRunning,
		TaskStatusCompleted,
		TaskStatusFailed,
		TaskStatusCancelled,
	}
}

// TaskKind selects the crawl mode of a task.
type TaskKind string

// Supported task kinds.
const (
	TaskKindSearch   TaskKind = "search"
	TaskKindArtist   TaskKind = "artist"
	TaskKindAlbum    TaskKind = "album"
	TaskKindPlaylist TaskKind = "playlist"
)

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindSearch, TaskKindArtist, TaskKindAlbum, TaskKindPlaylist:
		return true
	default:
		return false
	}
}

// LogLevel is the severity of a task log entry.
type LogLevel string

// Log levels accepted by the log store.
const (
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warning"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

// Valid reports whether l is a known level.
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelCritical:
		return true
	default:
		return false
	}
}

// Platform is a music platform the crawler can target.
type Platform struct {
	Name      string    `json:"name"`
	BaseURL   string    `json:"base_url"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Tally is the found/saved/failed triple produced by one strategy run.
type Tally struct {
	Found  int `json:"found"`
	Saved  int `json:"saved"`
	Failed int `json:"failed"`
}

// Add accumulates other into t.
func (t *Tally) Add(other Tally) {
	t.Found += other.Found
	t.Saved += other.Saved
	t.Failed += other.Failed
}

// Task is the persisted record of one crawl request.
type Task struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Platform      string     `json:"platform"`
	Kind          TaskKind   `json:"kind"`
	TargetURL     string     `json:"target_url,omitempty"`
	SearchKeyword string     `json:"search_keyword,omitempty"`
	MaxPages      int        `json:"max_pages"`
	DelaySeconds  int        `json:"delay_seconds"`
	Status        TaskStatus `json:"status"`
	Progress      int        `json:"progress"`
	Counters      Tally      `json:"counters"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Duration returns how long the task ran, or has been running as of now.
// It is zero for tasks that never started.
func (t Task) Duration(now time.Time) time.Duration {
	switch {
	case t.StartedAt == nil:
		return 0
	case t.CompletedAt != nil:
		return t.CompletedAt.Sub(*t.StartedAt)
	default:
		return now.Sub(*t.StartedAt)
	}
}

// TaskUpdate carries the optional fields written alongside a status transition.
type TaskUpdate struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
	Progress    *int
	Counters    *Tally
}

// TaskFilter narrows ListTasks results. Zero values match everything.
type TaskFilter struct {
	Status   TaskStatus
	Platform string
	Kind     TaskKind
	Limit    int
	Offset   int
}

// LogEntry is one append-only audit record of a task execution.
type LogEntry struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// LogFilter narrows ListLogs results.
type LogFilter struct {
	Level LogLevel
	Limit int
}

// Artist is the canonical artist row for one (platform, external id).
type Artist struct {
	ID         string    `json:"id"`
	Platform   string    `json:"platform"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Biography  string    `json:"biography"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Album is the canonical album row; ArtistID references the owning artist.
type Album struct {
	ID          string     `json:"id"`
	Platform    string     `json:"platform"`
	ExternalID  string     `json:"external_id"`
	ArtistID    string     `json:"artist_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	URL         string     `json:"url"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Song is the canonical song row. AlbumID is empty for singles.
type Song struct {
	ID         string    `json:"id"`
	Platform   string    `json:"platform"`
	ExternalID string    `json:"external_id"`
	ArtistID   string    `json:"artist_id"`
	AlbumID    string    `json:"album_id,omitempty"`
	Title      string    `json:"title"`
	Duration   *int      `json:"duration,omitempty"`
	Lyrics     string    `json:"lyrics"`
	Genre      string    `json:"genre"`
	URL        string    `json:"url"`
	AudioURL   string    `json:"audio_url"`
	PlayCount  int64     `json:"play_count"`
	LikeCount  int64     `json:"like_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ArtistRecord is a scraped artist. Nil optional fields leave stored values untouched.
type ArtistRecord struct {
	ExternalID string
	Name       string
	Biography  *string
	URL        *string
}

// AlbumRecord is a scraped album.
type AlbumRecord struct {
	ExternalID  string
	Title       string
	Description *string
	URL         *string
	ReleaseDate *time.Time
}

// SongRecord is a scraped song.
type SongRecord struct {
	ExternalID string
	Title      string
	Duration   *int
	Lyrics     *string
	Genre      *string
	URL        *string
	AudioURL   *string
	PlayCount  *int64
	LikeCount  *int64
}

// ArtistUpsert is the store-level request to create or merge an artist.
// ID is used only when the row is created.
type ArtistUpsert struct {
	ID       string
	Platform string
	Record   ArtistRecord
	At       time.Time
}

// AlbumUpsert is the store-level request to create or merge an album.
type AlbumUpsert struct {
	ID       string
	Platform string
	ArtistID string
	Record   AlbumRecord
	At       time.Time
}

// SongUpsert is the store-level request to create or merge a song.
type SongUpsert struct {
	ID       string
	Platform string
	ArtistID string
	AlbumID  string
	Record   SongRecord
	At       time.Time
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	Duration   time.Duration
}

// TaskEvent is published once a task reaches a terminal state.
type TaskEvent struct {
	TaskID      string     `json:"task_id"`
	Platform    string     `json:"platform"`
	Kind        TaskKind   `json:"kind"`
	Status      TaskStatus `json:"status"`
	Counters    Tally      `json:"counters"`
	Error       string     `json:"error,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
}

// QueueItem wraps a task ready to run.
type QueueItem struct {
	TaskID    string
	Attempt   int
	Submitted int64
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
