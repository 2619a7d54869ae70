package crawler

import (
	"context"
	"io"
	"net/url"
	"time"
)

// TaskStore persists crawl tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
	CountTasksByStatus(ctx context.Context) (map[TaskStatus]int, error)
	// Transition moves a task from one status to another in a single atomic step.
	// It returns ErrConflict when the stored status is not from.
	Transition(ctx context.Context, taskID string, from, to TaskStatus, update TaskUpdate) error
	// UpdateProgress raises the progress of a running task. Lower values are ignored.
	// It returns ErrConflict when the task is no longer running.
	UpdateProgress(ctx context.Context, taskID string, progress int) error
	// CancelTask moves a pending or running task to cancelled.
	CancelTask(ctx context.Context, taskID string, at time.Time) (Task, error)
}

// LogStore persists task log entries.
type LogStore interface {
	AppendLog(ctx context.Context, entry LogEntry) error
	// ListLogs returns the entries of one task, newest first.
	ListLogs(ctx context.Context, taskID string, filter LogFilter) ([]LogEntry, error)
}

// PlatformStore persists the platform catalog.
type PlatformStore interface {
	GetPlatform(ctx context.Context, name string) (Platform, error)
	ListPlatforms(ctx context.Context) ([]Platform, error)
	// UpsertPlatform creates the platform or refreshes its base URL and active flag.
	UpsertPlatform(ctx context.Context, platform Platform) (bool, error)
}

// EntityStore performs atomic create-or-merge writes keyed by (platform, external id).
// The returned bool is true when the row was created by this call.
type EntityStore interface {
	UpsertArtist(ctx context.Context, in ArtistUpsert) (Artist, bool, error)
	UpsertAlbum(ctx context.Context, in AlbumUpsert) (Album, bool, error)
	UpsertSong(ctx context.Context, in SongUpsert) (Song, bool, error)
}

// Store bundles every persistence port.
type Store interface {
	TaskStore
	LogStore
	PlatformStore
	EntityStore
	Close() error
}

// TaskLog appends audit entries to the log of one task.
type TaskLog interface {
	Log(ctx context.Context, level LogLevel, message string)
}

// Fetcher fetches a URL within one task session.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, query url.Values) (FetchResponse, error)
}

// FetcherFactory opens a fetch session scoped to one task execution.
type FetcherFactory interface {
	NewSession(taskID string, delaySeconds int, log TaskLog) Fetcher
}

// Strategy runs one task against one platform and returns its tally.
type Strategy interface {
	Run(ctx context.Context, task Task) (Tally, error)
}

// ProgressFunc reports the percentage of a running task. It returns
// ErrTaskCancelled when the task was cancelled externally.
type ProgressFunc func(ctx context.Context, percent int) error

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes task events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
