package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

// Store implements crawler.Store in memory. A single mutex guards every
// table, so each upsert is atomic with respect to its natural key.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]crawler.Task
	logs      map[string][]crawler.LogEntry
	platforms map[string]crawler.Platform

	artists    map[string]crawler.Artist
	albums     map[string]crawler.Album
	songs      map[string]crawler.Song
	artistKeys map[naturalKey]string
	albumKeys  map[naturalKey]string
	songKeys   map[naturalKey]string
}

type naturalKey struct {
	platform   string
	externalID string
}

var _ crawler.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		tasks:      make(map[string]crawler.Task),
		logs:       make(map[string][]crawler.LogEntry),
		platforms:  make(map[string]crawler.Platform),
		artists:    make(map[string]crawler.Artist),
		albums:     make(map[string]crawler.Album),
		songs:      make(map[string]crawler.Song),
		artistKeys: make(map[naturalKey]string),
		albumKeys:  make(map[naturalKey]string),
		songKeys:   make(map[naturalKey]string),
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// CreateTask stores a new task.
func (s *Store) CreateTask(_ context.Context, task crawler.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

// GetTask fetches a task by ID.
func (s *Store) GetTask(_ context.Context, taskID string) (crawler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.Task{}, crawler.ErrNotFound
	}
	return task, nil
}

// ListTasks returns matching tasks, newest first.
func (s *Store) ListTasks(_ context.Context, filter crawler.TaskFilter) ([]crawler.Task, error) {
	s.mu.RLock()
	out := make([]crawler.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Platform != "" && task.Platform != filter.Platform {
			continue
		}
		if filter.Kind != "" && task.Kind != filter.Kind {
			continue
		}
		out = append(out, task)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filter.Offset, filter.Limit), nil
}

// CountTasksByStatus returns the number of tasks per status.
func (s *Store) CountTasksByStatus(_ context.Context) (map[crawler.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[crawler.TaskStatus]int, len(crawler.AllTaskStatuses()))
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts, nil
}

// Transition moves a task between statuses if it is currently in from.
func (s *Store) Transition(
	_ context.Context,
	taskID string,
	from, to crawler.TaskStatus,
	update crawler.TaskUpdate,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.ErrNotFound
	}
	if task.Status != from {
		return fmt.Errorf("%w: task %s is %s, expected %s", crawler.ErrConflict, taskID, task.Status, from)
	}
	task.Status = to
	if update.StartedAt != nil {
		task.StartedAt = pointerTime(*update.StartedAt)
	}
	if update.CompletedAt != nil {
		task.CompletedAt = pointerTime(*update.CompletedAt)
	}
	if update.Progress != nil {
		task.Progress = *update.Progress
	}
	if update.Counters != nil {
		task.Counters = *update.Counters
	}
	task.UpdatedAt = time.Now().UTC()
	s.tasks[taskID] = task
	return nil
}

// UpdateProgress raises the progress of a running task.
func (s *Store) UpdateProgress(_ context.Context, taskID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.ErrNotFound
	}
	if task.Status != crawler.TaskStatusRunning {
		return fmt.Errorf("%w: task %s is %s", crawler.ErrConflict, taskID, task.Status)
	}
	if progress > task.Progress {
		task.Progress = progress
		task.UpdatedAt = time.Now().UTC()
		s.tasks[taskID] = task
	}
	return nil
}

// CancelTask cancels a pending or running task.
func (s *Store) CancelTask(_ context.Context, taskID string, at time.Time) (crawler.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.Task{}, crawler.ErrNotFound
	}
	if task.Status != crawler.TaskStatusPending && task.Status != crawler.TaskStatusRunning {
		return task, fmt.Errorf("%w: task %s is %s", crawler.ErrConflict, taskID, task.Status)
	}
	task.Status = crawler.TaskStatusCancelled
	task.CompletedAt = pointerTime(at)
	task.UpdatedAt = at
	s.tasks[taskID] = task
	return task, nil
}

// AppendLog appends a log entry to its task.
func (s *Store) AppendLog(_ context.Context, entry crawler.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[entry.TaskID] = append(s.logs[entry.TaskID], entry)
	return nil
}

// ListLogs returns the log entries of a task, newest first.
func (s *Store) ListLogs(_ context.Context, taskID string, filter crawler.LogFilter) ([]crawler.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.logs[taskID]
	out := make([]crawler.LogEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if filter.Level != "" && entries[i].Level != filter.Level {
			continue
		}
		out = append(out, entries[i])
	}
	return paginate(out, 0, filter.Limit), nil
}

// GetPlatform fetches a platform by name.
func (s *Store) GetPlatform(_ context.Context, name string) (crawler.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.platforms[name]
	if !ok {
		return crawler.Platform{}, crawler.ErrNotFound
	}
	return p, nil
}

// ListPlatforms returns every platform sorted by name.
func (s *Store) ListPlatforms(_ context.Context) ([]crawler.Platform, error) {
	s.mu.RLock()
	out := make([]crawler.Platform, 0, len(s.platforms))
	for _, p := range s.platforms {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertPlatform creates the platform or refreshes its mutable fields.
func (s *Store) UpsertPlatform(_ context.Context, platform crawler.Platform) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.platforms[platform.Name]
	if !ok {
		s.platforms[platform.Name] = platform
		return true, nil
	}
	existing.BaseURL = platform.BaseURL
	existing.Active = platform.Active
	s.platforms[platform.Name] = existing
	return false, nil
}

// UpsertArtist creates or merges an artist keyed by (platform, external id).
func (s *Store) UpsertArtist(_ context.Context, in crawler.ArtistUpsert) (crawler.Artist, bool, error) {
	key := naturalKey{platform: in.Platform, externalID: in.Record.ExternalID}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.artistKeys[key]; ok {
		artist := s.artists[id]
		artist.Name = in.Record.Name
		artist.Biography = coalesce(in.Record.Biography, artist.Biography)
		artist.URL = coalesce(in.Record.URL, artist.URL)
		artist.UpdatedAt = in.At
		s.artists[id] = artist
		return artist, false, nil
	}
	if _, taken := s.artists[in.ID]; taken {
		return crawler.Artist{}, false, fmt.Errorf("artist id %s already exists", in.ID)
	}
	artist := crawler.Artist{
		ID:         in.ID,
		Platform:   in.Platform,
		ExternalID: in.Record.ExternalID,
		Name:       in.Record.Name,
		Biography:  coalesce(in.Record.Biography, ""),
		URL:        coalesce(in.Record.URL, ""),
		CreatedAt:  in.At,
		UpdatedAt:  in.At,
	}
	s.artists[in.ID] = artist
	s.artistKeys[key] = in.ID
	return artist, true, nil
}

// UpsertAlbum creates or merges an album. The owning artist is fixed at creation.
func (s *Store) UpsertAlbum(_ context.Context, in crawler.AlbumUpsert) (crawler.Album, bool, error) {
	key := naturalKey{platform: in.Platform, externalID: in.Record.ExternalID}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.albumKeys[key]; ok {
		album := s.albums[id]
		album.Title = in.Record.Title
		album.Description = coalesce(in.Record.Description, album.Description)
		album.URL = coalesce(in.Record.URL, album.URL)
		if in.Record.ReleaseDate != nil {
			album.ReleaseDate = pointerTime(*in.Record.ReleaseDate)
		}
		album.UpdatedAt = in.At
		s.albums[id] = album
		return album, false, nil
	}
	if _, ok := s.artists[in.ArtistID]; !ok {
		return crawler.Album{}, false, fmt.Errorf("album %s: artist %s: %w", in.Record.ExternalID, in.ArtistID, crawler.ErrNotFound)
	}
	album := crawler.Album{
		ID:          in.ID,
		Platform:    in.Platform,
		ExternalID:  in.Record.ExternalID,
		ArtistID:    in.ArtistID,
		Title:       in.Record.Title,
		Description: coalesce(in.Record.Description, ""),
		URL:         coalesce(in.Record.URL, ""),
		CreatedAt:   in.At,
		UpdatedAt:   in.At,
	}
	if in.Record.ReleaseDate != nil {
		album.ReleaseDate = pointerTime(*in.Record.ReleaseDate)
	}
	s.albums[in.ID] = album
	s.albumKeys[key] = in.ID
	return album, true, nil
}

// UpsertSong creates or merges a song. Owning artist and album are fixed at creation.
func (s *Store) UpsertSong(_ context.Context, in crawler.SongUpsert) (crawler.Song, bool, error) {
	key := naturalKey{platform: in.Platform, externalID: in.Record.ExternalID}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.songKeys[key]; ok {
		song := s.songs[id]
		mergeSong(&song, in.Record)
		song.UpdatedAt = in.At
		s.songs[id] = song
		return song, false, nil
	}
	if _, ok := s.artists[in.ArtistID]; !ok {
		return crawler.Song{}, false, fmt.Errorf("song %s: artist %s: %w", in.Record.ExternalID, in.ArtistID, crawler.ErrNotFound)
	}
	if in.AlbumID != "" {
		if _, ok := s.albums[in.AlbumID]; !ok {
			return crawler.Song{}, false, fmt.Errorf("song %s: album %s: %w", in.Record.ExternalID, in.AlbumID, crawler.ErrNotFound)
		}
	}
	song := crawler.Song{
		ID:         in.ID,
		Platform:   in.Platform,
		ExternalID: in.Record.ExternalID,
		ArtistID:   in.ArtistID,
		AlbumID:    in.AlbumID,
		CreatedAt:  in.At,
		UpdatedAt:  in.At,
	}
	mergeSong(&song, in.Record)
	s.songs[in.ID] = song
	s.songKeys[key] = in.ID
	return song, true, nil
}

// Artists returns a snapshot of stored artists.
func (s *Store) Artists() []crawler.Artist {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Artist, 0, len(s.artists))
	for _, a := range s.artists {
		out = append(out, a)
	}
	return out
}

// Albums returns a snapshot of stored albums.
func (s *Store) Albums() []crawler.Album {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Album, 0, len(s.albums))
	for _, a := range s.albums {
		out = append(out, a)
	}
	return out
}

// Songs returns a snapshot of stored songs.
func (s *Store) Songs() []crawler.Song {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Song, 0, len(s.songs))
	for _, song := range s.songs {
		out = append(out, song)
	}
	return out
}

func mergeSong(song *crawler.Song, rec crawler.SongRecord) {
	song.Title = rec.Title
	if rec.Duration != nil {
		song.Duration = crawler.IntPtr(*rec.Duration)
	}
	song.Lyrics = coalesce(rec.Lyrics, song.Lyrics)
	song.Genre = coalesce(rec.Genre, song.Genre)
	song.URL = coalesce(rec.URL, song.URL)
	song.AudioURL = coalesce(rec.AudioURL, song.AudioURL)
	if rec.PlayCount != nil {
		song.PlayCount = *rec.PlayCount
	}
	if rec.LikeCount != nil {
		song.LikeCount = *rec.LikeCount
	}
}

func coalesce[T any](incoming *T, stored T) T {
	if incoming == nil {
		return stored
	}
	return *incoming
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
