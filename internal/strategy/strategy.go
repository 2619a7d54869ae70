// Package strategy holds the per-platform crawl contract and the shared
// driver that platform strategies build on: the paged search loop, the
// artist → album → song save chain and target id extraction.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

// DefaultBatchSize is the number of search results requested per page.
const DefaultBatchSize = 30

var (
	// ErrUnsupportedKind is returned for task kinds a strategy cannot dispatch.
	ErrUnsupportedKind = errors.New("unsupported task kind")
	// ErrMissingKeyword is returned when a search task has no keyword.
	ErrMissingKeyword = errors.New("search keyword is required")
	// ErrMissingTarget is returned when a target task has no URL.
	ErrMissingTarget = errors.New("target url is required")
	// ErrTargetID is returned when the platform id cannot be extracted from the target URL.
	ErrTargetID = errors.New("cannot extract platform id from target url")
)

// Reconciler is the entity write port a strategy feeds.
// A nil result means the record was not saved.
type Reconciler interface {
	UpsertArtist(ctx context.Context, rec crawler.ArtistRecord) *crawler.Artist
	UpsertAlbum(ctx context.Context, rec crawler.AlbumRecord, artist *crawler.Artist) *crawler.Album
	UpsertSong(ctx context.Context, rec crawler.SongRecord, artist *crawler.Artist, album *crawler.Album) *crawler.Song
}

// Deps are the collaborators handed to a strategy for one execution.
type Deps struct {
	Platform   crawler.Platform
	Fetcher    crawler.Fetcher
	Reconciler Reconciler
	Log        crawler.TaskLog
	Progress   crawler.ProgressFunc
	BatchSize  int
}

// Factory constructs a strategy for one execution.
type Factory func(Deps) crawler.Strategy

// Item is one search result parsed into its entity records. Err marks a
// result that was returned by the platform but could not be parsed.
type Item struct {
	Artist crawler.ArtistRecord
	Album  *crawler.AlbumRecord
	Song   crawler.SongRecord
	Err    error
}

// SearchSource describes the search endpoint of a platform.
type SearchSource interface {
	SearchRequest(keyword string, offset, limit int) (string, url.Values)
	ParseSearch(body []byte) ([]Item, error)
}

// Driver implements the crawl loops shared by every platform.
type Driver struct {
	Deps
}

// NewDriver wraps deps, defaulting the batch size.
func NewDriver(deps Deps) *Driver {
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	return &Driver{Deps: deps}
}

// Search walks pages 1..task.MaxPages. A failed fetch or an unparsable page
// counts one failure and moves on; every returned record counts as found.
// It stops early only when the context ends or the task is cancelled.
func (d *Driver) Search(ctx context.Context, task crawler.Task, src SearchSource) (crawler.Tally, error) {
	var tally crawler.Tally
	if task.SearchKeyword == "" {
		return tally, ErrMissingKeyword
	}
	d.Log.Log(ctx, crawler.LogLevelInfo, fmt.Sprintf("search started: %s", task.SearchKeyword))

	for page := 1; page <= task.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return tally, fmt.Errorf("search page %d: %w", page, err)
		}
		tally.Add(d.searchPage(ctx, task.SearchKeyword, page, src))
		if err := d.report(ctx, page*100/task.MaxPages); err != nil {
			return tally, err
		}
	}
	return tally, nil
}

func (d *Driver) searchPage(ctx context.Context, keyword string, page int, src SearchSource) crawler.Tally {
	var tally crawler.Tally
	rawURL, query := src.SearchRequest(keyword, (page-1)*d.BatchSize, d.BatchSize)
	resp, err := d.Fetcher.Fetch(ctx, rawURL, query)
	if err != nil {
		tally.Failed++
		return tally
	}
	items, err := src.ParseSearch(resp.Body)
	if err != nil {
		d.Log.Log(ctx, crawler.LogLevelError, fmt.Sprintf("parse search page %d failed: %v", page, err))
		tally.Failed++
		return tally
	}
	tally.Found += len(items)
	for _, item := range items {
		if d.SaveItem(ctx, item) {
			tally.Saved++
		} else {
			tally.Failed++
		}
	}
	return tally
}

// SaveItem runs the artist → album → song chain and reports whether the song
// was saved. A failed album save does not block the song.
func (d *Driver) SaveItem(ctx context.Context, item Item) bool {
	if item.Err != nil {
		d.Log.Log(ctx, crawler.LogLevelError, fmt.Sprintf("parse song failed: %v", item.Err))
		return false
	}
	artist := d.Reconciler.UpsertArtist(ctx, item.Artist)
	if artist == nil {
		return false
	}
	var album *crawler.Album
	if item.Album != nil {
		album = d.Reconciler.UpsertAlbum(ctx, *item.Album, artist)
	}
	return d.Reconciler.UpsertSong(ctx, item.Song, artist, album) != nil
}

// TargetID extracts the platform-native id from a target task URL.
func (d *Driver) TargetID(task crawler.Task, pattern *regexp.Regexp) (string, error) {
	if task.TargetURL == "" {
		return "", ErrMissingTarget
	}
	return ExtractID(pattern, task.TargetURL)
}

// ExtractID returns the first capture group of pattern in rawURL.
func ExtractID(pattern *regexp.Regexp, rawURL string) (string, error) {
	m := pattern.FindStringSubmatch(rawURL)
	if len(m) < 2 || m[1] == "" {
		return "", fmt.Errorf("%w: %s", ErrTargetID, rawURL)
	}
	return m[1], nil
}

// Unsupported returns the dispatch error for kind.
func Unsupported(kind crawler.TaskKind) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
}

// report forwards progress. Cancellation stops the crawl; any other
// failure to record progress is logged and ignored.
func (d *Driver) report(ctx context.Context, percent int) error {
	if d.Progress == nil {
		return nil
	}
	err := d.Progress(ctx, percent)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, crawler.ErrTaskCancelled):
		return err
	default:
		d.Log.Log(ctx, crawler.LogLevelWarning, fmt.Sprintf("record progress %d%% failed: %v", percent, err))
		return nil
	}
}
