// Package netease crawls NetEase Cloud Music (网易云音乐).
package netease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
	"github.com/JakeFAU/melody-hunter/internal/strategy"
)

// Name is the registry name of the platform.
const Name = "netease"

// DefaultBaseURL is used when the platform row carries no base URL.
const DefaultBaseURL = "https://music.163.com"

const searchTypeSong = "1"

var (
	artistPattern   = regexp.MustCompile(`artist\?id=(\d+)`)
	albumPattern    = regexp.MustCompile(`album\?id=(\d+)`)
	playlistPattern = regexp.MustCompile(`playlist\?id=(\d+)`)
)

// Strategy crawls one task against NetEase.
type Strategy struct {
	driver  *strategy.Driver
	baseURL string
}

var _ strategy.SearchSource = (*Strategy)(nil)

// New is the strategy.Factory for NetEase.
func New(deps strategy.Deps) crawler.Strategy {
	base := strings.TrimRight(deps.Platform.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Strategy{driver: strategy.NewDriver(deps), baseURL: base}
}

// Run dispatches on the task kind.
func (s *Strategy) Run(ctx context.Context, task crawler.Task) (crawler.Tally, error) {
	log := s.driver.Log
	if task.Kind.Valid() {
		log.Log(ctx, crawler.LogLevelInfo, fmt.Sprintf("netease crawl started, task type: %s", task.Kind))
	}
	switch task.Kind {
	case crawler.TaskKindSearch:
		return s.driver.Search(ctx, task, s)
	case crawler.TaskKindArtist:
		return s.target(ctx, task, artistPattern, "artist")
	case crawler.TaskKindAlbum:
		return s.target(ctx, task, albumPattern, "album")
	case crawler.TaskKindPlaylist:
		return s.target(ctx, task, playlistPattern, "playlist")
	default:
		return crawler.Tally{}, strategy.Unsupported(task.Kind)
	}
}

// target resolves the id of an artist, album or playlist page. Page crawling
// for these kinds is not built yet, so the tally is always zero.
func (s *Strategy) target(ctx context.Context, task crawler.Task, pattern *regexp.Regexp, label string) (crawler.Tally, error) {
	id, err := s.driver.TargetID(task, pattern)
	if err != nil {
		return crawler.Tally{}, fmt.Errorf("extract %s id: %w", label, err)
	}
	s.driver.Log.Log(ctx, crawler.LogLevelInfo, fmt.Sprintf("%s crawl started: %s", label, id))
	return crawler.Tally{}, nil
}

// SearchRequest builds the song search call for one page.
func (s *Strategy) SearchRequest(keyword string, offset, limit int) (string, url.Values) {
	return s.baseURL + "/api/search/get/web", url.Values{
		"s":      {keyword},
		"type":   {searchTypeSong},
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(limit)},
	}
}

type searchResponse struct {
	Code   int `json:"code"`
	Result struct {
		Songs []json.RawMessage `json:"songs"`
	} `json:"result"`
}

type songJSON struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Duration  int64      `json:"duration"`
	PlayCount *int64     `json:"playCount"`
	Artists   []refJSON  `json:"artists"`
	Album     *albumJSON `json:"album"`
}

type refJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type albumJSON struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PublishTime int64  `json:"publishTime"`
}

// ParseSearch decodes a search page. Songs that cannot be decoded are
// returned as items carrying an error so they still count as found.
func (s *Strategy) ParseSearch(body []byte) ([]strategy.Item, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if resp.Code != 0 && resp.Code != 200 {
		return nil, fmt.Errorf("search response code %d", resp.Code)
	}
	items := make([]strategy.Item, 0, len(resp.Result.Songs))
	for _, raw := range resp.Result.Songs {
		items = append(items, s.parseSong(raw))
	}
	return items, nil
}

func (s *Strategy) parseSong(raw json.RawMessage) strategy.Item {
	var song songJSON
	if err := json.Unmarshal(raw, &song); err != nil {
		return strategy.Item{Err: fmt.Errorf("decode song: %w", err)}
	}
	if song.ID == 0 {
		return strategy.Item{Err: errors.New("song has no id")}
	}
	if len(song.Artists) == 0 || song.Artists[0].ID == 0 {
		return strategy.Item{Err: fmt.Errorf("song %d has no artist", song.ID)}
	}

	artist := song.Artists[0]
	item := strategy.Item{
		Artist: crawler.ArtistRecord{
			ExternalID: strconv.FormatInt(artist.ID, 10),
			Name:       artist.Name,
			URL:        crawler.StringPtr(fmt.Sprintf("%s/artist?id=%d", s.baseURL, artist.ID)),
		},
		Song: crawler.SongRecord{
			ExternalID: strconv.FormatInt(song.ID, 10),
			Title:      song.Name,
			URL:        crawler.StringPtr(fmt.Sprintf("%s/song?id=%d", s.baseURL, song.ID)),
			PlayCount:  song.PlayCount,
		},
	}
	if song.Duration > 0 {
		item.Song.Duration = crawler.IntPtr(int(song.Duration / 1000))
	}
	if song.Album != nil && song.Album.ID != 0 {
		item.Album = &crawler.AlbumRecord{
			ExternalID: strconv.FormatInt(song.Album.ID, 10),
			Title:      song.Album.Name,
			URL:        crawler.StringPtr(fmt.Sprintf("%s/album?id=%d", s.baseURL, song.Album.ID)),
		}
		if song.Album.PublishTime > 0 {
			released := time.UnixMilli(song.Album.PublishTime).UTC()
			item.Album.ReleaseDate = &released
		}
	}
	return item
}
