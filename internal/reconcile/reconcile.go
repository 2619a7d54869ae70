// Package reconcile merges scraped artist, album and song records into the
// canonical catalog. Each entity is written with one atomic store upsert keyed
// by (platform, external id); the store's uniqueness guarantee decides whether
// a record is new.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
	"github.com/JakeFAU/melody-hunter/internal/metrics"
)

var errMissingExternalID = errors.New("external id is required")

// Reconciler performs create-or-merge writes for one task execution.
// Failures are logged to the task log and reported as a nil entity.
type Reconciler struct {
	store    crawler.EntityStore
	ids      crawler.IDGenerator
	clock    crawler.Clock
	platform string
	log      crawler.TaskLog
}

// New constructs a Reconciler bound to a platform and a task log.
func New(
	store crawler.EntityStore,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	platform string,
	log crawler.TaskLog,
) *Reconciler {
	return &Reconciler{store: store, ids: ids, clock: clock, platform: platform, log: log}
}

// UpsertArtist creates or merges an artist.
func (r *Reconciler) UpsertArtist(ctx context.Context, rec crawler.ArtistRecord) *crawler.Artist {
	id, err := r.prepare(rec.ExternalID)
	if err != nil {
		r.fail(ctx, "artist", rec.ExternalID, err)
		return nil
	}
	artist, created, err := r.store.UpsertArtist(ctx, crawler.ArtistUpsert{
		ID:       id,
		Platform: r.platform,
		Record:   rec,
		At:       r.clock.Now(),
	})
	if err != nil {
		r.fail(ctx, "artist", rec.ExternalID, err)
		return nil
	}
	r.done(ctx, "artist", created, fmt.Sprintf("new artist: %s", artist.Name))
	return &artist
}

// UpsertAlbum creates or merges an album owned by artist.
func (r *Reconciler) UpsertAlbum(ctx context.Context, rec crawler.AlbumRecord, artist *crawler.Artist) *crawler.Album {
	if artist == nil {
		r.fail(ctx, "album", rec.ExternalID, errors.New("owning artist is required"))
		return nil
	}
	id, err := r.prepare(rec.ExternalID)
	if err != nil {
		r.fail(ctx, "album", rec.ExternalID, err)
		return nil
	}
	album, created, err := r.store.UpsertAlbum(ctx, crawler.AlbumUpsert{
		ID:       id,
		Platform: r.platform,
		ArtistID: artist.ID,
		Record:   rec,
		At:       r.clock.Now(),
	})
	if err != nil {
		r.fail(ctx, "album", rec.ExternalID, err)
		return nil
	}
	r.done(ctx, "album", created, fmt.Sprintf("new album: %s", album.Title))
	return &album
}

// UpsertSong creates or merges a song owned by artist, optionally on album.
func (r *Reconciler) UpsertSong(
	ctx context.Context,
	rec crawler.SongRecord,
	artist *crawler.Artist,
	album *crawler.Album,
) *crawler.Song {
	if artist == nil {
		r.fail(ctx, "song", rec.ExternalID, errors.New("owning artist is required"))
		return nil
	}
	id, err := r.prepare(rec.ExternalID)
	if err != nil {
		r.fail(ctx, "song", rec.ExternalID, err)
		return nil
	}
	in := crawler.SongUpsert{
		ID:       id,
		Platform: r.platform,
		ArtistID: artist.ID,
		Record:   rec,
		At:       r.clock.Now(),
	}
	if album != nil {
		in.AlbumID = album.ID
	}
	song, created, err := r.store.UpsertSong(ctx, in)
	if err != nil {
		r.fail(ctx, "song", rec.ExternalID, err)
		return nil
	}
	r.done(ctx, "song", created, fmt.Sprintf("new song: %s - %s", song.Title, artist.Name))
	return &song
}

func (r *Reconciler) prepare(externalID string) (string, error) {
	if externalID == "" {
		return "", errMissingExternalID
	}
	id, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

func (r *Reconciler) done(ctx context.Context, entity string, created bool, message string) {
	if !created {
		metrics.ObserveUpsert(entity, "updated")
		return
	}
	metrics.ObserveUpsert(entity, "created")
	r.log.Log(ctx, crawler.LogLevelInfo, message)
}

func (r *Reconciler) fail(ctx context.Context, entity, externalID string, err error) {
	metrics.ObserveUpsert(entity, "failed")
	r.log.Log(ctx, crawler.LogLevelError, fmt.Sprintf("save %s %q failed: %v", entity, externalID, err))
}
