package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

// foreignKeyViolation is the SQLSTATE raised when an owning row is missing.
const foreignKeyViolation = "23503"

// UpsertArtist creates or merges an artist keyed by (platform, external_id).
func (s *Store) UpsertArtist(ctx context.Context, in crawler.ArtistUpsert) (crawler.Artist, bool, error) {
	var (
		a        crawler.Artist
		inserted bool
	)
	err := s.pool.QueryRow(ctx, `
INSERT INTO artists (id, platform, external_id, name, biography, url, created_at, updated_at)
VALUES ($1, $2, $3, $4, COALESCE($5, ''), COALESCE($6, ''), $7, $7)
ON CONFLICT (platform, external_id) DO UPDATE SET
	name = EXCLUDED.name,
	biography = COALESCE($5, artists.biography),
	url = COALESCE($6, artists.url),
	updated_at = EXCLUDED.updated_at
RETURNING id, platform, external_id, name, biography, url, created_at, updated_at, (xmax = 0)`,
		in.ID,
		in.Platform,
		in.Record.ExternalID,
		in.Record.Name,
		in.Record.Biography,
		in.Record.URL,
		in.At,
	).Scan(&a.ID, &a.Platform, &a.ExternalID, &a.Name, &a.Biography, &a.URL, &a.CreatedAt, &a.UpdatedAt, &inserted)
	if err != nil {
		return crawler.Artist{}, false, fmt.Errorf("upsert artist %s: %w", in.Record.ExternalID, err)
	}
	return a, inserted, nil
}

// UpsertAlbum creates or merges an album. The owning artist is set only on insert.
func (s *Store) UpsertAlbum(ctx context.Context, in crawler.AlbumUpsert) (crawler.Album, bool, error) {
	var (
		a        crawler.Album
		released pgtype.Date
		inserted bool
	)
	err := s.pool.QueryRow(ctx, `
INSERT INTO albums (id, platform, external_id, artist_id, title, description, url, release_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, ''), COALESCE($7, ''), $8, $9, $9)
ON CONFLICT (platform, external_id) DO UPDATE SET
	title = EXCLUDED.title,
	description = COALESCE($6, albums.description),
	url = COALESCE($7, albums.url),
	release_date = COALESCE($8, albums.release_date),
	updated_at = EXCLUDED.updated_at
RETURNING id, platform, external_id, artist_id, title, description, url, release_date, created_at, updated_at, (xmax = 0)`,
		in.ID,
		in.Platform,
		in.Record.ExternalID,
		in.ArtistID,
		in.Record.Title,
		in.Record.Description,
		in.Record.URL,
		in.Record.ReleaseDate,
		in.At,
	).Scan(&a.ID, &a.Platform, &a.ExternalID, &a.ArtistID, &a.Title, &a.Description, &a.URL,
		&released, &a.CreatedAt, &a.UpdatedAt, &inserted)
	if err != nil {
		return crawler.Album{}, false, fmt.Errorf("upsert album %s: %w", in.Record.ExternalID, ownerError(err))
	}
	if released.Valid {
		t := released.Time
		a.ReleaseDate = &t
	}
	return a, inserted, nil
}

// UpsertSong creates or merges a song. Owning artist and album are set only on insert.
func (s *Store) UpsertSong(ctx context.Context, in crawler.SongUpsert) (crawler.Song, bool, error) {
	var albumID *string
	if in.AlbumID != "" {
		albumID = &in.AlbumID
	}
	var (
		song     crawler.Song
		album    pgtype.Text
		duration pgtype.Int4
		inserted bool
	)
	r := in.Record
	err := s.pool.QueryRow(ctx, `
INSERT INTO songs (id, platform, external_id, artist_id, album_id, title, duration,
	lyrics, genre, url, audio_url, play_count, like_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7,
	COALESCE($8, ''), COALESCE($9, ''), COALESCE($10, ''), COALESCE($11, ''),
	COALESCE($12, 0), COALESCE($13, 0), $14, $14)
ON CONFLICT (platform, external_id) DO UPDATE SET
	title = EXCLUDED.title,
	duration = COALESCE($7, songs.duration),
	lyrics = COALESCE($8, songs.lyrics),
	genre = COALESCE($9, songs.genre),
	url = COALESCE($10, songs.url),
	audio_url = COALESCE($11, songs.audio_url),
	play_count = COALESCE($12, songs.play_count),
	like_count = COALESCE($13, songs.like_count),
	updated_at = EXCLUDED.updated_at
RETURNING id, platform, external_id, artist_id, album_id, title, duration,
	lyrics, genre, url, audio_url, play_count, like_count, created_at, updated_at, (xmax = 0)`,
		in.ID,
		in.Platform,
		r.ExternalID,
		in.ArtistID,
		albumID,
		r.Title,
		r.Duration,
		r.Lyrics,
		r.Genre,
		r.URL,
		r.AudioURL,
		r.PlayCount,
		r.LikeCount,
		in.At,
	).Scan(&song.ID, &song.Platform, &song.ExternalID, &song.ArtistID, &album, &song.Title, &duration,
		&song.Lyrics, &song.Genre, &song.URL, &song.AudioURL, &song.PlayCount, &song.LikeCount,
		&song.CreatedAt, &song.UpdatedAt, &inserted)
	if err != nil {
		return crawler.Song{}, false, fmt.Errorf("upsert song %s: %w", r.ExternalID, ownerError(err))
	}
	if album.Valid {
		song.AlbumID = album.String
	}
	if duration.Valid {
		d := int(duration.Int32)
		song.Duration = &d
	}
	return song, inserted, nil
}

// ownerError maps a missing owning row to crawler.ErrNotFound.
func ownerError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%w: %s", crawler.ErrNotFound, pgErr.ConstraintName)
	}
	return err
}
