package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"soundflow/internal/models"
)

// CreateTrack segments the payload into ChunkSize rows and records the track
// metadata, all inside one transaction so a failed upload leaves nothing
// behind.
func (r *postgresRepository) CreateTrack(ctx context.Context, name, contentType string, payload io.Reader) (models.Track, error) {
	id, err := NewTrackID()
	if err != nil {
		return models.Track{}, err
	}
	now := time.Now().UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Track{}, fmt.Errorf("begin track upload: %w", err)
	}
	defer rollbackTx(ctx, tx)

	_, err = tx.Exec(ctx,
		`INSERT INTO tracks (id, name, size_bytes, content_type, chunk_size, created_at)
		 VALUES ($1, $2, 0, $3, $4, $5)`,
		id, strings.TrimSpace(name), contentType, ChunkSize, now)
	if err != nil {
		return models.Track{}, fmt.Errorf("insert track %s: %w", id, err)
	}

	var (
		size  int64
		index int
	)
	buf := make([]byte, ChunkSize)
	for {
		n, readErr := io.ReadFull(payload, buf)
		if n > 0 {
			_, execErr := tx.Exec(ctx,
				`INSERT INTO track_chunks (track_id, chunk_index, data) VALUES ($1, $2, $3)`,
				id, index, buf[:n])
			if execErr != nil {
				return models.Track{}, fmt.Errorf("insert chunk %d of track %s: %w", index, id, execErr)
			}
			index++
			size += int64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return models.Track{}, fmt.Errorf("read track payload: %w", readErr)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE tracks SET size_bytes = $2 WHERE id = $1`, id, size); err != nil {
		return models.Track{}, fmt.Errorf("finalise track %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Track{}, fmt.Errorf("commit track upload: %w", err)
	}

	return models.Track{
		ID:          id,
		Name:        strings.TrimSpace(name),
		SizeBytes:   size,
		ContentType: contentType,
		ChunkSize:   ChunkSize,
		CreatedAt:   now,
	}, nil
}

// OpenTrack looks up the track metadata and returns a reader that fetches
// chunk rows on demand, so downloads never hold the full object in memory.
func (r *postgresRepository) OpenTrack(ctx context.Context, id string) (models.Track, io.ReadCloser, error) {
	if err := ValidateTrackID(id); err != nil {
		return models.Track{}, nil, err
	}
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, size_bytes, content_type, chunk_size, created_at FROM tracks WHERE id = $1`, id)
	var track models.Track
	err := row.Scan(&track.ID, &track.Name, &track.SizeBytes, &track.ContentType, &track.ChunkSize, &track.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Track{}, nil, ErrTrackNotFound
		}
		return models.Track{}, nil, fmt.Errorf("find track %s: %w", id, err)
	}
	return track, &postgresTrackReader{ctx: ctx, repo: r, trackID: id}, nil
}

func (r *postgresRepository) ListTracks(ctx context.Context) ([]models.Track, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, size_bytes, content_type, chunk_size, created_at FROM tracks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var track models.Track
		if err := rows.Scan(&track.ID, &track.Name, &track.SizeBytes, &track.ContentType, &track.ChunkSize, &track.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		tracks = append(tracks, track)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	return tracks, nil
}

// postgresTrackReader streams chunk rows in index order. Each Read drains the
// current chunk before fetching the next; a missing row marks the end of the
// object.
type postgresTrackReader struct {
	ctx     context.Context
	repo    *postgresRepository
	trackID string
	next    int
	buf     []byte
	done    bool
}

func (r *postgresTrackReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		row := r.repo.pool.QueryRow(r.ctx,
			`SELECT data FROM track_chunks WHERE track_id = $1 AND chunk_index = $2`,
			r.trackID, r.next)
		var chunk []byte
		if err := row.Scan(&chunk); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				r.done = true
				return 0, io.EOF
			}
			return 0, fmt.Errorf("read chunk %d of track %s: %w", r.next, r.trackID, err)
		}
		r.next++
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *postgresTrackReader) Close() error {
	r.done = true
	r.buf = nil
	return nil
}
