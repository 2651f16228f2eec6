package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore updates rows of the application's videos table.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func (s *PostgresStore) UpdateVideoStatus(ctx context.Context, videoID string, status Status, progress int) error {
	query := `
		UPDATE videos
		SET status = $2, progress = $3, updated_at = $4
		WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query, videoID, status, progress, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, videoID)
	}
	return nil
}

func (s *PostgresStore) AdvanceVideoProgress(ctx context.Context, videoID string, progress int) (bool, error) {
	query := `
		UPDATE videos
		SET progress = $2, updated_at = $3
		WHERE id = $1 AND status = $4 AND progress < $2
	`

	tag, err := s.db.Exec(ctx, query, videoID, progress, time.Now(), StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to advance video progress: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateVideoArtifacts(ctx context.Context, videoID string, a Artifacts) error {
	query := `
		UPDATE videos
		SET video_url = $2, manifest_url = $3, thumbnail_url = $4,
		    duration_seconds = $5, resolution = $6, file_size_bytes = $7,
		    updated_at = $8
		WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query,
		videoID, a.VideoURL, a.ManifestURL, a.ThumbnailURL,
		a.DurationSeconds, a.ResolutionLabel, a.FileSizeBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update video artifacts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, videoID)
	}
	return nil
}

func (s *PostgresStore) GetVideo(ctx context.Context, videoID string) (*Video, error) {
	query := `
		SELECT id, status, progress, video_url, manifest_url, thumbnail_url,
		       duration_seconds, resolution, file_size_bytes, updated_at
		FROM videos
		WHERE id = $1
	`

	var v Video
	var videoURL, manifestURL, thumbnailURL, resolution *string
	var duration *float64
	var size *int64

	err := s.db.QueryRow(ctx, query, videoID).Scan(
		&v.ID, &v.Status, &v.Progress, &videoURL, &manifestURL, &thumbnailURL,
		&duration, &resolution, &size, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, videoID)
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	if videoURL != nil {
		v.Artifacts.VideoURL = *videoURL
	}
	if manifestURL != nil {
		v.Artifacts.ManifestURL = *manifestURL
	}
	if thumbnailURL != nil {
		v.Artifacts.ThumbnailURL = *thumbnailURL
	}
	if duration != nil {
		v.Artifacts.DurationSeconds = *duration
	}
	if resolution != nil {
		v.Artifacts.ResolutionLabel = *resolution
	}
	if size != nil {
		v.Artifacts.FileSizeBytes = *size
	}
	return &v, nil
}
