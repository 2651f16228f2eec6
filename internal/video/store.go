package video

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("video not found")

// Store is the persistence collaborator for video records. Implementations
// must be safe for concurrent use by all workers.
type Store interface {
	// UpdateVideoStatus writes status and progress unconditionally.
	UpdateVideoStatus(ctx context.Context, videoID string, status Status, progress int) error
	// AdvanceVideoProgress raises progress only while the video is PROCESSING
	// and only if progress exceeds the stored value. It reports whether the
	// write happened.
	AdvanceVideoProgress(ctx context.Context, videoID string, progress int) (bool, error)
	UpdateVideoArtifacts(ctx context.Context, videoID string, a Artifacts) error
	GetVideo(ctx context.Context, videoID string) (*Video, error)
}
