package job

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Queue stores jobs and hands each queued job to exactly one caller of Dequeue.
type Queue interface {
	// Submit stores j in the queued state.
	Submit(ctx context.Context, j *Job) error
	// Dequeue blocks until a job is available or ctx ends. The returned job is
	// active with AttemptsMade already incremented.
	Dequeue(ctx context.Context) (*Job, error)
	// Ack records the outcome of the attempt and returns the resulting state:
	// completed, delayed (retry after backoff) or failed.
	Ack(ctx context.Context, id uuid.UUID, procErr error) (State, error)
	// Release puts an active job back at the head of the queue and refunds
	// the attempt. Used when shutdown interrupts a job that did not fail.
	Release(ctx context.Context, id uuid.UUID) error
	UpdateProgress(ctx context.Context, id uuid.UUID, percent int) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	// GetByVideo returns the most recently submitted job for a video.
	GetByVideo(ctx context.Context, videoID string) (*Job, error)
	Stats(ctx context.Context) (Stats, error)
	// Prune drops terminal jobs that finished before now-olderThan.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
	Close() error
}
