package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryQueue is a single-process Queue. Delayed jobs are promoted by timers.
type MemoryQueue struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*Job
	byVideo map[string]uuid.UUID
	ready   []uuid.UUID
	timers  map[uuid.UUID]*time.Timer
	wake    chan struct{}
	closed  bool
	backoff Backoff
	logger  *zap.Logger
	now     func() time.Time
}

func NewMemoryQueue(backoff Backoff, logger *zap.Logger) *MemoryQueue {
	return &MemoryQueue{
		jobs:    make(map[uuid.UUID]*Job),
		byVideo: make(map[string]uuid.UUID),
		timers:  make(map[uuid.UUID]*time.Timer),
		wake:    make(chan struct{}),
		backoff: backoff,
		logger:  logger,
		now:     time.Now,
	}
}

// signal wakes every blocked Dequeue. Caller holds mu.
func (q *MemoryQueue) signal() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *MemoryQueue) Submit(ctx context.Context, j *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue closed")
	}
	if _, exists := q.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already submitted", j.ID)
	}

	stored := j.clone()
	stored.State = StateQueued
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = q.now()
	}
	q.jobs[stored.ID] = stored
	q.byVideo[stored.VideoID] = stored.ID
	q.ready = append(q.ready, stored.ID)
	q.signal()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, fmt.Errorf("queue closed")
		}
		if len(q.ready) > 0 {
			id := q.ready[0]
			q.ready = q.ready[1:]
			j := q.jobs[id]
			j.State = StateActive
			j.AttemptsMade++
			j.ProgressPercent = 0
			j.StartedAt = q.now()
			j.RunAt = time.Time{}
			out := j.clone()
			q.mu.Unlock()
			return out, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, id uuid.UUID, procErr error) (State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return "", ErrNotFound
	}
	if j.State != StateActive {
		return j.State, ErrNotActive
	}

	state := resolve(j, procErr, q.now(), q.backoff)
	if state == StateDelayed {
		delay := j.RunAt.Sub(q.now())
		q.timers[id] = time.AfterFunc(delay, func() { q.promote(id) })
		q.logger.Info("Job scheduled for retry",
			zap.String("job_id", id.String()),
			zap.Int("attempts_made", j.AttemptsMade),
			zap.Duration("delay", delay),
		)
	}
	return state, nil
}

func (q *MemoryQueue) Release(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.State != StateActive {
		return ErrNotActive
	}
	j.State = StateQueued
	j.AttemptsMade = max(j.AttemptsMade-1, 0)
	j.ProgressPercent = 0
	j.StartedAt = time.Time{}
	q.ready = append([]uuid.UUID{id}, q.ready...)
	q.signal()
	return nil
}

func (q *MemoryQueue) promote(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.timers, id)
	j, ok := q.jobs[id]
	if !ok || j.State != StateDelayed || q.closed {
		return
	}
	j.State = StateQueued
	q.ready = append(q.ready, id)
	q.signal()
}

func (q *MemoryQueue) UpdateProgress(ctx context.Context, id uuid.UUID, percent int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.State != StateActive {
		return ErrNotActive
	}
	if percent > j.ProgressPercent {
		j.ProgressPercent = min(percent, 100)
	}
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.clone(), nil
}

func (q *MemoryQueue) GetByVideo(ctx context.Context, videoID string) (*Job, error) {
	q.mu.Lock()
	id, ok := q.byVideo[videoID]
	q.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return q.Get(ctx, id)
}

func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, j := range q.jobs {
		switch j.State {
		case StateQueued:
			s.Waiting++
		case StateActive:
			s.Active++
		case StateDelayed:
			s.Delayed++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (q *MemoryQueue) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	removed := 0
	for id, j := range q.jobs {
		if !j.State.Terminal() || !j.FinishedAt.Before(cutoff) {
			continue
		}
		delete(q.jobs, id)
		if q.byVideo[j.VideoID] == id {
			delete(q.byVideo, j.VideoID)
		}
		removed++
	}
	return removed, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.signal()
	return nil
}
