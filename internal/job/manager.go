package job

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"VodForge/internal/metrics"
	"VodForge/internal/video"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager is the submission and status surface of the pipeline. It also
// fans progress out to stream subscribers.
type Manager struct {
	queue       Queue
	videos      video.Store
	maxAttempts int
	logger      *zap.Logger
	clients     map[string][]chan ProgressUpdate
	clientsMu   sync.RWMutex
}

func NewManager(queue Queue, videos video.Store, maxAttempts int, logger *zap.Logger) *Manager {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Manager{
		queue:       queue,
		videos:      videos,
		maxAttempts: maxAttempts,
		logger:      logger,
		clients:     make(map[string][]chan ProgressUpdate),
	}
}

// Submit validates req, marks the video PROCESSING at 0% and enqueues a job.
// The status write happens before Submit returns. If the job cannot be
// enqueued the video goes back to the status it had, or FAILED when it had
// none.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	if err := validateRequest(req); err != nil {
		m.logger.Warn("Rejected job submission", zap.String("video_id", req.VideoID), zap.Error(err))
		return uuid.Nil, err
	}

	j := &Job{
		ID:          uuid.New(),
		VideoID:     req.VideoID,
		InputPath:   req.InputPath,
		OutputDir:   req.OutputDir,
		UserID:      req.UserID,
		Filename:    req.Filename,
		MaxAttempts: m.maxAttempts,
		CreatedAt:   time.Now(),
	}

	prev, _ := m.videos.GetVideo(ctx, j.VideoID)
	if err := m.videos.UpdateVideoStatus(ctx, j.VideoID, video.StatusProcessing, 0); err != nil {
		m.logger.Error("Failed to mark video processing", zap.String("video_id", j.VideoID), zap.Error(err))
		return uuid.Nil, err
	}
	if err := m.queue.Submit(ctx, j); err != nil {
		m.logger.Error("Failed to enqueue job", zap.String("video_id", j.VideoID), zap.Error(err))
		m.rollbackStatus(context.WithoutCancel(ctx), j.VideoID, prev)
		return uuid.Nil, err
	}
	metrics.JobsSubmitted.Inc()

	m.logger.Info("Job submitted",
		zap.String("job_id", j.ID.String()),
		zap.String("video_id", j.VideoID),
		zap.String("user_id", j.UserID),
	)
	m.broadcastUpdate(j.VideoID, ProgressUpdate{
		JobID:     j.ID,
		VideoID:   j.VideoID,
		State:     StateQueued,
		Timestamp: time.Now(),
	})
	return j.ID, nil
}

func (m *Manager) rollbackStatus(ctx context.Context, videoID string, prev *video.Video) {
	status, progress := video.StatusFailed, 0
	if prev != nil {
		status, progress = prev.Status, prev.Progress
	}
	if err := m.videos.UpdateVideoStatus(ctx, videoID, status, progress); err != nil {
		m.logger.Error("Failed to restore video status", zap.String("video_id", videoID), zap.Error(err))
	}
}

func validateRequest(req SubmitRequest) error {
	if strings.TrimSpace(req.VideoID) == "" {
		return &InvalidJobError{Field: "video_id", Msg: "is required"}
	}
	if strings.TrimSpace(req.InputPath) == "" {
		return &InvalidJobError{Field: "input_path", Msg: "is required"}
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return &InvalidJobError{Field: "output_dir", Msg: "is required"}
	}
	out := filepath.Clean(req.OutputDir)
	if out == string(filepath.Separator) || out == "." {
		return &InvalidJobError{Field: "output_dir", Msg: "must be a dedicated scratch directory"}
	}
	if rel, err := filepath.Rel(out, filepath.Clean(req.InputPath)); err == nil && !strings.HasPrefix(rel, "..") {
		return &InvalidJobError{Field: "input_path", Msg: "must not live inside output_dir"}
	}
	return nil
}

// GetJobStatus reports the latest job for a video.
func (m *Manager) GetJobStatus(ctx context.Context, videoID string) (*Status, error) {
	j, err := m.queue.GetByVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	return statusOf(j), nil
}

func (m *Manager) GetQueueStats(ctx context.Context) (Stats, error) {
	stats, err := m.queue.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	metrics.SetQueueDepth(stats.Waiting, stats.Active, stats.Delayed, stats.Completed, stats.Failed)
	return stats, nil
}

// PruneFinished drops terminal jobs older than olderThan from the queue.
func (m *Manager) PruneFinished(ctx context.Context, olderThan time.Duration) error {
	count, err := m.queue.Prune(ctx, olderThan)
	if err != nil {
		m.logger.Error("Failed to prune finished jobs", zap.Error(err))
		return err
	}

	if count > 0 {
		m.logger.Info("Pruned finished jobs",
			zap.Int("count", count),
			zap.Duration("older_than", olderThan),
		)
	}
	return nil
}

// Reporter returns the progress sink for one attempt of j.
func (m *Manager) Reporter(j *Job) ProgressReporter {
	return &progressReporter{manager: m, job: j}
}

// Finished broadcasts the outcome of an attempt.
func (m *Manager) Finished(j *Job, state State, procErr error) {
	update := ProgressUpdate{
		JobID:     j.ID,
		VideoID:   j.VideoID,
		State:     state,
		Timestamp: time.Now(),
	}
	switch state {
	case StateCompleted:
		update.Progress = 100
	case StateDelayed, StateFailed:
		update.Message = FailureReason(procErr)
	}
	m.broadcastUpdate(j.VideoID, update)
}

type progressReporter struct {
	manager *Manager
	job     *Job
	mu      sync.Mutex
	last    int
}

// Report forwards strictly increasing values only, so concurrent stages can
// report without coordinating.
func (r *progressReporter) Report(ctx context.Context, percent int) {
	r.mu.Lock()
	if percent <= r.last {
		r.mu.Unlock()
		return
	}
	r.last = percent
	r.mu.Unlock()

	m := r.manager
	if err := m.queue.UpdateProgress(ctx, r.job.ID, percent); err != nil {
		m.logger.Warn("Failed to record job progress", zap.String("job_id", r.job.ID.String()), zap.Error(err))
	}
	if _, err := m.videos.AdvanceVideoProgress(ctx, r.job.VideoID, percent); err != nil {
		m.logger.Warn("Failed to persist video progress", zap.String("video_id", r.job.VideoID), zap.Error(err))
	}

	m.broadcastUpdate(r.job.VideoID, ProgressUpdate{
		JobID:     r.job.ID,
		VideoID:   r.job.VideoID,
		State:     StateActive,
		Progress:  percent,
		Timestamp: time.Now(),
	})
}

// Subscribe adds a stream client for a video
func (m *Manager) Subscribe(videoID string) chan ProgressUpdate {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	ch := make(chan ProgressUpdate, 10)
	m.clients[videoID] = append(m.clients[videoID], ch)

	m.logger.Debug("Client subscribed",
		zap.String("video_id", videoID),
		zap.Int("total_clients", len(m.clients[videoID])),
	)
	return ch
}

// Unsubscribe removes a stream client
func (m *Manager) Unsubscribe(videoID string, ch chan ProgressUpdate) {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	clients := m.clients[videoID]
	for i, client := range clients {
		if client == ch {
			m.clients[videoID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(m.clients[videoID]) == 0 {
		delete(m.clients, videoID)
	}
}

func (m *Manager) broadcastUpdate(videoID string, update ProgressUpdate) {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()

	for _, ch := range m.clients[videoID] {
		select {
		case ch <- update:
		default:
			m.logger.Warn("Client channel full, skipping update", zap.String("video_id", videoID))
		}
	}
}
