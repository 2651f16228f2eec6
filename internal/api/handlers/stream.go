package handlers

import (
	"VodForge/internal/job"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// StreamHandler streams a video's progress via Server-Sent Events.
type StreamHandler struct {
	jobManager *job.Manager
	heartbeat  time.Duration
	logger     *zap.Logger
}

func NewStreamHandler(jobManager *job.Manager, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		jobManager: jobManager,
		heartbeat:  15 * time.Second,
		logger:     logger,
	}
}

func (h *StreamHandler) StreamProgress(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")

	// subscribe first so nothing published after the status read is lost
	updates := h.jobManager.Subscribe(videoID)
	defer h.jobManager.Unsubscribe(videoID, updates)

	status, err := h.jobManager.GetJobStatus(r.Context(), videoID)
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no job for video")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get job status", zap.String("video_id", videoID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read job status")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("Streaming not supported - ResponseWriter does not implement http.Flusher")
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	// reverse proxies must not buffer the stream
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if err := writeSSEEvent(w, flusher, "status", status); err != nil {
		h.logger.Warn("Failed to send initial status", zap.String("video_id", videoID), zap.Error(err))
		return
	}
	if status.State.Terminal() {
		return
	}

	h.streamEventLoop(r.Context(), w, flusher, videoID, updates)
}

func (h *StreamHandler) streamEventLoop(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, videoID string, updates <-chan job.ProgressUpdate) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case update, ok := <-updates:
			if !ok {
				return
			}
			event := "progress"
			switch update.State {
			case job.StateCompleted:
				event = "complete"
			case job.StateFailed:
				event = "error"
			case job.StateDelayed:
				event = "retry"
			}
			if err := writeSSEEvent(w, flusher, event, update); err != nil {
				h.logger.Warn("Failed to send progress update", zap.String("video_id", videoID), zap.Error(err))
				return
			}
			if update.State.Terminal() {
				return
			}

		case <-heartbeat.C:
			// comment lines keep proxies from closing an idle stream
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	flusher.Flush()
	return nil
}
