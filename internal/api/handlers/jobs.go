package handlers

import (
	"VodForge/internal/job"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// JobsHandler exposes submission and status queries.
type JobsHandler struct {
	jobManager *job.Manager
	logger     *zap.Logger
}

func NewJobsHandler(jobManager *job.Manager, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{
		jobManager: jobManager,
		logger:     logger,
	}
}

// Submit enqueues a transcode job for a file already on local disk.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req job.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	jobID, err := h.jobManager.Submit(r.Context(), req)
	if err != nil {
		respondSubmitError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   jobID,
		"video_id": req.VideoID,
	})
}

// GetStatus returns the latest job state for a video.
func (h *JobsHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
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
	writeJSON(w, http.StatusOK, status)
}

func (h *JobsHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobManager.GetQueueStats(r.Context())
	if err != nil {
		h.logger.Error("Failed to get queue stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func respondSubmitError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var invalid *job.InvalidJobError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": invalid.Reason(),
			"field": invalid.Field,
		})
		return
	}
	logger.Error("Failed to submit job", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to submit job")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
