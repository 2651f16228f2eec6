package handlers

import (
	"VodForge/internal/intake"
	"VodForge/internal/job"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UploadHandler accepts a source video over multipart and submits it.
type UploadHandler struct {
	jobManager *job.Manager
	spool      *intake.Spool
	maxBytes   int64
	logger     *zap.Logger
}

func NewUploadHandler(jobManager *job.Manager, spool *intake.Spool, maxBytes int64, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		jobManager: jobManager,
		spool:      spool,
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

// Handle stores the "file" part and returns the job ID immediately
func (h *UploadHandler) Handle(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	// parts above 32 MB spill to temp files
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		h.logger.Error("Failed to parse multipart form", zap.Error(err))
		writeError(w, http.StatusBadRequest, "failed to parse form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()

	inputPath, err := h.spool.Save(r.Context(), videoID, header.Filename, file)
	if err != nil {
		respondSubmitError(w, h.logger, err)
		return
	}

	req := h.spool.Request(videoID, inputPath, r.FormValue("user_id"), header.Filename)
	jobID, err := h.jobManager.Submit(r.Context(), req)
	if err != nil {
		os.Remove(inputPath)
		respondSubmitError(w, h.logger, err)
		return
	}

	h.logger.Info("Upload accepted",
		zap.String("job_id", jobID.String()),
		zap.String("video_id", videoID),
		zap.Int64("size", header.Size),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   jobID,
		"video_id": videoID,
	})
}
