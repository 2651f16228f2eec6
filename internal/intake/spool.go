package intake

import (
	types "VodForge/pkg"
	"VodForge/internal/job"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Spool lands uploaded sources on local disk. A file only appears under its
// final name once fully written, so it is safe to submit right after Save.
// Every upload and every submission gets its own name, so a re-upload of a
// video never touches files an earlier job is still using.
type Spool struct {
	uploadDir string
	workDir   string
	logger    *zap.Logger
}

func NewSpool(cfg types.SpoolConfig, logger *zap.Logger) (*Spool, error) {
	for _, dir := range []string{cfg.UploadDir, cfg.WorkDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
		}
	}
	return &Spool{uploadDir: cfg.UploadDir, workDir: cfg.WorkDir, logger: logger}, nil
}

func validVideoID(videoID string) bool {
	return videoID != "" && videoID != "." && videoID != ".." && !strings.ContainsAny(videoID, `/\`)
}

// Save copies body to the upload directory and returns the local path.
func (s *Spool) Save(ctx context.Context, videoID, filename string, body io.Reader) (string, error) {
	if !validVideoID(videoID) {
		return "", &job.InvalidJobError{Field: "video_id", Msg: "must be a single path segment"}
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	localPath := filepath.Join(s.uploadDir, scratchName(videoID)+ext)

	tmp, err := os.CreateTemp(s.uploadDir, ".spool-*")
	if err != nil {
		return "", fmt.Errorf("failed to create spool file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, &contextReader{ctx: ctx, r: body})
	if err != nil {
		tmp.Close()
		s.logger.Error("Spool failed", zap.String("video_id", videoID), zap.Error(err))
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return "", fmt.Errorf("failed to publish upload: %w", err)
	}

	s.logger.Info("Upload spooled",
		zap.String("video_id", videoID),
		zap.String("local_path", localPath),
		zap.Int64("bytes", n))
	return localPath, nil
}

// Request builds the submission for a spooled file.
func (s *Spool) Request(videoID, inputPath, userID, filename string) job.SubmitRequest {
	return job.SubmitRequest{
		VideoID:   videoID,
		InputPath: inputPath,
		OutputDir: filepath.Join(s.workDir, scratchName(videoID)),
		UserID:    userID,
		Filename:  filename,
	}
}

func scratchName(videoID string) string {
	return videoID + "-" + uuid.NewString()
}

// contextReader stops a long copy once the request is gone.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
