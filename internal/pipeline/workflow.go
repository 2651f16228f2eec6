package pipeline

import (
	types "VodForge/pkg"
	"VodForge/internal/job"
	"VodForge/internal/media"
	"VodForge/internal/video"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Inspector interface {
	Inspect(ctx context.Context, path string) (*media.Info, error)
}

// Workflow runs one attempt of a transcode job: inspect, plan, encode,
// package, thumbnail, upload and write back.
type Workflow struct {
	inspector   Inspector
	ladder      media.Ladder
	transcoder  *Transcoder
	packager    *Packager
	thumbnailer *Thumbnailer
	uploader    *Uploader
	videos      video.Store
	formats     []string
	fractions   []float64
	logger      *zap.Logger
}

var _ job.Handler = (*Workflow)(nil)

func NewWorkflow(inspector Inspector, ladder media.Ladder, transcoder *Transcoder, packager *Packager, thumbnailer *Thumbnailer, uploader *Uploader, videos video.Store, cfg types.PipelineConfig, logger *zap.Logger) *Workflow {
	return &Workflow{
		inspector:   inspector,
		ladder:      ladder,
		transcoder:  transcoder,
		packager:    packager,
		thumbnailer: thumbnailer,
		uploader:    uploader,
		videos:      videos,
		formats:     cfg.PackageFormats,
		fractions:   cfg.ThumbnailFractions,
		logger:      logger,
	}
}

// stagePercent is the progress after done of total stages. done may be
// fractional while encodes are running.
func stagePercent(done float64, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * done / float64(total)))
}

// stageReporter forwards each whole percent once and in increasing order.
type stageReporter struct {
	ctx      context.Context
	progress job.ProgressReporter
	total    int
	mu       sync.Mutex
	last     int
}

func (r *stageReporter) at(done float64) {
	pct := stagePercent(done, r.total)
	r.mu.Lock()
	defer r.mu.Unlock()
	if pct <= r.last {
		return
	}
	r.last = pct
	r.progress.Report(r.ctx, pct)
}

func (w *Workflow) Process(ctx context.Context, j *job.Job, progress job.ProgressReporter) error {
	logger := w.logger.With(
		zap.String("job_id", j.ID.String()),
		zap.String("video_id", j.VideoID),
		zap.Int("attempt", j.AttemptsMade),
	)

	// Step 1: Validate input
	if err := checkInput(j.InputPath); err != nil {
		return err
	}
	if err := os.MkdirAll(j.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	// scratch output never survives an attempt; a retry starts clean
	defer cleanupScratch(logger, j.OutputDir)

	// Step 2: Inspect and plan
	info, err := w.inspector.Inspect(ctx, j.InputPath)
	if err != nil {
		return err
	}
	renditions, err := media.Plan(info.Width, info.Height, w.ladder)
	if err != nil {
		return err
	}
	logger.Info("Planned renditions",
		zap.Int("source_width", info.Width),
		zap.Int("source_height", info.Height),
		zap.Float64("duration", info.DurationSeconds),
		zap.Int("renditions", len(renditions)))

	// encodes, packaging, thumbnails, upload, write-back
	report := &stageReporter{ctx: ctx, progress: progress, total: len(renditions) + 4}

	// Step 3: Transcode
	transcodeStart := time.Now()
	outputs, err := w.transcoder.EncodeAll(ctx, j.InputPath, info, renditions, j.OutputDir, report.at)
	if err != nil {
		return err
	}
	logger.Info("Transcoding finished", zap.Duration("duration", time.Since(transcodeStart)))
	done := float64(len(renditions))

	// Step 4: Package
	for _, format := range w.formats {
		if _, err := w.packager.Package(ctx, format, renditions, outputs, info.HasAudio, j.OutputDir); err != nil {
			return err
		}
	}
	done++
	report.at(done)

	// Step 5: Thumbnails
	thumbs, err := w.thumbnailer.Extract(ctx, j.InputPath, info.DurationSeconds, w.fractions, j.OutputDir)
	if err != nil {
		return err
	}
	done++
	report.at(done)

	// Step 6: Upload
	uploadStart := time.Now()
	uploaded, err := w.uploader.UploadAll(ctx, j.VideoID, j.OutputDir)
	if err != nil {
		return err
	}
	logger.Info("Upload finished",
		zap.Int("artifacts", len(uploaded)),
		zap.Duration("duration", time.Since(uploadStart)))
	done++
	report.at(done)

	// Step 7: Write back
	artifacts := w.artifactsOf(j.VideoID, info, renditions, uploaded, len(thumbs))
	if err := w.videos.UpdateVideoArtifacts(ctx, j.VideoID, artifacts); err != nil {
		return fmt.Errorf("failed to write video artifacts: %w", err)
	}
	if err := w.videos.UpdateVideoStatus(ctx, j.VideoID, video.StatusReady, 100); err != nil {
		return fmt.Errorf("failed to mark video ready: %w", err)
	}
	progress.Report(ctx, 100)

	logger.Info("Video ready",
		zap.String("manifest_url", artifacts.ManifestURL),
		zap.String("resolution", artifacts.ResolutionLabel),
		zap.Int64("file_size", artifacts.FileSizeBytes))
	return nil
}

func checkInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &MissingInputError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &MissingInputError{Path: path, Err: errors.New("not a regular file")}
	}
	return nil
}

// artifactsOf picks the values written back to the video record: the top
// rendition as primary video, the first configured format's manifest, the
// thumbnail nearest the middle, and the summed size of all rendition files.
func (w *Workflow) artifactsOf(videoID string, info *media.Info, renditions []media.Rendition, uploaded map[string]Artifact, thumbCount int) video.Artifacts {
	keys := w.uploader.keys
	top := renditions[len(renditions)-1]

	var size int64
	for _, r := range renditions {
		size += uploaded[keys.RenditionKey(videoID, r.Label)].Size
	}

	return video.Artifacts{
		VideoURL:        uploaded[keys.RenditionKey(videoID, top.Label)].RemoteURL,
		ManifestURL:     uploaded[keys.ManifestKey(videoID, w.formats[0])].RemoteURL,
		ThumbnailURL:    uploaded[keys.ThumbnailKey(videoID, primaryThumbnail(w.fractions, thumbCount))].RemoteURL,
		DurationSeconds: info.DurationSeconds,
		ResolutionLabel: top.Label,
		FileSizeBytes:   size,
	}
}

func primaryThumbnail(fractions []float64, count int) int {
	if count != len(fractions) {
		return 0
	}
	best := 0
	for i, f := range fractions {
		if math.Abs(f-0.5) < math.Abs(fractions[best]-0.5) {
			best = i
		}
	}
	return best
}

// Finalize cleans up once the queue has recorded the attempt. The input is
// kept while a retry is pending and removed once the job is terminal.
func (w *Workflow) Finalize(ctx context.Context, j *job.Job, state job.State, procErr error) {
	if !state.Terminal() {
		return
	}
	logger := w.logger.With(zap.String("job_id", j.ID.String()), zap.String("video_id", j.VideoID))

	cleanupScratch(logger, j.OutputDir)
	if err := os.Remove(j.InputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to remove input", zap.String("path", j.InputPath), zap.Error(err))
	}

	if state != job.StateFailed {
		return
	}
	percent := 0
	if v, err := w.videos.GetVideo(ctx, j.VideoID); err == nil {
		percent = v.Progress
	}
	if err := w.videos.UpdateVideoStatus(ctx, j.VideoID, video.StatusFailed, percent); err != nil {
		logger.Error("Failed to mark video failed", zap.Error(err))
	}
}

// cleanupScratch removes a local path; failures are only logged.
func cleanupScratch(logger *zap.Logger, p string) {
	if p == "" {
		return
	}
	if err := os.RemoveAll(p); err != nil {
		logger.Warn("Failed to remove scratch path", zap.String("path", p), zap.Error(err))
	}
}
