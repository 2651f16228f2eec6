package pipeline

import (
	types "VodForge/pkg"
	"VodForge/internal/media"
	"VodForge/internal/metrics"
	"VodForge/pkg/ffmpeg"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Engine runs the external encoder. *ffmpeg.FFmpeg implements it.
type Engine interface {
	Exec(ctx context.Context, args []string, onLine func(string)) error
}

// Transcoder encodes renditions. The semaphore is shared by every worker so
// the number of encoder processes stays under one process-wide ceiling.
type Transcoder struct {
	engine  Engine
	slots   *semaphore.Weighted
	segment int
	crf     int
	preset  string
	audio   int
	logger  *zap.Logger
}

func NewTranscoder(engine Engine, slots *semaphore.Weighted, cfg types.PipelineConfig, logger *zap.Logger) *Transcoder {
	return &Transcoder{
		engine:  engine,
		slots:   slots,
		segment: cfg.SegmentDurationSec,
		crf:     crfOf(cfg),
		preset:  cfg.Preset,
		audio:   cfg.AudioBitrateKbps,
		logger:  logger,
	}
}

func crfOf(cfg types.PipelineConfig) int {
	if cfg.CRF == nil {
		return types.DefaultCRF
	}
	return *cfg.CRF
}

func (t *Transcoder) encodeArgs(input string, r media.Rendition, outputPath string) []string {
	return []string{
		"-hide_banner", "-y",
		"-i", input,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease:force_divisible_by=2", r.Width, r.Height),
		"-c:v", "libx264",
		"-preset", t.preset,
		"-crf", strconv.Itoa(t.crf),
		"-maxrate", fmt.Sprintf("%dk", r.BitrateKbps),
		"-bufsize", fmt.Sprintf("%dk", 2*r.BitrateKbps),
		"-pix_fmt", "yuv420p",
		// keyframes on segment boundaries so packaging can cut without re-encoding
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", t.segment),
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", t.audio),
		"-ac", "2",
		"-movflags", "+faststart",
		"-progress", "pipe:1", "-nostats",
		outputPath,
	}
}

// EncodeRendition produces one MP4 at outputPath. onProgress may be nil.
func (t *Transcoder) EncodeRendition(ctx context.Context, input string, durationSec float64, r media.Rendition, outputPath string, onProgress func(int)) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create rendition directory: %w", err)
	}

	if err := t.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer t.slots.Release(1)

	metrics.EncodesRunning.Inc()
	defer metrics.EncodesRunning.Dec()
	start := time.Now()

	tracker := ffmpeg.NewProgressTracker(durationSec, onProgress)
	err := t.engine.Exec(ctx, t.encodeArgs(input, r, outputPath), tracker.Line)
	if err != nil {
		metrics.EncodeFailures.WithLabelValues("encode").Inc()
		if ctx.Err() != nil {
			return "", err
		}
		code, tail := exitDetails(err)
		t.logger.Error("Encode failed",
			zap.String("rendition", r.Label),
			zap.Int("exit_code", code),
			zap.String("stderr", tail),
			zap.Error(err))
		return "", &EncodeFailedError{Rendition: r.Label, ExitCode: code, StderrTail: tail, Err: err}
	}

	elapsed := time.Since(start)
	metrics.EncodeDuration.WithLabelValues(r.Label).Observe(elapsed.Seconds())
	t.logger.Info("Encode succeeded",
		zap.String("rendition", r.Label),
		zap.String("output", outputPath),
		zap.Duration("duration", elapsed))
	return outputPath, nil
}

// EncodeAll encodes every rendition in parallel under the shared ceiling. The
// first failure cancels the rest. onProgress receives the work finished so
// far in renditions, counting partial encodes as fractions; values never
// decrease. Outputs follow the order of renditions.
func (t *Transcoder) EncodeAll(ctx context.Context, input string, info *media.Info, renditions []media.Rendition, outputDir string, onProgress func(units float64)) ([]string, error) {
	outputs := make([]string, len(renditions))
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	partial := make([]float64, len(renditions))
	advance := func(i int, fraction float64) {
		mu.Lock()
		defer mu.Unlock()
		if fraction <= partial[i] {
			return
		}
		partial[i] = fraction
		units := 0.0
		for _, f := range partial {
			units += f
		}
		if onProgress != nil {
			onProgress(units)
		}
	}

	for i, r := range renditions {
		g.Go(func() error {
			out, err := t.EncodeRendition(gctx, input, info.DurationSeconds, r, filepath.Join(outputDir, renditionRel(r.Label)), func(pct int) {
				t.logger.Debug("Encode progress", zap.String("rendition", r.Label), zap.Int("percent", pct))
				advance(i, float64(pct)/100)
			})
			if err != nil {
				return err
			}
			outputs[i] = out
			advance(i, 1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}
