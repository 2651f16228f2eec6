package pipeline

import (
	"VodForge/internal/metrics"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

type Thumbnailer struct {
	engine Engine
	width  int
	logger *zap.Logger
}

func NewThumbnailer(engine Engine, logger *zap.Logger) *Thumbnailer {
	return &Thumbnailer{engine: engine, width: 640, logger: logger}
}

// Timestamps converts fractions of the duration into seek offsets. A source
// without a known duration gets a single frame from the start.
func Timestamps(durationSec float64, fractions []float64) []float64 {
	if durationSec <= 0 || len(fractions) == 0 {
		return []float64{0}
	}
	out := make([]float64, 0, len(fractions))
	for _, f := range fractions {
		ts := durationSec * f
		// seeking to the very end yields no frame
		if ts >= durationSec {
			ts = max(durationSec-0.5, 0)
		}
		out = append(out, ts)
	}
	return out
}

// Extract writes one JPEG per fraction into outputDir and returns the paths
// in fraction order.
func (t *Thumbnailer) Extract(ctx context.Context, input string, durationSec float64, fractions []float64, outputDir string) ([]string, error) {
	if err := os.MkdirAll(filepath.Join(outputDir, thumbnailDir), 0755); err != nil {
		return nil, &ThumbnailError{Err: err}
	}

	var paths []string
	for i, ts := range Timestamps(durationSec, fractions) {
		out := filepath.Join(outputDir, thumbnailRel(i))
		args := []string{
			"-hide_banner", "-y",
			"-ss", fmt.Sprintf("%.3f", ts),
			"-i", input,
			"-frames:v", "1",
			"-vf", fmt.Sprintf("scale=%d:-2", t.width),
			"-q:v", "2",
			"-update", "1",
			out,
		}
		if err := t.engine.Exec(ctx, args, nil); err != nil {
			metrics.EncodeFailures.WithLabelValues("thumbnail").Inc()
			if ctx.Err() != nil {
				return nil, err
			}
			code, tail := exitDetails(err)
			t.logger.Error("Thumbnail extraction failed",
				zap.Int("index", i),
				zap.Float64("timestamp", ts),
				zap.Int("exit_code", code),
				zap.String("stderr", tail),
				zap.Error(err))
			return nil, &ThumbnailError{Index: i, StderrTail: tail, Err: err}
		}
		// the engine exits 0 when the seek lands past the last frame
		if _, err := os.Stat(out); err != nil {
			return nil, &ThumbnailError{Index: i, Err: fmt.Errorf("no frame written at %.3fs: %w", ts, err)}
		}
		paths = append(paths, out)
	}
	return paths, nil
}
