package pipeline

import (
	types "VodForge/pkg"
	"VodForge/internal/config"
	"VodForge/internal/media"
	"VodForge/internal/pipeline/storage"
	"VodForge/internal/video"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const fakeContent = "fake-output"

// fakeEngine writes the files a real encoder would, without encoding.
type fakeEngine struct {
	mu    sync.Mutex
	calls [][]string
	fail  func(args []string) error
	// progress replaces the default encode progress lines when set
	progress []string
}

func (e *fakeEngine) Exec(ctx context.Context, args []string, onLine func(string)) error {
	e.mu.Lock()
	e.calls = append(e.calls, args)
	fail := e.fail
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if fail != nil {
		if err := fail(args); err != nil {
			return err
		}
	}

	out := args[len(args)-1]
	switch {
	case hasPair(args, "-f", "hls"):
		pattern := valueOf(args, "-hls_segment_filename")
		if err := writeFake(fmt.Sprintf(pattern, 0)); err != nil {
			return err
		}
	case hasPair(args, "-f", "dash"):
		dir := filepath.Dir(out)
		for _, name := range []string{"init-0.m4s", "chunk-0-00001.m4s"} {
			if err := writeFake(filepath.Join(dir, name)); err != nil {
				return err
			}
		}
	case slices.Contains(args, "-progress") && onLine != nil:
		lines := e.progress
		if lines == nil {
			lines = []string{"out_time_us=500000", "progress=end"}
		}
		for _, line := range lines {
			onLine(line)
		}
	}
	return writeFake(out)
}

func (e *fakeEngine) callsWith(flag, value string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, args := range e.calls {
		if hasPair(args, flag, value) {
			n++
		}
	}
	return n
}

func hasPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func valueOf(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func writeFake(p string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(fakeContent), 0644)
}

type fakeInspector struct {
	info *media.Info
	err  error
}

func (f fakeInspector) Inspect(ctx context.Context, path string) (*media.Info, error) {
	if f.err != nil {
		return nil, f.err
	}
	info := *f.info
	return &info, nil
}

type recordingReporter struct {
	mu     sync.Mutex
	values []int
}

func (r *recordingReporter) Report(ctx context.Context, percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, percent)
}

func (r *recordingReporter) recorded() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.values)
}

func testPipelineConfig() types.PipelineConfig {
	return types.PipelineConfig{
		SegmentDurationSec: 6,
		PackageFormats:     []string{"hls", "dash"},
		ThumbnailFractions: []float64{0.25, 0.5, 0.75},
		Preset:             "veryfast",
		AudioBitrateKbps:   128,
		UploadRetry: types.RetryConfig{
			MaxAttempts:        3,
			InitialIntervalSec: 0.001,
			BackoffCoefficient: 2,
		},
	}
}

type testEnv struct {
	wf        *Workflow
	engine    *fakeEngine
	videos    *video.MemoryStore
	storeRoot string
	input     string
	outputDir string
}

func newTestEnv(t *testing.T, inspector Inspector) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	cfg := testPipelineConfig()

	storeRoot := t.TempDir()
	store, err := storage.NewLocalStorage(types.LocalConfig{BasePath: storeRoot, PublicBaseURL: "https://cdn.test"})
	require.NoError(t, err)

	scratch := t.TempDir()
	input := filepath.Join(scratch, "uploads", "v1.mp4")
	require.NoError(t, writeFake(input))

	engine := &fakeEngine{}
	videos := video.NewMemoryStore()
	wf := NewWorkflow(
		inspector,
		media.LadderFromConfig(config.DefaultLadder()),
		NewTranscoder(engine, semaphore.NewWeighted(2), cfg, logger),
		NewPackager(engine, cfg.SegmentDurationSec, logger),
		NewThumbnailer(engine, logger),
		NewUploader(store, KeyScheme{Prefix: "videos"}, cfg.UploadRetry, 4, logger),
		videos,
		cfg,
		logger,
	)
	return &testEnv{
		wf:        wf,
		engine:    engine,
		videos:    videos,
		storeRoot: storeRoot,
		input:     input,
		outputDir: filepath.Join(scratch, "work", "v1"),
	}
}

func hd() *media.Info {
	return &media.Info{Width: 1920, Height: 1080, DurationSeconds: 120, HasAudio: true}
}
