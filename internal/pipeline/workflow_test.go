package pipeline

import (
	"VodForge/internal/job"
	"VodForge/internal/media"
	"VodForge/internal/video"
	"VodForge/pkg/ffmpeg"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (env *testEnv) job(attempt, maxAttempts int) *job.Job {
	return &job.Job{
		ID:           uuid.New(),
		VideoID:      "v1",
		InputPath:    env.input,
		OutputDir:    env.outputDir,
		State:        job.StateActive,
		AttemptsMade: attempt,
		MaxAttempts:  maxAttempts,
	}
}

func TestWorkflowPublishesHDSource(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, fakeInspector{info: hd()})
	require.NoError(t, env.videos.UpdateVideoStatus(ctx, "v1", video.StatusProcessing, 0))

	j := env.job(1, 3)
	reporter := &recordingReporter{}
	require.NoError(t, env.wf.Process(ctx, j, reporter))

	// 144p through 1080p, never 1440p or 2160p
	assert.Equal(t, 6, env.engine.callsWith("-c:v", "libx264"))
	_, err := os.Stat(filepath.Join(env.storeRoot, "videos", "v1", "renditions", "1440p.mp4"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	v, err := env.videos.GetVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, video.StatusReady, v.Status)
	assert.Equal(t, 100, v.Progress)
	assert.Equal(t, video.Artifacts{
		VideoURL:        "https://cdn.test/videos/v1/renditions/1080p.mp4",
		ManifestURL:     "https://cdn.test/videos/v1/hls/master.m3u8",
		ThumbnailURL:    "https://cdn.test/videos/v1/thumbnails/thumb_01.jpg",
		DurationSeconds: 120,
		ResolutionLabel: "1080p",
		FileSizeBytes:   int64(6 * len(fakeContent)),
	}, v.Artifacts)

	for _, rel := range []string{"hls/master.m3u8", "hls/720p.m3u8", "hls/720p_00000.ts", "dash/manifest.mpd", "thumbnails/thumb_02.jpg"} {
		assert.FileExists(t, filepath.Join(env.storeRoot, "videos", "v1", filepath.FromSlash(rel)))
	}

	// six encodes, then packaging, thumbnails, upload and write-back
	assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, reporter.recorded())

	_, err = os.Stat(env.outputDir)
	assert.ErrorIs(t, err, os.ErrNotExist, "scratch output removed after the attempt")
	assert.FileExists(t, env.input, "input kept until the queue records the outcome")

	env.wf.Finalize(ctx, j, job.StateCompleted, nil)
	_, err = os.Stat(env.input)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWorkflowReportsProgressDuringEncode(t *testing.T) {
	ctx := context.Background()
	// a 144p-only source: one encode plus four trailing stages
	env := newTestEnv(t, fakeInspector{info: &media.Info{Width: 256, Height: 144, DurationSeconds: 100}})
	env.engine.progress = []string{"out_time_us=50000000", "progress=end"}

	reporter := &recordingReporter{}
	require.NoError(t, env.wf.Process(ctx, env.job(1, 3), reporter))

	// half of the only encode is already 10% of the job
	assert.Equal(t, []int{10, 20, 40, 60, 80, 100}, reporter.recorded())
}

func TestWorkflowMasterPlaylistIsBandwidthAscending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, fakeInspector{info: &media.Info{Width: 1280, Height: 720, DurationSeconds: 30}})
	require.NoError(t, env.wf.Process(ctx, env.job(1, 3), &recordingReporter{}))

	data, err := os.ReadFile(filepath.Join(env.storeRoot, "videos", "v1", "hls", "master.m3u8"))
	require.NoError(t, err)
	master := string(data)

	var order []string
	for _, line := range strings.Split(master, "\n") {
		if strings.HasSuffix(line, ".m3u8") {
			order = append(order, strings.TrimSuffix(line, ".m3u8"))
		}
	}
	assert.Equal(t, []string{"144p", "240p", "360p", "480p", "720p"}, order)
	assert.Contains(t, master, "#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720")
}

func TestWorkflowMissingInputIsFatal(t *testing.T) {
	env := newTestEnv(t, fakeInspector{info: hd()})
	require.NoError(t, os.Remove(env.input))

	err := env.wf.Process(context.Background(), env.job(1, 3), &recordingReporter{})

	var missing *MissingInputError
	require.True(t, errors.As(err, &missing))
	assert.False(t, job.IsRetryable(err))
	assert.Empty(t, env.engine.calls)
}

func TestWorkflowUnreadableAndTinySourcesAreFatal(t *testing.T) {
	tests := []struct {
		name      string
		inspector fakeInspector
	}{
		{"unreadable", fakeInspector{err: &media.UnreadableMediaError{Path: "x", Err: errors.New("moov atom not found")}}},
		{"below smallest rung", fakeInspector{info: &media.Info{Width: 160, Height: 90, DurationSeconds: 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.inspector)
			err := env.wf.Process(context.Background(), env.job(1, 3), &recordingReporter{})
			require.Error(t, err)
			assert.False(t, job.IsRetryable(err))
			assert.Empty(t, env.engine.calls)
			_, statErr := os.Stat(env.outputDir)
			assert.ErrorIs(t, statErr, os.ErrNotExist)
		})
	}
}

func TestWorkflowEncodeFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, fakeInspector{info: hd()})
	require.NoError(t, env.videos.UpdateVideoStatus(ctx, "v1", video.StatusProcessing, 0))
	env.engine.fail = func(args []string) error {
		if strings.HasSuffix(args[len(args)-1], "720p.mp4") {
			return &ffmpeg.ExitError{Binary: "ffmpeg", ExitCode: 1, Stderr: []string{"Conversion failed!"}, Err: errors.New("exit status 1")}
		}
		return nil
	}

	j := env.job(1, 3)
	err := env.wf.Process(ctx, j, &recordingReporter{})

	var encodeErr *EncodeFailedError
	require.True(t, errors.As(err, &encodeErr))
	assert.Equal(t, "720p", encodeErr.Rendition)
	assert.Equal(t, 1, encodeErr.ExitCode)
	assert.Equal(t, "Conversion failed!", encodeErr.StderrTail)
	assert.True(t, job.IsRetryable(err))
	assert.NotContains(t, job.FailureReason(err), "Conversion failed")

	_, statErr := os.Stat(env.outputDir)
	assert.ErrorIs(t, statErr, os.ErrNotExist)

	// an attempt with retries left keeps the input and the PROCESSING status
	env.wf.Finalize(ctx, j, job.StateDelayed, err)
	assert.FileExists(t, env.input)
	v, getErr := env.videos.GetVideo(ctx, "v1")
	require.NoError(t, getErr)
	assert.Equal(t, video.StatusProcessing, v.Status)

	env.wf.Finalize(ctx, j, job.StateFailed, err)
	_, statErr = os.Stat(env.input)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
	v, getErr = env.videos.GetVideo(ctx, "v1")
	require.NoError(t, getErr)
	assert.Equal(t, video.StatusFailed, v.Status)
}

func TestWorkflowUnderPool(t *testing.T) {
	tests := []struct {
		name      string
		inspector fakeInspector
		state     job.State
		attempts  int
		status    video.Status
	}{
		{"ready", fakeInspector{info: hd()}, job.StateCompleted, 1, video.StatusReady},
		{"corrupt input fails once", fakeInspector{err: &media.UnreadableMediaError{Path: "x"}}, job.StateFailed, 1, video.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.inspector)
			logger := zap.NewNop()
			q := job.NewMemoryQueue(job.Backoff{Base: 10 * time.Millisecond, Coefficient: 2}, logger)
			defer q.Close()
			manager := job.NewManager(q, env.videos, 3, logger)
			pool := job.NewPool(q, env.wf, manager, 2, time.Minute, logger)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				pool.Run(ctx)
				close(done)
			}()
			defer func() {
				cancel()
				<-done
			}()

			_, err := manager.Submit(ctx, job.SubmitRequest{
				VideoID:   "v1",
				InputPath: env.input,
				OutputDir: env.outputDir,
				Filename:  "v1.mp4",
			})
			require.NoError(t, err)

			var status *job.Status
			require.Eventually(t, func() bool {
				status, err = manager.GetJobStatus(ctx, "v1")
				return err == nil && status.State.Terminal()
			}, 5*time.Second, 10*time.Millisecond)
			assert.Equal(t, tt.state, status.State)
			assert.Equal(t, tt.attempts, status.AttemptsMade)

			require.Eventually(t, func() bool {
				v, err := env.videos.GetVideo(ctx, "v1")
				return err == nil && v.Status == tt.status
			}, time.Second, 10*time.Millisecond)

			require.Eventually(t, func() bool {
				_, inErr := os.Stat(env.input)
				_, outErr := os.Stat(env.outputDir)
				return errors.Is(inErr, os.ErrNotExist) && errors.Is(outErr, os.ErrNotExist)
			}, time.Second, 10*time.Millisecond)
		})
	}
}

func TestPrimaryThumbnail(t *testing.T) {
	assert.Equal(t, 1, primaryThumbnail([]float64{0.25, 0.5, 0.75}, 3))
	assert.Equal(t, 0, primaryThumbnail([]float64{0.25, 0.5, 0.75}, 1))
	assert.Equal(t, 1, primaryThumbnail([]float64{0.1, 0.6, 0.9}, 3))
}

func TestStagePercent(t *testing.T) {
	assert.Equal(t, 0, stagePercent(0, 10))
	assert.Equal(t, 33, stagePercent(1, 3))
	assert.Equal(t, 67, stagePercent(2, 3))
	assert.Equal(t, 100, stagePercent(7, 7))
}
