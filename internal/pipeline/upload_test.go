package pipeline

import (
	types "VodForge/pkg"
	"VodForge/internal/job"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{
		"renditions/720p.mp4":     "video/mp4",
		"hls/master.m3u8":         "application/vnd.apple.mpegurl",
		"hls/720p_00001.ts":       "video/mp2t",
		"dash/manifest.mpd":       "application/dash+xml",
		"dash/chunk-0-00001.m4s":  "video/iso.segment",
		"thumbnails/thumb_00.JPG": "image/jpeg",
		"captions/en.vtt":         "text/vtt",
		"notes.xyz":               "application/octet-stream",
		"no-extension":            "application/octet-stream",
	}
	for name, want := range tests {
		assert.Equal(t, want, ContentTypeFor(name), name)
	}
}

func TestCacheControlByKind(t *testing.T) {
	assert.Contains(t, CacheControlFor(KindOf("renditions/720p.mp4")), "immutable")
	assert.Contains(t, CacheControlFor(KindOf("hls/720p_00001.ts")), "immutable")
	assert.Equal(t, "public, max-age=60", CacheControlFor(KindOf("hls/master.m3u8")))
	assert.Equal(t, "public, max-age=2592000", CacheControlFor(KindOf("thumbnails/thumb_00.jpg")))
}

func TestKeySchemeIsPredictable(t *testing.T) {
	k := KeyScheme{Prefix: "videos"}
	assert.Equal(t, "videos/v1/renditions/720p.mp4", k.RenditionKey("v1", "720p"))
	assert.Equal(t, "videos/v1/hls/master.m3u8", k.ManifestKey("v1", "hls"))
	assert.Equal(t, "videos/v1/dash/manifest.mpd", k.ManifestKey("v1", "dash"))
	assert.Equal(t, "videos/v1/thumbnails/thumb_01.jpg", k.ThumbnailKey("v1", 1))
}

// flakyStorage fails the first failures calls for every key.
type flakyStorage struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    map[string]int
	order    []string
}

func (s *flakyStorage) PutObject(ctx context.Context, localPath, key, contentType, cacheControl string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[key]++
	if s.calls[key] <= s.failures {
		return "", s.err
	}
	s.order = append(s.order, key)
	return s.URL(key), nil
}

func (s *flakyStorage) URL(key string) string { return "https://cdn.test/" + key }

func testRetry() types.RetryConfig {
	return types.RetryConfig{MaxAttempts: 3, InitialIntervalSec: 0.001, BackoffCoefficient: 2}
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	store := &flakyStorage{failures: 2, err: errors.New("connection reset by peer")}
	u := NewUploader(store, KeyScheme{Prefix: "videos"}, testRetry(), 1, zap.NewNop())

	src := filepath.Join(t.TempDir(), "a.mp4")
	require.NoError(t, writeFake(src))

	first, err := u.Upload(context.Background(), src, "videos/v1/renditions/a.mp4", KindRendition)
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls["videos/v1/renditions/a.mp4"])

	second, err := u.Upload(context.Background(), src, "videos/v1/renditions/a.mp4", KindRendition)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUploadMissingFileIsNotRetried(t *testing.T) {
	store := &flakyStorage{failures: 5, err: fmt.Errorf("open: %w", os.ErrNotExist)}
	u := NewUploader(store, KeyScheme{Prefix: "videos"}, testRetry(), 1, zap.NewNop())

	_, err := u.Upload(context.Background(), "/gone.mp4", "k.mp4", KindRendition)

	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.False(t, job.IsRetryable(err))
	assert.Equal(t, 1, store.calls["k.mp4"])
}

func TestUploadExhaustedStaysRetryableForQueue(t *testing.T) {
	store := &flakyStorage{failures: 10, err: errors.New("503 slow down")}
	u := NewUploader(store, KeyScheme{Prefix: "videos"}, testRetry(), 1, zap.NewNop())

	_, err := u.Upload(context.Background(), "/a.mp4", "k.mp4", KindRendition)
	require.Error(t, err)
	assert.True(t, job.IsRetryable(err))
	assert.Equal(t, 3, store.calls["k.mp4"])
}

func TestUploadAllPublishesManifestsLast(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{"hls/master.m3u8", "hls/720p.m3u8", "hls/720p_00000.ts", "renditions/720p.mp4", "thumbnails/thumb_00.jpg"} {
		require.NoError(t, writeFake(filepath.Join(dir, filepath.FromSlash(rel))))
	}
	store := &flakyStorage{}
	u := NewUploader(store, KeyScheme{Prefix: "videos"}, testRetry(), 2, zap.NewNop())

	result, err := u.UploadAll(context.Background(), "v1", dir)
	require.NoError(t, err)
	require.Len(t, result, 5)

	master := result["videos/v1/hls/master.m3u8"]
	assert.Equal(t, KindManifest, master.Kind)
	assert.Equal(t, "hls/master.m3u8", master.RelPath)
	assert.Equal(t, "https://cdn.test/videos/v1/hls/master.m3u8", master.RemoteURL)
	assert.Equal(t, int64(len(fakeContent)), result["videos/v1/renditions/720p.mp4"].Size)

	require.Len(t, store.order, 5)
	for _, key := range store.order[:3] {
		assert.NotEqual(t, KindManifest, KindOf(key))
	}
	for _, key := range store.order[3:] {
		assert.Equal(t, KindManifest, KindOf(key))
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, zap.NewNop(), types.RetryConfig{MaxAttempts: 5, InitialIntervalSec: 10, BackoffCoefficient: 2}, "op", func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
