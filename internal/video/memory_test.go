package video

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceVideoProgressNeverDecreases(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpdateVideoStatus(ctx, "v1", StatusProcessing, 0))

	ok, err := s.AdvanceVideoProgress(ctx, "v1", 40)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AdvanceVideoProgress(ctx, "v1", 25)
	require.NoError(t, err)
	assert.False(t, ok, "late update must not overwrite a higher value")

	ok, err = s.AdvanceVideoProgress(ctx, "v1", 40)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := s.GetVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 40, v.Progress)
}

func TestAdvanceVideoProgressConcurrentOutOfOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpdateVideoStatus(ctx, "v1", StatusProcessing, 0))

	values := rand.Perm(100)
	var wg sync.WaitGroup
	for _, p := range values {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			_, _ = s.AdvanceVideoProgress(ctx, "v1", p)
		}(p)
	}
	wg.Wait()

	v, err := s.GetVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 99, v.Progress)
}

func TestAdvanceVideoProgressIgnoresTerminalVideos(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpdateVideoStatus(ctx, "v1", StatusReady, 100))

	ok, err := s.AdvanceVideoProgress(ctx, "v1", 50)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AdvanceVideoProgress(ctx, "unknown", 50)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateVideoArtifacts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := Artifacts{VideoURL: "https://cdn/v1/renditions/720p.mp4", ResolutionLabel: "720p", FileSizeBytes: 42}
	require.NoError(t, s.UpdateVideoArtifacts(ctx, "v1", a))

	v, err := s.GetVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, a, v.Artifacts)

	_, err = s.GetVideo(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
