package video

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu     sync.Mutex
	videos map[string]*Video
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{videos: make(map[string]*Video)}
}

func (s *MemoryStore) get(videoID string) *Video {
	v, ok := s.videos[videoID]
	if !ok {
		v = &Video{ID: videoID}
		s.videos[videoID] = v
	}
	return v
}

func (s *MemoryStore) UpdateVideoStatus(ctx context.Context, videoID string, status Status, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.get(videoID)
	v.Status = status
	v.Progress = progress
	v.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) AdvanceVideoProgress(ctx context.Context, videoID string, progress int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.videos[videoID]
	if !ok || v.Status != StatusProcessing || progress <= v.Progress {
		return false, nil
	}
	v.Progress = progress
	v.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) UpdateVideoArtifacts(ctx context.Context, videoID string, a Artifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.get(videoID)
	v.Artifacts = a
	v.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetVideo(ctx context.Context, videoID string) (*Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.videos[videoID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *v
	return &c, nil
}
