package pipeline

import (
	types "VodForge/pkg"
	"VodForge/internal/metrics"
	"VodForge/internal/pipeline/storage"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4s":  "video/iso.segment",
	".ts":   "video/mp2t",
	".m3u8": "application/vnd.apple.mpegurl",
	".mpd":  "application/dash+xml",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".vtt":  "text/vtt",
	".json": "application/json",
}

// ContentTypeFor maps a file extension to its MIME type. Unknown extensions
// fall back to application/octet-stream.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func CacheControlFor(kind ArtifactKind) string {
	switch kind {
	case KindRendition, KindSegment:
		return "public, max-age=31536000, immutable"
	case KindManifest:
		// manifests can be regenerated in place
		return "public, max-age=60"
	case KindThumbnail:
		return "public, max-age=2592000"
	default:
		return "public, max-age=3600"
	}
}

// Uploader publishes a job's output directory to object storage.
type Uploader struct {
	store       storage.Storage
	keys        KeyScheme
	retry       types.RetryConfig
	concurrency int
	logger      *zap.Logger
}

func NewUploader(store storage.Storage, keys KeyScheme, retry types.RetryConfig, concurrency int, logger *zap.Logger) *Uploader {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Uploader{
		store:       store,
		keys:        keys,
		retry:       retry,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Upload puts one file under key, retrying transient failures in place.
func (u *Uploader) Upload(ctx context.Context, localPath, key string, kind ArtifactKind) (string, error) {
	var url string
	err := Retry(ctx, u.logger, u.retry, "upload "+key, func() error {
		var err error
		url, err = u.store.PutObject(ctx, localPath, key, ContentTypeFor(localPath), CacheControlFor(kind))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// a missing local file will not appear on retry
		return &UploadError{Key: key, Transient: !errors.Is(err, fs.ErrNotExist), Err: err}
	})
	if err != nil {
		metrics.UploadFailures.WithLabelValues(string(kind)).Inc()
		return "", err
	}
	return url, nil
}

// Collect lists every file under outputDir as an artifact with its key.
func (u *Uploader) Collect(videoID, outputDir string) ([]Artifact, error) {
	var artifacts []Artifact
	err := filepath.WalkDir(outputDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(outputDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		artifacts = append(artifacts, Artifact{
			LocalPath: p,
			RelPath:   rel,
			Kind:      KindOf(rel),
			Size:      info.Size(),
			RemoteKey: u.keys.Key(videoID, rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].RelPath < artifacts[j].RelPath })
	return artifacts, nil
}

// UploadAll publishes everything under outputDir. Manifests go last so a
// player never fetches one before the media it references exists. The
// result is keyed by object key.
func (u *Uploader) UploadAll(ctx context.Context, videoID, outputDir string) (map[string]Artifact, error) {
	artifacts, err := u.Collect(videoID, outputDir)
	if err != nil {
		return nil, err
	}

	var media, manifests []Artifact
	for _, a := range artifacts {
		if a.Kind == KindManifest {
			manifests = append(manifests, a)
		} else {
			media = append(media, a)
		}
	}

	result := make(map[string]Artifact, len(artifacts))
	for _, batch := range [][]Artifact{media, manifests} {
		urls := make([]string, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(u.concurrency)
		for i, a := range batch {
			g.Go(func() error {
				url, err := u.Upload(gctx, a.LocalPath, a.RemoteKey, a.Kind)
				if err != nil {
					return err
				}
				urls[i] = url
				metrics.UploadedBytes.WithLabelValues(string(a.Kind)).Add(float64(a.Size))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for i, a := range batch {
			a.RemoteURL = urls[i]
			result[a.RemoteKey] = a
		}
	}

	u.logger.Info("Artifacts uploaded",
		zap.String("video_id", videoID),
		zap.Int("media", len(media)),
		zap.Int("manifests", len(manifests)))
	return result, nil
}
