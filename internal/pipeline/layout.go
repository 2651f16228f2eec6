package pipeline

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ArtifactKind decides the cache policy of an uploaded file.
type ArtifactKind string

const (
	KindRendition ArtifactKind = "rendition"
	KindManifest  ArtifactKind = "manifest"
	KindSegment   ArtifactKind = "segment"
	KindThumbnail ArtifactKind = "thumbnail"
	KindOther     ArtifactKind = "other"
)

// Artifact is one finished output file of a job.
type Artifact struct {
	LocalPath string       `json:"-"`
	RelPath   string       `json:"rel_path"`
	Kind      ArtifactKind `json:"kind"`
	Size      int64        `json:"size"`
	RemoteKey string       `json:"remote_key,omitempty"`
	RemoteURL string       `json:"remote_url,omitempty"`
}

// Paths below are relative to a job's output directory. The same relative
// path becomes the object key suffix, so manifests can point at siblings
// before anything is uploaded.
const (
	renditionDir = "renditions"
	hlsDir       = "hls"
	dashDir      = "dash"
	thumbnailDir = "thumbnails"

	hlsMasterName    = "master.m3u8"
	dashManifestName = "manifest.mpd"
)

func renditionRel(label string) string {
	return path.Join(renditionDir, label+".mp4")
}

func hlsVariantName(label string) string {
	return label + ".m3u8"
}

func hlsSegmentPattern(label string) string {
	return label + "_%05d.ts"
}

func thumbnailRel(index int) string {
	return path.Join(thumbnailDir, fmt.Sprintf("thumb_%02d.jpg", index))
}

func manifestRel(format string) string {
	switch format {
	case "dash":
		return path.Join(dashDir, dashManifestName)
	default:
		return path.Join(hlsDir, hlsMasterName)
	}
}

// KeyScheme maps (video, relative path) to object keys.
type KeyScheme struct {
	Prefix string
}

func (k KeyScheme) Key(videoID, rel string) string {
	return path.Join(k.Prefix, videoID, filepath.ToSlash(rel))
}

func (k KeyScheme) RenditionKey(videoID, label string) string {
	return k.Key(videoID, renditionRel(label))
}

func (k KeyScheme) ManifestKey(videoID, format string) string {
	return k.Key(videoID, manifestRel(format))
}

func (k KeyScheme) ThumbnailKey(videoID string, index int) string {
	return k.Key(videoID, thumbnailRel(index))
}

// KindOf classifies a file by extension.
func KindOf(name string) ArtifactKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return KindRendition
	case ".m3u8", ".mpd":
		return KindManifest
	case ".ts", ".m4s":
		return KindSegment
	case ".jpg", ".jpeg", ".png", ".webp":
		return KindThumbnail
	default:
		return KindOther
	}
}
