package pipeline

import (
	"VodForge/internal/media"
	"VodForge/internal/metrics"
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Packager cuts finished renditions into adaptive streaming segments. It
// never re-encodes; keyframes were already aligned by the Transcoder.
type Packager struct {
	engine  Engine
	segment int
	logger  *zap.Logger
}

func NewPackager(engine Engine, segmentSec int, logger *zap.Logger) *Packager {
	return &Packager{
		engine:  engine,
		segment: segmentSec,
		logger:  logger,
	}
}

// Package writes the manifest for format and returns its path.
func (p *Packager) Package(ctx context.Context, format string, renditions []media.Rendition, inputs []string, hasAudio bool, outputDir string) (string, error) {
	if len(renditions) != len(inputs) || len(renditions) == 0 {
		return "", &PackagingError{Format: format, Err: fmt.Errorf("%d renditions for %d inputs", len(renditions), len(inputs))}
	}

	var (
		manifest string
		err      error
	)
	switch format {
	case "hls":
		manifest, err = p.packageHLS(ctx, renditions, inputs, outputDir)
	case "dash":
		manifest, err = p.packageDASH(ctx, renditions, inputs, hasAudio, outputDir)
	default:
		return "", &PackagingError{Format: format, Err: fmt.Errorf("unknown format")}
	}
	if err != nil {
		metrics.EncodeFailures.WithLabelValues("package").Inc()
		return "", err
	}

	p.logger.Info("Packaging succeeded",
		zap.String("format", format),
		zap.String("manifest", manifest),
		zap.Int("renditions", len(renditions)))
	return manifest, nil
}

func (p *Packager) packageHLS(ctx context.Context, renditions []media.Rendition, inputs []string, outputDir string) (string, error) {
	dir := filepath.Join(outputDir, hlsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &PackagingError{Format: "hls", Err: err}
	}

	for i, r := range renditions {
		args := []string{
			"-hide_banner", "-y",
			"-i", inputs[i],
			"-map", "0",
			"-c", "copy",
			"-f", "hls",
			"-hls_time", strconv.Itoa(p.segment),
			"-hls_playlist_type", "vod",
			"-hls_list_size", "0",
			"-hls_segment_filename", filepath.Join(dir, hlsSegmentPattern(r.Label)),
			filepath.Join(dir, hlsVariantName(r.Label)),
		}
		if err := p.engine.Exec(ctx, args, nil); err != nil {
			return "", p.fail(ctx, "hls", err)
		}
	}

	master := filepath.Join(dir, hlsMasterName)
	if err := os.WriteFile(master, []byte(MasterPlaylist(renditions)), 0644); err != nil {
		return "", &PackagingError{Format: "hls", Err: err}
	}
	return master, nil
}

// MasterPlaylist lists variants ascending by bandwidth. Variant URIs are
// relative, so the playlist stays valid wherever the directory is served.
func MasterPlaylist(renditions []media.Rendition) string {
	sorted := slices.Clone(renditions)
	slices.SortStableFunc(sorted, func(a, b media.Rendition) int {
		return cmp.Compare(a.BandwidthBps(), b.BandwidthBps())
	})

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range sorted {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,NAME=%q\n", r.BandwidthBps(), r.Resolution(), r.Label)
		b.WriteString(hlsVariantName(r.Label) + "\n")
	}
	return b.String()
}

func (p *Packager) packageDASH(ctx context.Context, renditions []media.Rendition, inputs []string, hasAudio bool, outputDir string) (string, error) {
	dir := filepath.Join(outputDir, dashDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &PackagingError{Format: "dash", Err: err}
	}

	// ascending bandwidth gives ascending representation ids
	order := make([]int, len(renditions))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(renditions[a].BandwidthBps(), renditions[b].BandwidthBps())
	})

	args := []string{"-hide_banner", "-y"}
	for _, i := range order {
		args = append(args, "-i", inputs[i])
	}
	for n := range order {
		args = append(args, "-map", fmt.Sprintf("%d:v:0", n))
	}
	adaptationSets := "id=0,streams=v"
	if hasAudio {
		// every rendition carries the same audio; the top one is enough
		args = append(args, "-map", fmt.Sprintf("%d:a:0", len(order)-1))
		adaptationSets += " id=1,streams=a"
	}

	manifest := filepath.Join(dir, dashManifestName)
	args = append(args,
		"-c", "copy",
		"-f", "dash",
		"-seg_duration", strconv.Itoa(p.segment),
		"-use_template", "1",
		"-use_timeline", "1",
		"-init_seg_name", "init-$RepresentationID$.m4s",
		"-media_seg_name", "chunk-$RepresentationID$-$Number%05d$.m4s",
		"-adaptation_sets", adaptationSets,
		manifest,
	)
	if err := p.engine.Exec(ctx, args, nil); err != nil {
		return "", p.fail(ctx, "dash", err)
	}
	return manifest, nil
}

func (p *Packager) fail(ctx context.Context, format string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	code, tail := exitDetails(err)
	p.logger.Error("Packaging failed",
		zap.String("format", format),
		zap.Int("exit_code", code),
		zap.String("stderr", tail),
		zap.Error(err))
	return &PackagingError{Format: format, StderrTail: tail, Err: err}
}
