package media

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"go.uber.org/zap"
)

// Prober runs the probe binary and returns its stdout.
type Prober interface {
	Probe(ctx context.Context, args []string) ([]byte, error)
}

type Inspector struct {
	prober Prober
	logger *zap.Logger
}

func NewInspector(prober Prober, logger *zap.Logger) *Inspector {
	return &Inspector{prober: prober, logger: logger}
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
		BitRate   string `json:"bit_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// Inspect probes path. A missing duration is reported as 0.
func (i *Inspector) Inspect(ctx context.Context, path string) (*Info, error) {
	raw, err := i.prober.Probe(ctx, []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		i.logger.Warn("Probe failed", zap.String("path", path), zap.Error(err))
		return nil, &UnreadableMediaError{Path: path, Err: err}
	}

	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &UnreadableMediaError{Path: path, Err: err}
	}

	info := &Info{}
	foundVideo := false
	var streamDuration, streamBitrate string
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.VideoCodec = s.CodecName
			streamDuration = s.Duration
			streamBitrate = s.BitRate
		case "audio":
			info.HasAudio = true
		}
	}
	if !foundVideo {
		return nil, &UnreadableMediaError{Path: path, Err: errors.New("no video stream")}
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, &UnreadableMediaError{Path: path, Err: errors.New("video stream has no dimensions")}
	}

	info.DurationSeconds = firstPositiveFloat(out.Format.Duration, streamDuration)
	info.BitrateBps = int64(firstPositiveFloat(out.Format.BitRate, streamBitrate))

	i.logger.Debug("Media inspected",
		zap.String("path", path),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Float64("duration", info.DurationSeconds),
	)
	return info, nil
}

func firstPositiveFloat(values ...string) float64 {
	for _, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil && f > 0 {
			return f
		}
	}
	return 0
}
