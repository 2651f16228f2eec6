package media

import (
	types "VodForge/pkg"
	"fmt"
)

// Info is what the inspector learns about a source file.
type Info struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"duration_seconds"`
	BitrateBps      int64   `json:"bitrate_bps"`
	VideoCodec      string  `json:"video_codec,omitempty"`
	HasAudio        bool    `json:"has_audio"`
}

// Rendition is one target encoding of the source.
type Rendition struct {
	Label       string `json:"label"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	BitrateKbps int    `json:"bitrate_kbps"`
}

// BandwidthBps is the peak bandwidth advertised in manifests.
func (r Rendition) BandwidthBps() int {
	return r.BitrateKbps * 1000
}

func (r Rendition) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Ladder is ordered from the smallest rung to the largest.
type Ladder []Rendition

func LadderFromConfig(rungs []types.RungConfig) Ladder {
	ladder := make(Ladder, 0, len(rungs))
	for _, r := range rungs {
		ladder = append(ladder, Rendition{
			Label:       r.Label,
			Width:       r.Width,
			Height:      r.Height,
			BitrateKbps: r.BitrateKbps,
		})
	}
	return ladder
}

// UnreadableMediaError means the source could not be opened or has no video stream.
type UnreadableMediaError struct {
	Path string
	Err  error
}

func (e *UnreadableMediaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unreadable media %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("unreadable media %s", e.Path)
}

func (e *UnreadableMediaError) Unwrap() error   { return e.Err }
func (e *UnreadableMediaError) Retryable() bool { return false }
func (e *UnreadableMediaError) Reason() string  { return "the uploaded file is not a readable video" }

// NoEligibleRenditionError means the source is smaller than every ladder rung.
type NoEligibleRenditionError struct {
	Width  int
	Height int
}

func (e *NoEligibleRenditionError) Error() string {
	return fmt.Sprintf("no eligible rendition for %dx%d source", e.Width, e.Height)
}

func (e *NoEligibleRenditionError) Retryable() bool { return false }
func (e *NoEligibleRenditionError) Reason() string {
	return "the video resolution is below the smallest supported rendition"
}
