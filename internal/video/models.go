package video

import "time"

// Status is the lifecycle of a video record as the rest of the system sees it.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	StatusFailed     Status = "FAILED"
)

// Artifacts are the results written back once a video is transcoded.
type Artifacts struct {
	VideoURL        string  `json:"video_url"`
	ManifestURL     string  `json:"manifest_url"`
	ThumbnailURL    string  `json:"thumbnail_url"`
	DurationSeconds float64 `json:"duration_seconds"`
	ResolutionLabel string  `json:"resolution_label"`
	FileSizeBytes   int64   `json:"file_size_bytes"`
}

// Video is the slice of the external video record this service touches.
type Video struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Artifacts Artifacts `json:"artifacts"`
	UpdatedAt time.Time `json:"updated_at"`
}
