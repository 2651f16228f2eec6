package job

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a job inside the queue.
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether a job in this state will never run again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one transcode request. The queue owns its state; the worker holding
// it active owns OutputDir.
type Job struct {
	ID              uuid.UUID `json:"id" mapstructure:"id"`
	VideoID         string    `json:"video_id" mapstructure:"video_id"`
	InputPath       string    `json:"input_path" mapstructure:"input_path"`
	OutputDir       string    `json:"output_dir" mapstructure:"output_dir"`
	UserID          string    `json:"user_id,omitempty" mapstructure:"user_id"`
	Filename        string    `json:"filename,omitempty" mapstructure:"filename"`
	State           State     `json:"state" mapstructure:"state"`
	AttemptsMade    int       `json:"attempts_made" mapstructure:"attempts_made"`
	MaxAttempts     int       `json:"max_attempts" mapstructure:"max_attempts"`
	ProgressPercent int       `json:"progress_percent" mapstructure:"progress_percent"`
	FailureReason   string    `json:"failure_reason,omitempty" mapstructure:"failure_reason"`
	CreatedAt       time.Time `json:"created_at" mapstructure:"created_at"`
	StartedAt       time.Time `json:"started_at,omitzero" mapstructure:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitzero" mapstructure:"finished_at"`
	RunAt           time.Time `json:"run_at,omitzero" mapstructure:"run_at"`
}

func (j *Job) clone() *Job {
	c := *j
	return &c
}

// SubmitRequest is the payload accepted by Manager.Submit.
type SubmitRequest struct {
	VideoID   string `json:"video_id"`
	InputPath string `json:"input_path"`
	OutputDir string `json:"output_dir"`
	UserID    string `json:"user_id"`
	Filename  string `json:"filename"`
}

// Stats counts jobs per state. Waiting excludes delayed jobs.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Status is the answer to a status query for a video.
type Status struct {
	JobID           uuid.UUID  `json:"job_id"`
	VideoID         string     `json:"video_id"`
	State           State      `json:"state"`
	ProgressPercent int        `json:"progress_percent"`
	AttemptsMade    int        `json:"attempts_made"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
}

func statusOf(j *Job) *Status {
	s := &Status{
		JobID:           j.ID,
		VideoID:         j.VideoID,
		State:           j.State,
		ProgressPercent: j.ProgressPercent,
		AttemptsMade:    j.AttemptsMade,
		FailureReason:   j.FailureReason,
	}
	if !j.FinishedAt.IsZero() {
		t := j.FinishedAt
		s.FinishedAt = &t
	}
	return s
}

// ProgressUpdate is broadcast to stream subscribers of a video.
type ProgressUpdate struct {
	JobID     uuid.UUID `json:"job_id"`
	VideoID   string    `json:"video_id"`
	State     State     `json:"state"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
