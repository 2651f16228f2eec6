package pipeline

import (
	"VodForge/pkg/ffmpeg"
	"errors"
	"fmt"
)

// MissingInputError means the source file is gone; retrying cannot help.
type MissingInputError struct {
	Path string
	Err  error
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("input %s unavailable: %v", e.Path, e.Err)
}

func (e *MissingInputError) Unwrap() error   { return e.Err }
func (e *MissingInputError) Retryable() bool { return false }
func (e *MissingInputError) Reason() string  { return "the uploaded file could not be found" }

// EncodeFailedError is a failed rendition encode. StderrTail is for logs only.
type EncodeFailedError struct {
	Rendition  string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *EncodeFailedError) Error() string {
	return fmt.Sprintf("encode %s failed (exit %d): %v", e.Rendition, e.ExitCode, e.Err)
}

func (e *EncodeFailedError) Unwrap() error   { return e.Err }
func (e *EncodeFailedError) Retryable() bool { return true }
func (e *EncodeFailedError) Reason() string  { return "encoding failed" }

type PackagingError struct {
	Format     string
	StderrTail string
	Err        error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("packaging %s failed: %v", e.Format, e.Err)
}

func (e *PackagingError) Unwrap() error   { return e.Err }
func (e *PackagingError) Retryable() bool { return true }
func (e *PackagingError) Reason() string  { return "packaging failed" }

type ThumbnailError struct {
	Index      int
	StderrTail string
	Err        error
}

func (e *ThumbnailError) Error() string {
	return fmt.Sprintf("thumbnail %d failed: %v", e.Index, e.Err)
}

func (e *ThumbnailError) Unwrap() error   { return e.Err }
func (e *ThumbnailError) Retryable() bool { return true }
func (e *ThumbnailError) Reason() string  { return "thumbnail extraction failed" }

// UploadError carries whether a later attempt could succeed.
type UploadError struct {
	Key       string
	Transient bool
	Err       error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error   { return e.Err }
func (e *UploadError) Retryable() bool { return e.Transient }
func (e *UploadError) Reason() string  { return "publishing the video failed" }

// exitDetails pulls the exit code and stderr tail out of an engine error.
func exitDetails(err error) (int, string) {
	var exitErr *ffmpeg.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode, exitErr.Tail()
	}
	return -1, ""
}
