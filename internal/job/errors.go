package job

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound  = errors.New("job not found")
	ErrNotActive = errors.New("job is not active")
)

// retryable is implemented by every typed stage failure.
type retryable interface {
	Retryable() bool
}

// reasoner exposes a message that is safe to show to end users.
type reasoner interface {
	Reason() string
}

// IsRetryable classifies a processing failure. Errors that do not declare
// themselves are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// FailureReason returns the user-facing reason for err. Engine output never
// reaches this string.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	var r reasoner
	if errors.As(err, &r) {
		return r.Reason()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "processing timed out"
	}
	return "processing failed"
}

// InvalidJobError rejects a malformed submission.
type InvalidJobError struct {
	Field string
	Msg   string
}

func (e *InvalidJobError) Error() string {
	return fmt.Sprintf("invalid job: %s %s", e.Field, e.Msg)
}

func (e *InvalidJobError) Retryable() bool { return false }
func (e *InvalidJobError) Reason() string  { return "the transcode request was malformed" }

// TimeoutError marks an attempt that ran past the per-job deadline.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job exceeded timeout of %s: %v", e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error   { return e.Err }
func (e *TimeoutError) Retryable() bool { return true }
func (e *TimeoutError) Reason() string  { return "processing timed out" }

// StalledError marks an attempt whose worker stopped renewing its lease.
type StalledError struct {
	Lease time.Duration
}

func (e *StalledError) Error() string {
	return fmt.Sprintf("worker lease of %s expired", e.Lease)
}

func (e *StalledError) Retryable() bool { return true }
func (e *StalledError) Reason() string  { return "processing was interrupted" }
