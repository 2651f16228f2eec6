package job

import (
	types "VodForge/pkg"
	"math"
	"time"
)

// Backoff computes the delay before a failed job becomes eligible again.
type Backoff struct {
	Base        time.Duration
	Coefficient float64
}

func BackoffFromConfig(cfg types.RetryConfig) Backoff {
	return Backoff{
		Base:        time.Duration(cfg.InitialIntervalSec * float64(time.Second)),
		Coefficient: cfg.BackoffCoefficient,
	}
}

// Delay returns Base * Coefficient^(attemptsMade-1): Base after the first
// failure, doubling from there with the default coefficient.
func (b Backoff) Delay(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	coef := b.Coefficient
	if coef < 1 {
		coef = 1
	}
	return time.Duration(float64(b.Base) * math.Pow(coef, float64(attemptsMade-1)))
}

// resolve applies the outcome of an attempt to j and returns the next state.
func resolve(j *Job, procErr error, now time.Time, backoff Backoff) State {
	if procErr == nil {
		j.State = StateCompleted
		j.ProgressPercent = 100
		j.FinishedAt = now
		j.FailureReason = ""
		return j.State
	}

	j.FailureReason = FailureReason(procErr)
	if IsRetryable(procErr) && j.AttemptsMade < j.MaxAttempts {
		j.State = StateDelayed
		j.RunAt = now.Add(backoff.Delay(j.AttemptsMade))
		return j.State
	}

	j.State = StateFailed
	j.FinishedAt = now
	return j.State
}
