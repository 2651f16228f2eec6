package pipeline

import (
	types "VodForge/pkg"
	"VodForge/internal/job"
	"context"
	"time"

	"go.uber.org/zap"
)

// Retry runs fn until it succeeds, returns a non-retryable error, or
// retryCfg.MaxAttempts is used up. It covers short in-stage hiccups; the
// queue's own backoff handles whole-attempt failures.
func Retry(ctx context.Context, logger *zap.Logger, retryCfg types.RetryConfig, operation string, fn func() error) error {
	attempts := int32(0)
	interval := time.Duration(retryCfg.InitialIntervalSec * float64(time.Second))

	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("Retry cancelled", zap.String("operation", operation), zap.Error(err))
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		attempts++
		if !job.IsRetryable(err) {
			return err
		}
		if attempts >= retryCfg.MaxAttempts {
			logger.Error("Retry limit reached", zap.String("operation", operation), zap.Int32("attempts", attempts), zap.Error(err))
			return err
		}
		logger.Warn("Retry attempt failed", zap.String("operation", operation), zap.Int32("attempt", attempts), zap.Error(err))

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		interval = time.Duration(float64(interval) * retryCfg.BackoffCoefficient)
	}
}
