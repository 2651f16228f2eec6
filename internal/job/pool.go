package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"VodForge/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProgressReporter receives the 0-100 progress of the running attempt.
type ProgressReporter interface {
	Report(ctx context.Context, percent int)
}

// Handler runs one attempt of a job.
type Handler interface {
	Process(ctx context.Context, j *Job, progress ProgressReporter) error
	// Finalize runs after the queue recorded the outcome of the attempt.
	Finalize(ctx context.Context, j *Job, state State, procErr error)
}

// Tracker observes attempts; Manager is the production implementation.
type Tracker interface {
	Reporter(j *Job) ProgressReporter
	Finished(j *Job, state State, procErr error)
}

// Leaser is implemented by queues whose active jobs expire unless the
// worker renews them.
type Leaser interface {
	RenewLease(ctx context.Context, id uuid.UUID) error
	LeaseTTL() time.Duration
}

// StallReporter is implemented by queues that take jobs back from dead
// workers on their own. The pool settles those jobs as if it had run them.
type StallReporter interface {
	OnStalled(fn func(ctx context.Context, j *Job, state State, err error))
}

type noopReporter struct{}

func (noopReporter) Report(context.Context, int) {}

// Pool runs a fixed number of worker slots against a Queue.
type Pool struct {
	queue   Queue
	handler Handler
	tracker Tracker
	slots   int
	timeout time.Duration
	logger  *zap.Logger
}

func NewPool(queue Queue, handler Handler, tracker Tracker, slots int, timeout time.Duration, logger *zap.Logger) *Pool {
	if slots <= 0 {
		slots = 1
	}
	p := &Pool{
		queue:   queue,
		handler: handler,
		tracker: tracker,
		slots:   slots,
		timeout: timeout,
		logger:  logger,
	}
	if sr, ok := queue.(StallReporter); ok {
		sr.OnStalled(func(ctx context.Context, j *Job, state State, err error) {
			p.settle(ctx, p.logger.With(zap.String("job_id", j.ID.String()), zap.String("video_id", j.VideoID)), j, state, err)
		})
	}
	return p
}

// Run blocks until ctx is cancelled and every slot has returned.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("Worker pool started", zap.Int("slots", p.slots), zap.Duration("job_timeout", p.timeout))

	var wg sync.WaitGroup
	for i := 0; i < p.slots; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.workerLoop(ctx, slot)
		}(i)
	}
	wg.Wait()

	p.logger.Info("Worker pool stopped")
}

func (p *Pool) workerLoop(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		j, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("Dequeue failed", zap.Int("slot", slot), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.runJob(ctx, slot, j)
	}
}

func (p *Pool) runJob(ctx context.Context, slot int, j *Job) {
	logger := p.logger.With(
		zap.String("job_id", j.ID.String()),
		zap.String("video_id", j.VideoID),
		zap.Int("attempt", j.AttemptsMade),
		zap.Int("slot", slot),
	)
	logger.Info("Job started")
	metrics.JobsActive.Inc()
	start := time.Now()

	var reporter ProgressReporter = noopReporter{}
	if p.tracker != nil {
		reporter = p.tracker.Reporter(j)
	}

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if p.timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	stopLease := p.keepLease(ctx, logger, j.ID)
	procErr := p.handler.Process(jobCtx, j, reporter)
	stopLease()
	timedOut := errors.Is(jobCtx.Err(), context.DeadlineExceeded)
	if procErr != nil && timedOut {
		procErr = &TimeoutError{Timeout: p.timeout, Err: procErr}
	}
	cancel()
	metrics.JobsActive.Dec()

	// the outcome is recorded even when shutdown cancelled ctx
	ackCtx := context.WithoutCancel(ctx)

	if procErr != nil && ctx.Err() != nil && !timedOut {
		// shutdown interrupted the attempt; it did not fail
		if err := p.queue.Release(ackCtx, j.ID); err != nil {
			logger.Error("Failed to release interrupted job", zap.Error(err))
			return
		}
		logger.Info("Job released on shutdown", zap.Duration("ran", time.Since(start)))
		return
	}

	state, err := p.queue.Ack(ackCtx, j.ID, procErr)
	if err != nil {
		logger.Error("Failed to ack job", zap.Error(err))
		return
	}
	if state == StateCompleted {
		logger.Info("Job completed", zap.Duration("duration", time.Since(start)))
	}
	p.settle(ackCtx, logger, j, state, procErr)
}

// keepLease renews the job's lease until the returned func is called.
func (p *Pool) keepLease(ctx context.Context, logger *zap.Logger, id uuid.UUID) func() {
	leaser, ok := p.queue.(Leaser)
	if !ok {
		return func() {}
	}
	renewCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(max(leaser.LeaseTTL()/3, 10*time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := leaser.RenewLease(renewCtx, id); err != nil {
					logger.Warn("Failed to renew job lease", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// settle runs everything that follows a recorded outcome.
func (p *Pool) settle(ctx context.Context, logger *zap.Logger, j *Job, state State, procErr error) {
	j.State = state

	switch state {
	case StateDelayed:
		metrics.JobRetries.Inc()
		logger.Warn("Job attempt failed, will retry", zap.Error(procErr))
	case StateFailed:
		logger.Error("Job failed", zap.Bool("retryable", IsRetryable(procErr)), zap.Error(procErr))
	}
	if state.Terminal() {
		metrics.JobsFinished.WithLabelValues(string(state)).Inc()
	}

	p.handler.Finalize(ctx, j, state, procErr)
	if p.tracker != nil {
		p.tracker.Finished(j, state, procErr)
	}

	if stats, err := p.queue.Stats(ctx); err == nil {
		metrics.SetQueueDepth(stats.Waiting, stats.Active, stats.Delayed, stats.Completed, stats.Failed)
	}
}
