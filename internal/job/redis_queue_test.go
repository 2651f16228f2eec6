package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisQueue(rdb, "test", Backoff{Base: 10 * time.Millisecond, Coefficient: 2}, time.Second, time.Minute, zap.NewNop())
}

// replica shares q's redis but runs its clock ahead by skew.
func replica(q *RedisQueue, skew time.Duration) *RedisQueue {
	other := NewRedisQueue(q.rdb, q.prefix, q.backoff, time.Second, q.leaseTTL, zap.NewNop())
	other.now = func() time.Time { return time.Now().Add(skew) }
	return other
}

func TestRedisQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

	j := newTestJob("v1", 3)
	j.UserID = "u1"
	require.NoError(t, q.Submit(ctx, j))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Waiting: 1}, stats)

	got := dequeueWithin(t, q, 3*time.Second)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, StateActive, got.State)
	assert.Equal(t, 1, got.AttemptsMade)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.False(t, got.CreatedAt.IsZero())

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Active: 1}, stats)

	require.NoError(t, q.UpdateProgress(ctx, j.ID, 55))
	require.NoError(t, q.UpdateProgress(ctx, j.ID, 20))
	stored, err := q.GetByVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 55, stored.ProgressPercent)

	state, err := q.Ack(ctx, j.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Completed: 1}, stats)

	stored, err = q.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.ProgressPercent)
	assert.False(t, stored.FinishedAt.IsZero())
}

func TestRedisQueueRetryThroughDelayedSet(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

	j := newTestJob("v1", 2)
	require.NoError(t, q.Submit(ctx, j))

	first := dequeueWithin(t, q, 3*time.Second)
	state, err := q.Ack(ctx, first.ID, errors.New("upload reset by peer"))
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, state)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delayed)

	second := dequeueWithin(t, q, 5*time.Second)
	assert.Equal(t, j.ID, second.ID)
	assert.Equal(t, 2, second.AttemptsMade)
	assert.Equal(t, 0, second.ProgressPercent)

	state, err = q.Ack(ctx, second.ID, errors.New("upload reset by peer"))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)

	stored, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.AttemptsMade)
	assert.Equal(t, "processing failed", stored.FailureReason)
}

func TestRedisQueueFatalAndPrune(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

	j := newTestJob("v1", 3)
	require.NoError(t, q.Submit(ctx, j))
	got := dequeueWithin(t, q, 3*time.Second)

	state, err := q.Ack(ctx, got.ID, fatalErr{})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)

	_, err = q.Ack(ctx, got.ID, nil)
	assert.ErrorIs(t, err, ErrNotActive)

	q.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err := q.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = q.GetByVideo(ctx, "v1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = q.Get(ctx, j.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisQueueDequeueHonoursContext(t *testing.T) {
	q := newTestRedisQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	assert.Error(t, err)
}

func TestRedisQueueRecoversStalledJob(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

	j := newTestJob("v1", 3)
	require.NoError(t, q.Submit(ctx, j))
	first := dequeueWithin(t, q, 3*time.Second)
	assert.Equal(t, 1, first.AttemptsMade)

	// the worker holding the job is gone; another replica polls after the lease ends
	other := replica(q, 2*time.Minute)
	var (
		recovered *Job
		state     State
	)
	other.OnStalled(func(_ context.Context, j *Job, s State, err error) {
		recovered, state = j, s
		assert.True(t, IsRetryable(err))
	})
	require.NoError(t, other.requeueStalled(ctx))

	require.NotNil(t, recovered)
	assert.Equal(t, j.ID, recovered.ID)
	assert.Equal(t, StateDelayed, state)

	stats, err := other.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Delayed: 1}, stats)
	leases, err := q.rdb.ZCard(ctx, q.key("leases")).Result()
	require.NoError(t, err)
	assert.Zero(t, leases)

	// the dead worker's late ack is refused
	_, err = q.Ack(ctx, j.ID, nil)
	assert.ErrorIs(t, err, ErrNotActive)

	second := dequeueWithin(t, other, 5*time.Second)
	assert.Equal(t, j.ID, second.ID)
	assert.Equal(t, 2, second.AttemptsMade)
	assert.Equal(t, "processing was interrupted", second.FailureReason)
}

func TestRedisQueueStalledJobOutOfAttemptsFails(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

	j := newTestJob("v1", 1)
	require.NoError(t, q.Submit(ctx, j))
	dequeueWithin(t, q, 3*time.Second)

	other := replica(q, 2*time.Minute)
	calls := 0
	other.OnStalled(func(_ context.Context, _ *Job, s State, _ error) {
		calls++
		assert.Equal(t, StateFailed, s)
	})
	require.NoError(t, other.requeueStalled(ctx))
	require.NoError(t, other.requeueStalled(ctx))
	assert.Equal(t, 1, calls)

	stored, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, stored.State)
	assert.Equal(t, 1, stored.AttemptsMade)
	assert.Equal(t, "processing was interrupted", stored.FailureReason)
	assert.False(t, stored.FinishedAt.IsZero())
}

func TestRedisQueueRenewedLeaseIsKept(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

	j := newTestJob("v1", 3)
	require.NoError(t, q.Submit(ctx, j))
	dequeueWithin(t, q, 3*time.Second)

	q.now = func() time.Time { return time.Now().Add(90 * time.Second) }
	require.NoError(t, q.RenewLease(ctx, j.ID))

	other := replica(q, 2*time.Minute)
	other.OnStalled(func(context.Context, *Job, State, error) {
		t.Error("renewed job must not be recovered")
	})
	require.NoError(t, other.requeueStalled(ctx))

	stored, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, stored.State)

	state, err := q.Ack(ctx, j.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
}

func TestRedisQueueAdoptsActiveIDWithoutLease(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

	j := newTestJob("v1", 3)
	require.NoError(t, q.Submit(ctx, j))
	// a worker that died right after BLMOVE leaves the id active but never activated
	require.NoError(t, q.rdb.LMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT").Err())

	require.NoError(t, q.requeueStalled(ctx))
	leases, err := q.rdb.ZCard(ctx, q.key("leases")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), leases)

	require.NoError(t, replica(q, 2*time.Minute).requeueStalled(ctx))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Waiting: 1}, stats)

	got := dequeueWithin(t, q, 3*time.Second)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, 1, got.AttemptsMade)
}

func TestRedisQueueReleaseRefundsAttempt(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

	j := newTestJob("v1", 1)
	require.NoError(t, q.Submit(ctx, j))
	got := dequeueWithin(t, q, 3*time.Second)
	require.NoError(t, q.UpdateProgress(ctx, got.ID, 40))

	require.NoError(t, q.Release(ctx, got.ID))
	assert.ErrorIs(t, q.Release(ctx, got.ID), ErrNotActive)

	stored, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, stored.State)
	assert.Equal(t, 0, stored.AttemptsMade)
	assert.Equal(t, 0, stored.ProgressPercent)
	assert.True(t, stored.StartedAt.IsZero())

	leases, err := q.rdb.ZCard(ctx, q.key("leases")).Result()
	require.NoError(t, err)
	assert.Zero(t, leases)

	again := dequeueWithin(t, q, 3*time.Second)
	assert.Equal(t, 1, again.AttemptsMade)
	state, err := q.Ack(ctx, again.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
}
