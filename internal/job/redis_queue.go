package job

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQueue keeps jobs in Redis so several worker processes can share them.
//
//	<prefix>:wait       list of queued ids (LPUSH in, BLMOVE out)
//	<prefix>:active     list of ids held by a worker
//	<prefix>:delayed    zset of ids scored by the unix ms they become eligible
//	<prefix>:completed  zset scored by finish time
//	<prefix>:failed     zset scored by finish time
//	<prefix>:leases     zset of active ids scored by the unix ms their lease ends
//	<prefix>:job:<id>   hash with the job fields
//	<prefix>:video:<id> latest job id for a video
//
// A worker holding a job must renew its lease; once a lease ends the job is
// taken back by whichever replica polls next and counted as a failed attempt.
type RedisQueue struct {
	rdb          *redis.Client
	prefix       string
	backoff      Backoff
	pollInterval time.Duration
	leaseTTL     time.Duration
	onStalled    func(ctx context.Context, j *Job, state State, err error)
	logger       *zap.Logger
	now          func() time.Time
}

func NewRedisQueue(rdb *redis.Client, prefix string, backoff Backoff, pollInterval, leaseTTL time.Duration, logger *zap.Logger) *RedisQueue {
	// BLMOVE timeouts below a second are rounded up by the client anyway
	if pollInterval < time.Second {
		pollInterval = time.Second
	}
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}
	return &RedisQueue{
		rdb:          rdb,
		prefix:       prefix,
		backoff:      backoff,
		pollInterval: pollInterval,
		leaseTTL:     leaseTTL,
		logger:       logger,
		now:          time.Now,
	}
}

// OnStalled registers fn to run for every job recovered from a dead worker,
// with the state the recovery moved it to.
func (q *RedisQueue) OnStalled(fn func(ctx context.Context, j *Job, state State, err error)) {
	q.onStalled = fn
}

func (q *RedisQueue) LeaseTTL() time.Duration { return q.leaseTTL }

// RenewLease extends the lease of an active job. A lease that was already
// taken back is not recreated.
func (q *RedisQueue) RenewLease(ctx context.Context, id uuid.UUID) error {
	until := float64(q.now().Add(q.leaseTTL).UnixMilli())
	if err := q.rdb.ZAddXX(ctx, q.key("leases"), redis.Z{Score: until, Member: id.String()}).Err(); err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	return nil
}

func (q *RedisQueue) key(parts ...string) string {
	k := q.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *RedisQueue) jobKey(id string) string       { return q.key("job", id) }
func (q *RedisQueue) videoKey(videoID string) string { return q.key("video", videoID) }

func (q *RedisQueue) Submit(ctx context.Context, j *Job) error {
	stored := j.clone()
	stored.State = StateQueued
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = q.now()
	}

	id := stored.ID.String()
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(id), toHash(stored))
		pipe.Set(ctx, q.videoKey(stored.VideoID), id, 0)
		pipe.LPush(ctx, q.key("wait"), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := q.requeueStalled(ctx); err != nil {
			q.logger.Warn("Failed to recover stalled jobs", zap.Error(err))
		}
		if err := q.promoteDue(ctx); err != nil {
			q.logger.Warn("Failed to promote delayed jobs", zap.Error(err))
		}

		id, err := q.rdb.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", q.pollInterval).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to dequeue: %w", err)
		}

		// the id is ours now; finish activating even if ctx just ended
		actx := context.WithoutCancel(ctx)
		j, err := q.activate(actx, id)
		if errors.Is(err, ErrNotFound) {
			q.logger.Warn("Dropping id without job hash", zap.String("job_id", id))
			q.rdb.LRem(actx, q.key("active"), 1, id)
			continue
		}
		return j, err
	}
}

func (q *RedisQueue) activate(ctx context.Context, id string) (*Job, error) {
	exists, err := q.rdb.Exists(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check job: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, q.jobKey(id), "attempts_made", 1)
		pipe.HSet(ctx, q.jobKey(id),
			"state", string(StateActive),
			"progress_percent", 0,
			"started_at", q.now().Format(time.RFC3339Nano),
		)
		pipe.HDel(ctx, q.jobKey(id), "run_at")
		pipe.ZAdd(ctx, q.key("leases"), redis.Z{Score: float64(q.now().Add(q.leaseTTL).UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to activate job: %w", err)
	}
	return q.load(ctx, id)
}

// promoteDue moves delayed jobs whose time has come back onto the wait list.
// Only the caller whose ZREM succeeds pushes the id, so promotion is exclusive.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, q.jobKey(id), "state", string(StateQueued))
			pipe.LPush(ctx, q.key("wait"), id)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) Ack(ctx context.Context, id uuid.UUID, procErr error) (State, error) {
	j, err := q.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if j.State != StateActive {
		return j.State, ErrNotActive
	}

	now := q.now()
	state := resolve(j, procErr, now, q.backoff)
	if err := q.record(ctx, j, state, now); err != nil {
		return "", fmt.Errorf("failed to ack job: %w", err)
	}

	if state == StateDelayed {
		q.logger.Info("Job scheduled for retry",
			zap.String("job_id", j.ID.String()),
			zap.Int("attempts_made", j.AttemptsMade),
			zap.Time("run_at", j.RunAt),
		)
	}
	return state, nil
}

// record takes j off the active list and files it under its resolved state.
func (q *RedisQueue) record(ctx context.Context, j *Job, state State, now time.Time) error {
	sid := j.ID.String()
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, sid)
		pipe.ZRem(ctx, q.key("leases"), sid)
		pipe.Del(ctx, q.jobKey(sid))
		pipe.HSet(ctx, q.jobKey(sid), toHash(j))
		switch state {
		case StateDelayed:
			pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(j.RunAt.UnixMilli()), Member: sid})
		case StateCompleted:
			pipe.ZAdd(ctx, q.key("completed"), redis.Z{Score: float64(now.UnixMilli()), Member: sid})
		case StateFailed:
			pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: float64(now.UnixMilli()), Member: sid})
		}
		return nil
	})
	return err
}

func (q *RedisQueue) Release(ctx context.Context, id uuid.UUID) error {
	sid := id.String()
	removed, err := q.rdb.LRem(ctx, q.key("active"), 1, sid).Result()
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	if removed == 0 {
		return ErrNotActive
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.key("leases"), sid)
		pipe.HIncrBy(ctx, q.jobKey(sid), "attempts_made", -1)
		pipe.HSet(ctx, q.jobKey(sid), "state", string(StateQueued), "progress_percent", 0)
		pipe.HDel(ctx, q.jobKey(sid), "started_at")
		// BLMOVE pops from the right, so this job runs next
		pipe.RPush(ctx, q.key("wait"), sid)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}

// requeueStalled takes back jobs whose lease ended. Active ids without a
// lease get one first, which covers a worker that died between BLMOVE and
// activation.
func (q *RedisQueue) requeueStalled(ctx context.Context) error {
	now := q.now()
	active, err := q.rdb.LRange(ctx, q.key("active"), 0, -1).Result()
	if err != nil {
		return err
	}
	if len(active) > 0 {
		until := float64(now.Add(q.leaseTTL).UnixMilli())
		members := make([]redis.Z, len(active))
		for i, id := range active {
			members[i] = redis.Z{Score: until, Member: id}
		}
		if err := q.rdb.ZAddNX(ctx, q.key("leases"), members...).Err(); err != nil {
			return err
		}
	}

	expired, err := q.rdb.ZRangeByScore(ctx, q.key("leases"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range expired {
		// both removals must succeed, so one replica recovers each job
		// and a job acked in the meantime is left alone
		if n, err := q.rdb.ZRem(ctx, q.key("leases"), id).Result(); err != nil || n == 0 {
			continue
		}
		if n, err := q.rdb.LRem(ctx, q.key("active"), 1, id).Result(); err != nil || n == 0 {
			continue
		}
		if err := q.recoverStalled(context.WithoutCancel(ctx), id, now); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) recoverStalled(ctx context.Context, id string, now time.Time) error {
	j, err := q.load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if j.State != StateActive {
		// moved by BLMOVE but never activated, so no attempt was charged
		return q.rdb.RPush(ctx, q.key("wait"), id).Err()
	}

	stalled := &StalledError{Lease: q.leaseTTL}
	state := resolve(j, stalled, now, q.backoff)
	if err := q.record(ctx, j, state, now); err != nil {
		return fmt.Errorf("failed to recover stalled job: %w", err)
	}
	q.logger.Warn("Recovered stalled job",
		zap.String("job_id", id),
		zap.String("video_id", j.VideoID),
		zap.Int("attempts_made", j.AttemptsMade),
		zap.String("state", string(state)),
	)
	if q.onStalled != nil {
		q.onStalled(ctx, j, state, stalled)
	}
	return nil
}

func (q *RedisQueue) UpdateProgress(ctx context.Context, id uuid.UUID, percent int) error {
	vals, err := q.rdb.HMGet(ctx, q.jobKey(id.String()), "state", "progress_percent").Result()
	if err != nil {
		return fmt.Errorf("failed to read progress: %w", err)
	}
	if vals[0] == nil {
		return ErrNotFound
	}
	if state, _ := vals[0].(string); State(state) != StateActive {
		return ErrNotActive
	}
	current := 0
	if s, ok := vals[1].(string); ok {
		current, _ = strconv.Atoi(s)
	}
	if percent <= current {
		return nil
	}
	return q.rdb.HSet(ctx, q.jobKey(id.String()), "progress_percent", min(percent, 100)).Err()
}

func (q *RedisQueue) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	return q.load(ctx, id.String())
}

func (q *RedisQueue) GetByVideo(ctx context.Context, videoID string) (*Job, error) {
	id, err := q.rdb.Get(ctx, q.videoKey(videoID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up video: %w", err)
	}
	return q.load(ctx, id)
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, q.key("wait"))
	active := pipe.LLen(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return Stats{
		Waiting:   int(waiting.Val()),
		Active:    int(active.Val()),
		Delayed:   int(delayed.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
	}, nil
}

func (q *RedisQueue) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := strconv.FormatInt(q.now().Add(-olderThan).UnixMilli(), 10)
	removed := 0
	for _, set := range []string{q.key("completed"), q.key("failed")} {
		ids, err := q.rdb.ZRangeByScore(ctx, set, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to list finished jobs: %w", err)
		}
		for _, id := range ids {
			videoID, _ := q.rdb.HGet(ctx, q.jobKey(id), "video_id").Result()
			_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRem(ctx, set, id)
				pipe.Del(ctx, q.jobKey(id))
				return nil
			})
			if err != nil {
				return removed, fmt.Errorf("failed to prune job: %w", err)
			}
			if videoID != "" {
				if latest, _ := q.rdb.Get(ctx, q.videoKey(videoID)).Result(); latest == id {
					q.rdb.Del(ctx, q.videoKey(videoID))
				}
			}
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op; the caller owns the redis client.
func (q *RedisQueue) Close() error { return nil }

func (q *RedisQueue) load(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeJob(fields)
}

func toHash(j *Job) map[string]interface{} {
	h := map[string]interface{}{
		"id":               j.ID.String(),
		"video_id":         j.VideoID,
		"input_path":       j.InputPath,
		"output_dir":       j.OutputDir,
		"user_id":          j.UserID,
		"filename":         j.Filename,
		"state":            string(j.State),
		"attempts_made":    j.AttemptsMade,
		"max_attempts":     j.MaxAttempts,
		"progress_percent": j.ProgressPercent,
		"failure_reason":   j.FailureReason,
	}
	for field, t := range map[string]time.Time{
		"created_at":  j.CreatedAt,
		"started_at":  j.StartedAt,
		"finished_at": j.FinishedAt,
		"run_at":      j.RunAt,
	} {
		if !t.IsZero() {
			h[field] = t.Format(time.RFC3339Nano)
		}
	}
	return h
}

func decodeJob(fields map[string]string) (*Job, error) {
	var j Job
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToUUIDHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
		WeaklyTypedInput: true,
		Result:           &j,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(fields); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &j, nil
}

func stringToUUIDHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(uuid.UUID{}) {
		return data, nil
	}
	return uuid.Parse(data.(string))
}
