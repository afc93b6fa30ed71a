package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/fanout/internal/domain"
)

// Key layout. One work list per (family, platform routing key) plus a single
// analytics list; the delay and retry ZSETs are scored by due unix time and
// drained by the scheduler's mover, which is what stands in for a broker's
// TTL + dead-letter redirect. dead:publish is terminal, inspection only.
const (
	publishQueuePrefix = "q:publish:"
	analyticsQueue     = "q:analytics"
	delayZSet          = "delay:publish"
	retryZSet          = "retry:publish"
	deadLetterList     = "dead:publish"
)

type RedisQ struct{ rdb *r.Client }

func New(rdb *r.Client) *RedisQ { return &RedisQ{rdb} }

func publishKey(p domain.Platform) string { return publishQueuePrefix + string(p) }

// EnqueuePublish routes a publish job: due (or unscheduled) jobs go straight
// to the platform's work queue, future ones park on the delay ZSET until the
// mover hands them off.
func (q *RedisQ) EnqueuePublish(ctx context.Context, job domain.PublishJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal publish job")
	}
	if job.ScheduledAt != nil && job.ScheduledAt.After(time.Now()) {
		return errors.Wrap(
			q.rdb.ZAdd(ctx, delayZSet, r.Z{Score: float64(job.ScheduledAt.Unix()), Member: raw}).Err(),
			"park delayed job")
	}
	return errors.Wrap(q.rdb.LPush(ctx, publishKey(job.Platform), raw).Err(), "enqueue publish job")
}

// EnqueueRetry parks the job for redelivery after a backoff computed from
// the attempt number (30s, then 60s).
func (q *RedisQ) EnqueueRetry(ctx context.Context, job domain.PublishJob, now time.Time) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal retry job")
	}
	shift := job.Attempt - 1
	if shift < 0 {
		shift = 0
	}
	due := now.Add(30 * time.Second << uint(shift))
	return errors.Wrap(
		q.rdb.ZAdd(ctx, retryZSet, r.Z{Score: float64(due.Unix()), Member: raw}).Err(),
		"park retry job")
}

// DeadLetter records the final message copy for operator inspection.
func (q *RedisQ) DeadLetter(ctx context.Context, job domain.PublishJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal dead letter")
	}
	return errors.Wrap(q.rdb.LPush(ctx, deadLetterList, raw).Err(), "dead letter")
}

func (q *RedisQ) EnqueueAnalytics(ctx context.Context, job domain.AnalyticsJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal analytics job")
	}
	return errors.Wrap(q.rdb.LPush(ctx, analyticsQueue, raw).Err(), "enqueue analytics job")
}

// moveDue drains members of one delay ZSET whose score has passed and pushes
// each onto its platform work queue. Only the scheduler leader calls this,
// so a plain read-then-pipeline is safe.
func (q *RedisQ) moveDue(ctx context.Context, zset string, now time.Time, batch int64) (int, error) {
	raws, err := q.rdb.ZRangeByScore(ctx, zset, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.Unix()), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(raws) == 0 {
		return 0, errors.Wrap(err, "range due")
	}
	moved := 0
	pipe := q.rdb.TxPipeline()
	for _, raw := range raws {
		var job domain.PublishJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// malformed member: drop it rather than wedge the mover
			pipe.ZRem(ctx, zset, raw)
			continue
		}
		pipe.LPush(ctx, publishKey(job.Platform), raw)
		pipe.ZRem(ctx, zset, raw)
		moved++
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "move due")
	}
	return moved, nil
}

// MoveDueAll drains both the holding and retry ZSETs.
func (q *RedisQ) MoveDueAll(ctx context.Context, now time.Time, batch int64) (int, error) {
	moved, err := q.moveDue(ctx, delayZSet, now, batch)
	if err != nil {
		return moved, err
	}
	retried, err := q.moveDue(ctx, retryZSet, now, batch)
	return moved + retried, err
}

// DequeuePublish pops one job from any of the given platforms' work queues,
// blocking up to block. Returns false with nil error on timeout.
func (q *RedisQ) DequeuePublish(ctx context.Context, platforms []domain.Platform, block time.Duration) (domain.PublishJob, bool, error) {
	keys := make([]string, len(platforms))
	for i, p := range platforms {
		keys[i] = publishKey(p)
	}
	var job domain.PublishJob
	res, err := q.rdb.BRPop(ctx, block, keys...).Result()
	if err == r.Nil {
		return job, false, nil
	}
	if err != nil {
		return job, false, errors.Wrap(err, "dequeue publish")
	}
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return job, false, errors.Wrap(err, "decode publish job")
	}
	return job, true, nil
}

func (q *RedisQ) DequeueAnalytics(ctx context.Context, block time.Duration) (domain.AnalyticsJob, bool, error) {
	var job domain.AnalyticsJob
	res, err := q.rdb.BRPop(ctx, block, analyticsQueue).Result()
	if err == r.Nil {
		return job, false, nil
	}
	if err != nil {
		return job, false, errors.Wrap(err, "dequeue analytics")
	}
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return job, false, errors.Wrap(err, "decode analytics job")
	}
	return job, true, nil
}

// QueueDepth reports the length of one platform's work queue.
func (q *RedisQ) QueueDepth(ctx context.Context, p domain.Platform) (int64, error) {
	n, err := q.rdb.LLen(ctx, publishKey(p)).Result()
	return n, errors.Wrap(err, "queue depth")
}
