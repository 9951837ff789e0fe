package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Retention policies for finished jobs.
const (
	completedCap       = 1000
	completedRetention = 24 * time.Hour
	failedRetention    = 7 * 24 * time.Hour

	// popTimeout bounds each blocking pop so delayed-job promotion and
	// context cancellation are observed at least this often.
	popTimeout = time.Second
)

// RedisBroker implements Broker on top of Redis.
//
// Per-queue key layout (prefix notify:q:{queue}):
//
//	:jobs      HASH  jobID → payload, present while waiting/delayed/active
//	:waiting   ZSET  jobID scored by (4−priority, enqueue sequence)
//	:delayed   ZSET  jobID scored by ready-at unix millis
//	:active    SET   jobIDs currently held by a worker
//	:completed LIST  recent acked jobIDs, capped and expiring
//	:failed    LIST  recent terminally-failed jobIDs, expiring
//	:seq       counter for the FIFO tiebreak
//
// BZPOPMIN on :waiting yields the highest-priority, oldest job. The :jobs
// hash doubles as the dedup guard: HSETNX loses for an id that is already
// live, so at most one job per transaction is in the broker at a time.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Connect parses the URL, connects, and verifies the server is reachable.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func key(queue, part string) string {
	return "notify:q:" + queue + ":" + part
}

// score encodes priority-then-FIFO ordering for BZPOPMIN: lower scores pop
// first, so URGENT(4) maps to the smallest priority band and the enqueue
// sequence breaks ties within a band.
func score(p domain.Priority, seq int64) float64 {
	return float64(domain.PriorityUrgent-p)*1e12 + float64(seq)
}

func (b *RedisBroker) Enqueue(ctx context.Context, queue string, job domain.Job, opts EnqueueOptions) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	created, err := b.client.HSetNX(ctx, key(queue, "jobs"), opts.JobID, payload).Result()
	if err != nil {
		return fmt.Errorf("store job payload: %w", err)
	}
	if !created {
		// A job for this id is already waiting or in flight.
		return nil
	}

	if opts.Delay > 0 {
		readyAt := time.Now().Add(opts.Delay).UnixMilli()
		if err := b.client.ZAdd(ctx, key(queue, "delayed"), redis.Z{
			Score:  float64(readyAt),
			Member: opts.JobID,
		}).Err(); err != nil {
			return fmt.Errorf("enqueue delayed: %w", err)
		}
		return nil
	}

	seq, err := b.client.Incr(ctx, key(queue, "seq")).Result()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	if err := b.client.ZAdd(ctx, key(queue, "waiting"), redis.Z{
		Score:  score(opts.Priority, seq),
		Member: opts.JobID,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue waiting: %w", err)
	}
	return nil
}

func (b *RedisBroker) Dequeue(ctx context.Context, queue string) (domain.Job, bool) {
	for {
		if ctx.Err() != nil {
			return domain.Job{}, false
		}

		b.promoteDue(ctx, queue)

		res, err := b.client.BZPopMin(ctx, popTimeout, key(queue, "waiting")).Result()
		if errors.Is(err, redis.Nil) {
			continue // timed out; loop to promote and re-check ctx
		}
		if err != nil {
			if ctx.Err() != nil {
				return domain.Job{}, false
			}
			// Transient broker error; brief pause avoids a hot loop.
			select {
			case <-time.After(popTimeout):
				continue
			case <-ctx.Done():
				return domain.Job{}, false
			}
		}

		jobID, _ := res.Member.(string)
		payload, err := b.client.HGet(ctx, key(queue, "jobs"), jobID).Result()
		if err != nil {
			continue // payload vanished (acked elsewhere); drop the stale member
		}

		var job domain.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			_ = b.client.HDel(ctx, key(queue, "jobs"), jobID).Err()
			continue
		}

		_ = b.client.SAdd(ctx, key(queue, "active"), jobID).Err()
		return job, true
	}
}

// promoteDue moves delayed jobs whose ready time has passed onto the
// waiting set. Called on every dequeue iteration, so promotion latency is
// bounded by popTimeout.
func (b *RedisBroker) promoteDue(ctx context.Context, queue string) {
	now := time.Now().UnixMilli()
	due, err := b.client.ZRangeByScore(ctx, key(queue, "delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil || len(due) == 0 {
		return
	}

	for _, jobID := range due {
		removed, err := b.client.ZRem(ctx, key(queue, "delayed"), jobID).Result()
		if err != nil || removed == 0 {
			continue // another consumer promoted it first
		}

		// Re-enter the waiting set at the job's own priority.
		pri := domain.PriorityMedium
		if payload, err := b.client.HGet(ctx, key(queue, "jobs"), jobID).Result(); err == nil {
			var job domain.Job
			if json.Unmarshal([]byte(payload), &job) == nil {
				pri = job.Priority
			}
		}
		seq, err := b.client.Incr(ctx, key(queue, "seq")).Result()
		if err != nil {
			continue
		}
		_ = b.client.ZAdd(ctx, key(queue, "waiting"), redis.Z{
			Score:  score(pri, seq),
			Member: jobID,
		}).Err()
	}
}

func (b *RedisBroker) Ack(ctx context.Context, queue, jobID string) error {
	pipe := b.client.TxPipeline()
	pipe.SRem(ctx, key(queue, "active"), jobID)
	pipe.HDel(ctx, key(queue, "jobs"), jobID)
	pipe.LPush(ctx, key(queue, "completed"), jobID)
	pipe.LTrim(ctx, key(queue, "completed"), 0, completedCap-1)
	pipe.Expire(ctx, key(queue, "completed"), completedRetention)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Retry(ctx context.Context, queue, jobID string, delay time.Duration) error {
	readyAt := time.Now().Add(delay).UnixMilli()
	pipe := b.client.TxPipeline()
	pipe.SRem(ctx, key(queue, "active"), jobID)
	pipe.ZAdd(ctx, key(queue, "delayed"), redis.Z{Score: float64(readyAt), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Fail(ctx context.Context, queue, jobID string) error {
	pipe := b.client.TxPipeline()
	pipe.SRem(ctx, key(queue, "active"), jobID)
	pipe.HDel(ctx, key(queue, "jobs"), jobID)
	pipe.LPush(ctx, key(queue, "failed"), jobID)
	pipe.Expire(ctx, key(queue, "failed"), failedRetention)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) HasJob(ctx context.Context, queue, jobID string) (bool, error) {
	return b.client.HExists(ctx, key(queue, "jobs"), jobID).Result()
}

func (b *RedisBroker) Stats(ctx context.Context, queue string) (Stats, error) {
	pipe := b.client.Pipeline()
	waiting := pipe.ZCard(ctx, key(queue, "waiting"))
	delayed := pipe.ZCard(ctx, key(queue, "delayed"))
	active := pipe.SCard(ctx, key(queue, "active"))
	completed := pipe.LLen(ctx, key(queue, "completed"))
	failed := pipe.LLen(ctx, key(queue, "failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}

	return Stats{
		Waiting:   int(waiting.Val() + delayed.Val()),
		Active:    int(active.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
	}, nil
}

// compile-time check that RedisBroker implements Broker
var _ Broker = (*RedisBroker)(nil)
