package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisQueue stores jobs in Redis.
//
// Keys (prefix = configured key):
//
//	prefix:ready       LIST of job JSON, consumed from the right
//	prefix:processing  LIST of in-flight job JSON
//	prefix:delayed     ZSET of job JSON scored by due unix millis
//	prefix:dead        LIST of dead-lettered job JSON
//	prefix:leases      ZSET of in-flight job JSON scored by lease expiry
//
// A job whose lease expires while still in processing (its worker crashed
// or lost Redis) is pushed back onto ready by the next Receive.
type RedisQueue struct {
	rdb        *redis.Client
	ready      string
	processing string
	delayed    string
	dead       string
	leases     string
	poll       time.Duration
	lease      time.Duration
}

// DefaultLease is how long a received job may stay in flight before it is
// handed to another worker.
const DefaultLease = 10 * time.Minute

// reclaimScript requeues one expired in-flight job. The ZREM decides the
// winner between consumers; the LREM skips jobs settled meanwhile.
var reclaimScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 and redis.call('LREM', KEYS[2], 1, ARGV[1]) > 0 then
	redis.call('LPUSH', KEYS[3], ARGV[1])
	return 1
end
return 0
`)

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, addr, prefix string) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Info().Str("addr", addr).Str("prefix", prefix).Msg("Redis job queue connected")
	return NewRedisQueueWithClient(rdb, prefix), nil
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(rdb *redis.Client, prefix string) *RedisQueue {
	return &RedisQueue{
		rdb:        rdb,
		ready:      prefix + ":ready",
		processing: prefix + ":processing",
		delayed:    prefix + ":delayed",
		dead:       prefix + ":dead",
		leases:     prefix + ":leases",
		poll:       time.Second,
		lease:      DefaultLease,
	}
}

// WithLease sets the in-flight lease. Non-positive values keep the default.
func (q *RedisQueue) WithLease(d time.Duration) *RedisQueue {
	if d > 0 {
		q.lease = d
	}
	return q
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.ready, raw).Err()
}

func (q *RedisQueue) Receive(ctx context.Context) (*Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Failed to promote delayed jobs")
		}
		if err := q.reclaimExpired(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Failed to reclaim expired jobs")
		}

		raw, err := q.rdb.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", q.poll).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redis receive: %w", err)
		}

		// The job already left ready, so the lease is written even if ctx ends now.
		expiry := float64(time.Now().Add(q.lease).UnixMilli())
		if err := q.rdb.ZAdd(context.WithoutCancel(ctx), q.leases, redis.Z{Score: expiry, Member: raw}).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to record job lease")
		}

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			log.Error().Err(err).Msg("Dropping malformed job")
			pipe := q.rdb.TxPipeline()
			pipe.LRem(ctx, q.processing, 1, raw)
			pipe.ZRem(ctx, q.leases, raw)
			pipe.LPush(ctx, q.dead, raw)
			pipe.Exec(ctx)
			continue
		}
		job.receipt = raw
		return &job, nil
	}
}

// promoteDue moves delayed jobs whose time has come onto the ready list.
// ZREM decides which worker wins a member, so promotion is safe to run
// from every consumer.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.delayed, &redis.ZRangeBy{Min: "-inf", Max: now, Count: 100}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		removed, err := q.rdb.ZRem(ctx, q.delayed, member).Result()
		if err != nil {
			return err
		}
		if removed == 1 {
			if err := q.rdb.LPush(ctx, q.ready, member).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// reclaimExpired returns jobs whose lease ran out to the ready list.
func (q *RedisQueue) reclaimExpired(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	expired, err := q.rdb.ZRangeByScore(ctx, q.leases, &redis.ZRangeBy{Min: "-inf", Max: now, Count: 100}).Result()
	if err != nil {
		return err
	}
	for _, member := range expired {
		n, err := reclaimScript.Run(ctx, q.rdb, []string{q.leases, q.processing, q.ready}, member).Int()
		if err != nil {
			return err
		}
		if n == 1 {
			log.Warn().Msg("Requeued job with expired lease")
		}
	}
	return nil
}

func receiptOf(job *Job) (string, error) {
	raw, ok := job.receipt.(string)
	if !ok {
		return "", fmt.Errorf("queue: job %s was not received from redis", job.ID)
	}
	return raw, nil
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	raw, err := receiptOf(job)
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processing, 1, raw)
	pipe.ZRem(ctx, q.leases, raw)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	raw, err := receiptOf(job)
	if err != nil {
		return err
	}
	job.NotBefore = time.Now().Add(delay)
	next, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processing, 1, raw)
	pipe.ZRem(ctx, q.leases, raw)
	pipe.ZAdd(ctx, q.delayed, redis.Z{Score: float64(job.NotBefore.UnixMilli()), Member: string(next)})
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job *Job, reason string) error {
	raw, err := receiptOf(job)
	if err != nil {
		return err
	}
	job.LastError = reason
	parked, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processing, 1, raw)
	pipe.ZRem(ctx, q.leases, raw)
	pipe.LPush(ctx, q.dead, parked)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Close() error { return q.rdb.Close() }
