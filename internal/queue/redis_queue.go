package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/revaspay/referrals/internal/apperrors"
	"go.uber.org/zap"
)

// Redis key prefixes
const (
	delayedPrefix = "delayed:"
	failedPrefix  = "failed:"
)

// RedisQueue implements Queue on redis lists. Ready jobs live in a list,
// delayed retries in a sorted set scored by run time, and dead-lettered jobs
// in a failed list.
type RedisQueue struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisQueue creates a new redis queue
func NewRedisQueue(client *redis.Client, log *zap.Logger) *RedisQueue {
	return &RedisQueue{client: client, log: log}
}

// Enqueue adds a job to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...EnqueueOption) (string, error) {
	options := buildOptions(opts)

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now().UTC()
	job := &Job{
		ID:         options.jobID,
		Queue:      queueName,
		Payload:    payloadBytes,
		MaxRetries: options.maxRetry,
		CreatedAt:  now,
		RunAt:      now.Add(options.delay),
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	jobBytes, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	if options.delay > 0 {
		err = q.client.ZAdd(ctx, delayedPrefix+queueName, &redis.Z{
			Score:  float64(job.RunAt.Unix()),
			Member: jobBytes,
		}).Err()
	} else {
		err = q.client.LPush(ctx, queueName, jobBytes).Err()
	}
	if err != nil {
		return "", wrapRedis("enqueue", err)
	}

	return job.ID, nil
}

// Dequeue blocks up to timeout for the next ready job. It returns nil, nil
// when the queue stays empty.
func (q *RedisQueue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	q.moveReadyDelayedJobs(ctx, queueName)

	result, err := q.client.BRPop(ctx, timeout, queueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapRedis("dequeue", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected result format from BRPOP")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Queue == "" {
		job.Queue = queueName
	}
	return &job, nil
}

// moveReadyDelayedJobs moves delayed jobs that are ready to run to the main queue
func (q *RedisQueue) moveReadyDelayedJobs(ctx context.Context, queueName string) {
	jobs, err := q.client.ZRangeByScore(ctx, delayedPrefix+queueName, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		q.log.Warn("error getting ready delayed jobs", zap.String("queue", queueName), zap.Error(err))
		return
	}

	for _, jobStr := range jobs {
		// ZREM first so two consumers never both move the same job
		removed, err := q.client.ZRem(ctx, delayedPrefix+queueName, jobStr).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, queueName, jobStr).Err(); err != nil {
			q.log.Error("error moving delayed job to main queue", zap.String("queue", queueName), zap.Error(err))
		}
	}
}

// Retry schedules a failed job again after a delay
func (q *RedisQueue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	job.RetryCount++
	job.RunAt = time.Now().UTC().Add(delay)

	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.client.ZAdd(ctx, delayedPrefix+job.Queue, &redis.Z{
		Score:  float64(job.RunAt.Unix()),
		Member: jobBytes,
	}).Err()
	return wrapRedis("retry", err)
}

// Fail moves a job to the dead-letter list
func (q *RedisQueue) Fail(ctx context.Context, job *Job, jobErr error) error {
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}

	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return wrapRedis("fail", q.client.LPush(ctx, failedPrefix+job.Queue, jobBytes).Err())
}

// Stats gets statistics for a queue
func (q *RedisQueue) Stats(ctx context.Context, queueName string) (*QueueStats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, queueName)
	delayed := pipe.ZCard(ctx, delayedPrefix+queueName)
	failed := pipe.LLen(ctx, failedPrefix+queueName)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrapRedis("stats", err)
	}

	return &QueueStats{
		Queue:   queueName,
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

func wrapRedis(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsTransientIO(err) {
		return apperrors.Transient("queue "+op, err)
	}
	return fmt.Errorf("queue %s: %w", op, err)
}
