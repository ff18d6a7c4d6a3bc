// Package redis implements the preparation job queue on a redis sorted set.
// Jobs become visible only after their delivery delay elapses, delivery is
// at-least-once, and unacked jobs are redelivered after a visibility timeout.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chemprep/backend/pkg/logger"
)

const (
	scheduledKey  = "preparation:scheduled"
	processingKey = "preparation:processing"
	payloadKey    = "preparation:payload"

	visibilityTimeout = 35 * time.Minute
)

// Job is the work item published by the submit side and claimed by a worker.
type Job struct {
	TaskID           string   `json:"task_id"`
	BundleURI        string   `json:"bundle_uri"`
	SubjectID        string   `json:"subjectid,omitempty"`
	Descriptors      []string `json:"descriptors"`
	IntersectColumns bool     `json:"intersect_columns"`
	RetainNullValues bool     `json:"retain_null_values"`
}

type Queue struct {
	client *redis.Client
}

func NewQueue(host string, port int, password string, db int) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Job queue initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue publishes a job that becomes claimable after delay. The minimum
// 1 s delay lets the task record become readable through the lookup API
// before any worker observes the job.
func (q *Queue) Enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	readyAt := time.Now().Add(delay)

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, payloadKey, job.TaskID, payload)
	pipe.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: job.TaskID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	logger.Debug("Job enqueued",
		zap.String("task_id", job.TaskID),
		zap.Duration("delay", delay),
	)
	return nil
}

// claimScript atomically moves the oldest ready job from the scheduled set
// to the processing set and returns its payload. Ids without a payload entry
// are dropped on the spot, never parked in the processing set. KEYS:
// scheduled, processing, payload. ARGV: now-millis, redeliver-at-millis.
var claimScript = redis.NewScript(`
	while true do
		local id = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)[1]
		if not id then
			return false
		end
		redis.call('ZREM', KEYS[1], id)
		local payload = redis.call('HGET', KEYS[3], id)
		if payload then
			redis.call('ZADD', KEYS[2], ARGV[2], id)
			return payload
		end
	end
`)

// Dequeue claims one ready job, or returns nil when none is due. The claimed
// job is parked in the processing set; a worker that dies without acking
// loses it back to the scheduled set once the visibility timeout expires.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	if err := q.reapExpired(ctx); err != nil {
		logger.Warn("Failed to reap expired jobs", zap.Error(err))
	}

	now := time.Now()
	raw, err := claimScript.Run(ctx, q.client,
		[]string{scheduledKey, processingKey, payloadKey},
		now.UnixMilli(),
		now.Add(visibilityTimeout).UnixMilli(),
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	payload, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected claim result type %T", raw)
	}

	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	logger.Debug("Job claimed", zap.String("task_id", job.TaskID))
	return &job, nil
}

// Ack removes a finished job from the queue entirely.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, processingKey, taskID)
	pipe.HDel(ctx, payloadKey, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Nack returns a claimed job to the scheduled set for redelivery after delay.
func (q *Queue) Nack(ctx context.Context, taskID string, delay time.Duration) error {
	readyAt := time.Now().Add(delay)

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, processingKey, taskID)
	pipe.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: taskID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack job: %w", err)
	}
	return nil
}

// reapExpiredScript moves processing entries whose visibility deadline has
// passed back into the scheduled set. KEYS: processing, scheduled. ARGV:
// now-millis.
var reapExpiredScript = redis.NewScript(`
	local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
	for _, id in ipairs(expired) do
		redis.call('ZREM', KEYS[1], id)
		redis.call('ZADD', KEYS[2], ARGV[1], id)
	end
	return #expired
`)

func (q *Queue) reapExpired(ctx context.Context) error {
	n, err := reapExpiredScript.Run(ctx, q.client,
		[]string{processingKey, scheduledKey},
		time.Now().UnixMilli(),
	).Int()
	if err != nil && err != redis.Nil {
		return err
	}
	if n > 0 {
		logger.Warn("Requeued expired jobs", zap.Int("count", n))
	}
	return nil
}
