package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

const (
	keyPrefix      = "appsvcbuild"
	jobTTL         = 7 * 24 * time.Hour
	dequeueTimeout = 5 * time.Second
)

// ErrJobNotFound is returned for unknown or expired jobs.
var ErrJobNotFound = errors.New("job not found")

// Job is a queued batch. ID doubles as the run ID of the batch.
type Job struct {
	ID          string             `json:"id"`
	Status      JobStatus          `json:"status"`
	Batch       buildrequest.Batch `json:"batch"`
	WorkerID    string             `json:"worker_id,omitempty"`
	CreatedAt   int64              `json:"created_at"`
	StartedAt   int64              `json:"started_at,omitempty"`
	CompletedAt int64              `json:"completed_at,omitempty"`
	Succeeded   []string           `json:"succeeded,omitempty"`
	Error       string             `json:"error,omitempty"`
}

type Queue struct {
	redis *redis.Client
}

func NewQueue(redisURL string) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{redis: client}, nil
}

func jobKey(id string) string {
	return fmt.Sprintf("%s:job:%s", keyPrefix, id)
}

func queueKey() string {
	return keyPrefix + ":queue"
}

func checkpointKey(stack string) string {
	return fmt.Sprintf("%s:checkpoint:%s", keyPrefix, stack)
}

func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	job.CreatedAt = time.Now().Unix()
	job.Status = StatusPending

	if err := q.save(ctx, job); err != nil {
		return err
	}
	return q.redis.RPush(ctx, queueKey(), job.ID).Err()
}

// Dequeue blocks up to five seconds for the next job. It returns nil, nil when the
// queue stayed empty.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*Job, error) {
	result, err := q.redis.BLPop(ctx, dequeueTimeout, queueKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job, err := q.Get(ctx, result[1])
	if err != nil {
		return nil, err
	}

	job.Status = StatusProcessing
	job.WorkerID = workerID
	job.StartedAt = time.Now().Unix()
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *Queue) Complete(ctx context.Context, jobID string, succeeded []string) error {
	return q.update(ctx, jobID, func(job *Job) {
		job.Status = StatusCompleted
		job.CompletedAt = time.Now().Unix()
		job.Succeeded = succeeded
	})
}

func (q *Queue) Fail(ctx context.Context, jobID string, succeeded []string, errorMsg string) error {
	return q.update(ctx, jobID, func(job *Job) {
		job.Status = StatusFailed
		job.CompletedAt = time.Now().Unix()
		job.Succeeded = succeeded
		job.Error = errorMsg
	})
}

func (q *Queue) Get(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.redis.LLen(ctx, queueKey()).Result()
}

// Checkpoint returns the poll cutoff saved for stack. ok is false when none was saved.
func (q *Queue) Checkpoint(ctx context.Context, stack string) (t time.Time, ok bool, err error) {
	value, err := q.redis.Get(ctx, checkpointKey(stack)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse checkpoint %s: %w", stack, err)
	}
	return t, true, nil
}

func (q *Queue) SetCheckpoint(ctx context.Context, stack string, t time.Time) error {
	return q.redis.Set(ctx, checkpointKey(stack), t.UTC().Format(time.RFC3339Nano), 0).Err()
}

func (q *Queue) Close() error {
	return q.redis.Close()
}

func (q *Queue) save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (q *Queue) update(ctx context.Context, jobID string, fn func(*Job)) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	fn(job)
	return q.save(ctx, job)
}
