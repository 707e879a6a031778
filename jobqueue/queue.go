package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/learnflow/learnflow/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	jobKeyPrefix    = "job:"
	defaultQueueKey = "job_queue"
)

// Config configures the job queue.
type Config struct {
	// Retention is how long a Job record survives after its last write.
	// Every write refreshes the timer; results are not retained forever.
	Retention time.Duration `yaml:"retention" json:"retention"`

	// ClaimTimeout bounds how long Claim blocks waiting for a job, so the
	// worker loop can check its shutdown flag at a known cadence.
	ClaimTimeout time.Duration `yaml:"claim_timeout" json:"claim_timeout"`

	// QueueKey is the Redis list holding pending job ids.
	QueueKey string `yaml:"queue_key" json:"queue_key"`
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Retention:    time.Hour,
		ClaimTimeout: time.Second,
		QueueKey:     defaultQueueKey,
	}
}

// Queue is a durable FIFO of background jobs backed by Redis.
//
// Producers call Create; the single worker claims ids with Claim and owns
// the claimed Job record exclusively. Claim uses BLPOP, which is an atomic
// pop, so two workers never receive the same id; global FIFO order is only
// guaranteed with a single worker.
type Queue struct {
	redis  *redis.Client
	cfg    Config
	logger *zap.Logger
}

// NewQueue creates a job queue over the given Redis client.
func NewQueue(client *redis.Client, cfg Config, logger *zap.Logger) *Queue {
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = time.Second
	}
	if cfg.QueueKey == "" {
		cfg.QueueKey = defaultQueueKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Queue{
		redis:  client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "jobqueue")),
	}
}

func jobKey(id string) string { return jobKeyPrefix + id }

// Create allocates a fresh job in status pending and appends its id to the
// tail of the queue. Safe to call concurrently from many producers.
func (q *Queue) Create(ctx context.Context, jobType string, params any) (string, error) {
	if jobType == "" {
		return "", types.NewError(types.ErrInvalidRequest, "job type is required")
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return "", types.NewError(types.ErrInvalidRequest, "params are not serializable").WithCause(err)
	}

	now := time.Now().UTC()
	job := &types.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    types.JobPending,
		Params:    rawParams,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := q.store(ctx, job); err != nil {
		return "", err
	}

	if err := q.redis.RPush(ctx, q.cfg.QueueKey, job.ID).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	q.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("job_type", jobType),
	)
	return job.ID, nil
}

// Status returns a read-only snapshot of the job. An unknown or expired id
// yields a JOB_NOT_FOUND error; callers polling a previously-known id must
// treat that as "result no longer available", not as a transient condition.
func (q *Queue) Status(ctx context.Context, id string) (*types.Job, error) {
	return q.load(ctx, id)
}

// Claim pops the head of the FIFO, blocking up to the configured claim
// timeout. Returns ("", nil) when no job is available.
func (q *Queue) Claim(ctx context.Context) (string, error) {
	result, err := q.redis.BLPop(ctx, q.cfg.ClaimTimeout, q.cfg.QueueKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to claim next job: %w", err)
	}
	// BLPop returns [key, value].
	if len(result) < 2 {
		return "", nil
	}
	return result[1], nil
}

// MarkProcessing transitions the job to processing.
func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	return q.update(ctx, id, func(job *types.Job) error {
		now := time.Now().UTC()
		job.Status = types.JobProcessing
		job.StartedAt = &now
		return nil
	})
}

// MarkCompleted records the result and transitions the job to completed
// with progress 100. The error field is cleared: result and error are
// mutually exclusive in terminal states.
func (q *Queue) MarkCompleted(ctx context.Context, id string, result any) error {
	rawResult, err := json.Marshal(result)
	if err != nil {
		return q.MarkFailed(ctx, id, fmt.Sprintf("result not serializable: %v", err))
	}

	return q.update(ctx, id, func(job *types.Job) error {
		now := time.Now().UTC()
		job.Status = types.JobCompleted
		job.Result = rawResult
		job.Error = ""
		job.Progress = 100
		job.CompletedAt = &now
		return nil
	})
}

// MarkFailed records the error and transitions the job to failed.
// The result field is cleared.
func (q *Queue) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return q.update(ctx, id, func(job *types.Job) error {
		now := time.Now().UTC()
		job.Status = types.JobFailed
		job.Error = errMsg
		job.Result = nil
		job.FailedAt = &now
		return nil
	})
}

// SetProgress updates progress (0-100) and the progress message. The queue
// does not enforce monotonicity; processors are expected to report
// non-decreasing values.
func (q *Queue) SetProgress(ctx context.Context, id string, progress int, message string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return q.update(ctx, id, func(job *types.Job) error {
		job.Progress = progress
		job.ProgressMessage = message
		return nil
	})
}

// Ping checks whether the backing store is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.redis.Ping(ctx).Err()
}

// load fetches and decodes a job record.
func (q *Queue) load(ctx context.Context, id string) (*types.Job, error) {
	data, err := q.redis.Get(ctx, jobKey(id)).Result()
	if err == redis.Nil {
		return nil, types.Errorf(types.ErrJobNotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var job types.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// store writes the job record and refreshes its retention timer.
func (q *Queue) store(ctx context.Context, job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	if err := q.redis.Set(ctx, jobKey(job.ID), data, q.cfg.Retention).Err(); err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	return nil
}

// update applies a mutation to the stored record, refusing any write that
// would move a job out of a terminal state. Status transitions are
// monotonic: pending -> processing -> completed|failed, and stop there.
func (q *Queue) update(ctx context.Context, id string, mutate func(*types.Job) error) error {
	job, err := q.load(ctx, id)
	if err != nil {
		return err
	}

	if job.Terminal() {
		return types.Errorf(types.ErrJobTerminal, "job %s is already %s", id, job.Status)
	}

	if err := mutate(job); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()

	return q.store(ctx, job)
}
