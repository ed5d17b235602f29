package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Producer submits scan jobs to the queue a worker consumes.
type Producer interface {
	Enqueue(ctx context.Context, payload *JobPayload) (string, error)
	Close() error
}

// ProducerConfig selects the driver and queue
type ProducerConfig struct {
	Driver     string // "redis" or "asynq"
	RedisURL   string
	QueueName  string
	MaxRetries int
}

// NewProducer returns the producer matching cfg.Driver.
func NewProducer(cfg *ProducerConfig) (Producer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "sheetscan:jobs"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	switch cfg.Driver {
	case "", "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		return &RedisProducer{client: redis.NewClient(opt), keys: newQueueKeys(cfg.QueueName), maxRetries: cfg.MaxRetries}, nil
	case "asynq":
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		return &AsynqProducer{client: asynq.NewClient(redisOpt), queue: cfg.QueueName, maxRetries: cfg.MaxRetries}, nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

// RedisProducer writes jobs in the layout RedisConsumer reads.
type RedisProducer struct {
	client     *redis.Client
	keys       queueKeys
	maxRetries int
}

// Enqueue stores the job body and pushes its ID onto the list.
func (p *RedisProducer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	job, err := newRedisJob(payload, p.maxRetries, time.Now())
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, p.keys.data, job.ID, data)
	pipe.LPush(ctx, p.keys.list, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job.ID, nil
}

func (p *RedisProducer) Close() error { return p.client.Close() }

// newRedisJob assigns a job ID when the payload has none.
func newRedisJob(payload *JobPayload, maxRetries int, now time.Time) (*RedisJobData, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &RedisJobData{
		ID:         payload.JobID,
		Type:       TaskTypeScanSheet,
		Payload:    *payload,
		CreatedAt:  now.UTC(),
		MaxRetries: maxRetries,
	}, nil
}

// AsynqProducer enqueues scan-sheet tasks for Consumer.
type AsynqProducer struct {
	client     *asynq.Client
	queue      string
	maxRetries int
}

func (p *AsynqProducer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	task, err := NewScanSheetTask(payload)
	if err != nil {
		return "", err
	}
	info, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(p.queue),
		asynq.MaxRetry(p.maxRetries),
		asynq.TaskID(payload.JobID))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info.ID, nil
}

func (p *AsynqProducer) Close() error { return p.client.Close() }
