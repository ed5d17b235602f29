/**
 * Direct Redis Queue Consumer for the SheetScan Worker
 *
 * Compatible with the TypeScript RedisQueue implementation used by the
 * upload API: job IDs are pushed onto a LIST and job bodies live in the
 * "<queue>:data" HASH.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/adverant/nexus/sheetscan-worker/internal/errors"
	"github.com/adverant/nexus/sheetscan-worker/internal/logging"
	"github.com/adverant/nexus/sheetscan-worker/internal/processor"
	"github.com/redis/go-redis/v9"
)

var errNoJobs = stderrors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client *redis.Client
	runner *jobRunner
	config *RedisConsumerConfig
	keys   queueKeys
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.SheetProcessorInterface
	ProcessingTimeout int64 // milliseconds
}

// queueKeys names the Redis structures that hang off one queue.
type queueKeys struct {
	list       string
	data       string
	processing string
	completed  string
	failed     string
	results    string
	errors     string
	events     string
}

func newQueueKeys(queue string) queueKeys {
	return queueKeys{
		list:       queue,
		data:       queue + ":data",
		processing: queue + ":processing",
		completed:  queue + ":completed",
		failed:     queue + ":failed",
		results:    queue + ":results",
		errors:     queue + ":errors",
		events:     queue + ":events",
	}
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "sheetscan:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	logger := logging.NewLogger("RedisConsumer")

	return &RedisConsumer{
		client: client,
		runner: newJobRunner(cfg.Processor, cfg.ProcessingTimeout, logger),
		config: cfg,
		keys:   newQueueKeys(cfg.QueueName),
		logger: logger,
		ctx:    consumerCtx,
		cancel: cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	logger := c.logger.With(fmt.Sprintf("worker-%d", id))
	logger.Debug("Worker started")

	for {
		select {
		case <-c.ctx.Done():
			logger.Debug("Worker stopping")
			return
		default:
			if err := c.processNextJob(); err != nil {
				if stderrors.Is(err, errNoJobs) {
					continue
				}
				if c.ctx.Err() != nil {
					return
				}
				logger.Error("Worker error", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	// Block for up to 5 seconds waiting for a job
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.keys.list).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	id := result[1]

	// The job left the list with BRPOP; everything after this point must
	// finish even if Stop cancels c.ctx, or the job is lost.
	ctx := jobContext(c.ctx)

	jobData, err := c.client.HGet(ctx, c.keys.data, id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		// Undecodable jobs can never succeed; park them with the failures.
		c.markFailed(ctx, id, map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}

	c.markProcessing(ctx, job.Payload.JobID)
	c.logger.Info("Processing job", "jobId", job.Payload.JobID, "filename", job.Payload.Filename, "attempt", job.Attempts+1)

	outcome, err := c.runner.run(ctx, &job.Payload)
	if err != nil {
		job.Attempts++
		if shouldRetry(err, job.Attempts, job.MaxRetries) {
			if requeueErr := c.requeue(ctx, &job); requeueErr != nil {
				c.markFailed(ctx, job.Payload.JobID, map[string]interface{}{
					"error":    err.Error(),
					"attempts": job.Attempts,
					"requeue":  requeueErr.Error(),
				})
				return requeueErr
			}
			c.logger.Warn("Job re-queued for retry",
				"jobId", job.Payload.JobID, "attempt", job.Attempts, "maxRetries", job.MaxRetries)
			return nil
		}
		c.markFailed(ctx, job.Payload.JobID, map[string]interface{}{
			"error":    err.Error(),
			"attempts": job.Attempts,
		})
		return nil
	}

	c.markCompleted(ctx, job.Payload.JobID, outcome)
	return nil
}

// jobContext keeps the parent's values but not its cancellation. The
// runner still bounds each job with the processing timeout.
func jobContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// requeue stores the updated attempt count and pushes the job back on the list.
func (c *RedisConsumer) requeue(ctx context.Context, job *RedisJobData) error {
	updatedData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.keys.data, job.ID, updatedData)
	pipe.SRem(ctx, c.keys.processing, job.Payload.JobID)
	pipe.LPush(ctx, c.keys.list, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to re-queue job %s: %w", job.ID, err)
	}
	return nil
}

// shouldRetry reports whether a failed job goes back on the queue.
func shouldRetry(err error, attempts, maxRetries int) bool {
	return !errors.IsPermanent(err) && attempts < maxRetries
}

func (c *RedisConsumer) markProcessing(ctx context.Context, jobID string) {
	if err := c.client.SAdd(ctx, c.keys.processing, jobID).Err(); err != nil {
		c.logger.Warn("Failed to record processing in Redis", "jobId", jobID, "error", err)
	}
	c.publish(ctx, jobID, StatusProcessing)
}

func (c *RedisConsumer) markCompleted(ctx context.Context, jobID string, outcome *processor.ScanOutcome) {
	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.keys.processing, jobID)
	pipe.SAdd(ctx, c.keys.completed, jobID)
	if resultData, err := json.Marshal(outcome); err == nil {
		pipe.HSet(ctx, c.keys.results, jobID, resultData)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to record completion in Redis", "jobId", jobID, "error", err)
	}
	c.publish(ctx, jobID, StatusCompleted)
}

func (c *RedisConsumer) markFailed(ctx context.Context, jobID string, details map[string]interface{}) {
	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.keys.processing, jobID)
	pipe.SAdd(ctx, c.keys.failed, jobID)
	if errorData, err := json.Marshal(details); err == nil {
		pipe.HSet(ctx, c.keys.errors, jobID, errorData)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to record failure in Redis", "jobId", jobID, "error", err)
	}
	c.publish(ctx, jobID, StatusFailed)
}

// publish emits a job event for WebSocket streaming
func (c *RedisConsumer) publish(ctx context.Context, jobID, status string) {
	eventData, _ := json.Marshal(jobEvent(jobID, status, time.Now()))
	c.client.Publish(ctx, c.keys.events, eventData)
}

func jobEvent(jobID, status string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"event":     "job:" + status,
		"jobId":     jobID,
		"timestamp": at.Format(time.RFC3339),
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats() (map[string]int64, error) {
	ctx := context.Background()

	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.keys.list)
	processing := pipe.SCard(ctx, c.keys.processing)
	completed := pipe.SCard(ctx, c.keys.completed)
	failed := pipe.SCard(ctx, c.keys.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
