/**
 * Direct Redis Queue Consumer for the structa worker
 *
 * Producers LPUSH a job ID onto <queue> and store the job record in the
 * <queue>:data hash. Workers BRPOP IDs, track them in the processing,
 * completed and failed sets, write results and errors to hashes and
 * publish job events on <queue>:events.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
	"github.com/Sireeshreddy01/structa-ai/internal/processor"
	"github.com/redis/go-redis/v9"
)

// errNoJob means BRPOP timed out with an empty queue
var errNoJob = stderrors.New("no jobs available")

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
	runner *runner
	config *RedisConsumerConfig
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
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout int64 // milliseconds
	PollTimeout       time.Duration
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisConsumer(client, cfg)
}

func newRedisConsumer(client *redis.Client, cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.QueueName == "" {
		cfg.QueueName = "structa:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}

	logger := logging.NewLogger("RedisConsumer")
	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client: client,
		runner: newRunner(cfg.Processor, cfg.ProcessingTimeout, logger),
		config: cfg,
		logger: logger,
		ctx:    consumerCtx,
		cancel: cancel,
	}, nil
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop cancels the workers, waits for in-flight jobs and closes the client
func (c *RedisConsumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("Timed out waiting for workers", "error", ctx.Err())
	}
	return c.client.Close()
}

// Enqueue stores a job record and pushes its ID onto the queue
func (c *RedisConsumer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	job := RedisJobData{
		ID:         payload.JobID,
		Type:       TaskStructureDocument,
		Payload:    *payload,
		CreatedAt:  time.Now(),
		MaxRetries: 3,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key("data"), job.ID, data)
		pipe.LPush(ctx, c.config.QueueName, job.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
		}

		err := c.processNextJob()
		switch {
		case err == nil, stderrors.Is(err, errNoJob):
		case c.ctx.Err() != nil:
			return
		default:
			c.logger.Error("Worker error", "worker", id, "error", err)
			select {
			case <-time.After(time.Second):
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, c.config.PollTimeout, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJob
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	jobID := result[1]

	// Jobs are finished even when Stop is called mid-way
	ctx := context.WithoutCancel(c.ctx)

	jobData, err := c.client.HGet(ctx, c.key("data"), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", jobID, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.finish(ctx, jobID, "failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}

	c.track(ctx, job.Payload.JobID)

	processResult, err := c.runner.run(ctx, &job.Payload)
	if err == nil {
		c.finish(ctx, job.Payload.JobID, "completed", processResult)
		return nil
	}

	job.Attempts++
	if errors.Retryable(err) && job.Attempts < job.MaxRetries {
		c.requeue(ctx, &job)
		return nil
	}

	failure := c.runner.markFailed(ctx, job.Payload.JobID, err, job.Attempts)
	c.finish(ctx, job.Payload.JobID, "failed", failure)
	return nil
}

func (c *RedisConsumer) requeue(ctx context.Context, job *RedisJobData) {
	updated, err := json.Marshal(job)
	if err != nil {
		c.logger.Error("Failed to marshal job for retry", "job_id", job.ID, "error", err)
		return
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key("data"), job.ID, updated)
		pipe.SRem(ctx, c.key("processing"), job.Payload.JobID)
		pipe.LPush(ctx, c.config.QueueName, job.ID)
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to re-queue job", "job_id", job.ID, "error", err)
		return
	}
	c.logger.Info(fmt.Sprintf("Job %s re-queued for retry", job.Payload.JobID),
		"attempt", job.Attempts, "max_retries", job.MaxRetries)
}

// track marks a job as processing
func (c *RedisConsumer) track(ctx context.Context, jobID string) {
	if err := c.client.SAdd(ctx, c.key("processing"), jobID).Err(); err != nil {
		c.logger.Warn("Failed to mark job processing", "job_id", jobID, "error", err)
	}
	c.publish(ctx, jobID, "processing")
}

// finish moves a job to the completed or failed set and stores its outcome
func (c *RedisConsumer) finish(ctx context.Context, jobID, status string, outcome interface{}) {
	hash := c.key("results")
	if status == "failed" {
		hash = c.key("errors")
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		c.logger.Warn("Failed to marshal job outcome", "job_id", jobID, "error", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, c.key("processing"), jobID)
		pipe.SAdd(ctx, c.key(status), jobID)
		if data != nil {
			pipe.HSet(ctx, hash, jobID, data)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Failed to record job outcome", "job_id", jobID, "status", status, "error", err)
	}
	c.publish(ctx, jobID, status)
}

// publish emits a job event for subscribers (e.g. WebSocket gateways)
func (c *RedisConsumer) publish(ctx context.Context, jobID, status string) {
	event, _ := json.Marshal(map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err := c.client.Publish(ctx, c.key("events"), event).Err(); err != nil {
		c.logger.Debug("Failed to publish job event", "job_id", jobID, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key("processing"))
	completed := pipe.SCard(ctx, c.key("completed"))
	failed := pipe.SCard(ctx, c.key("failed"))
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

// Ping checks Redis connectivity
func (c *RedisConsumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
