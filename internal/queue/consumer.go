/**
 * Queue Consumer for the structa worker
 *
 * Consumes structure-document tasks with Asynq. Asynq keeps retry state
 * itself, so a job is only marked failed on its last attempt or when the
 * error cannot be fixed by retrying.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
	"github.com/Sireeshreddy01/structa-ai/internal/processor"
	"github.com/hibiken/asynq"
)

// TaskStructureDocument is the task type carrying a JobPayload
const TaskStructureDocument = "structure-document"

// Consumer handles job consumption from Redis queue
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	runner    *runner
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	MaxRetry          int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout int64 // milliseconds
}

// NewStructureTask builds a task for payload on queueName
func NewStructureTask(payload *JobPayload, queueName string, maxRetry int, timeout time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	opts := []asynq.Option{asynq.Queue(queueName), asynq.MaxRetry(maxRetry), asynq.TaskID(payload.JobID)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TaskStructureDocument, data, opts...), nil
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("AsynqConsumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// 5s, 10s, 20s, ... capped at a minute
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				logger.Error("Task processing error", "type", task.Type(), "retried", retried, "error", err)
			}),
			Logger:   logging.Base(),
			LogLevel: asynq.InfoLevel,
		},
	)

	consumer := &Consumer{
		client:    asynq.NewClient(redisOpt),
		server:    server,
		inspector: asynq.NewInspector(redisOpt),
		mux:       asynq.NewServeMux(),
		runner:    newRunner(cfg.Processor, cfg.ProcessingTimeout, logger),
		config:    cfg,
		logger:    logger,
	}

	consumer.mux.HandleFunc(TaskStructureDocument, consumer.handleStructureDocument)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")

	c.server.Shutdown()

	if err := c.inspector.Close(); err != nil {
		c.logger.Warn("Failed to close inspector", "error", err)
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	c.logger.Info("Queue consumer stopped")
	return nil
}

// Enqueue submits a job to the consumer's queue
func (c *Consumer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	task, err := NewStructureTask(payload, c.config.QueueName, c.config.MaxRetry, 0)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return info.ID, nil
}

// handleStructureDocument processes one structure-document task
func (c *Consumer) handleStructureDocument(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}

	_, err := c.runner.run(ctx, &payload)
	if err == nil {
		return nil
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if !errors.Retryable(err) {
		c.runner.markFailed(ctx, payload.JobID, err, retried+1)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if retried >= maxRetry {
		c.runner.markFailed(ctx, payload.JobID, err, retried+1)
	}
	return fmt.Errorf("document processing failed: %w", err)
}

// GetStats returns queue statistics
func (c *Consumer) GetStats(ctx context.Context) (map[string]int64, error) {
	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return map[string]int64{
		"waiting":    int64(info.Pending + info.Scheduled + info.Retry),
		"processing": int64(info.Active),
		"completed":  int64(info.Completed),
		"failed":     int64(info.Archived),
	}, nil
}

// Ping checks Redis connectivity
func (c *Consumer) Ping(ctx context.Context) error {
	_, err := c.inspector.Queues()
	return err
}
