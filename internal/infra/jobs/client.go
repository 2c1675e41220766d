package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/entitlements/pkg/logger"
)

// Client manages enqueueing background jobs using Asynq.
// It implements app.BillingJobDispatcher.
type Client struct {
	client    *asynq.Client
	logger    *logger.Logger
	uniqueFor time.Duration
	now       func() time.Time
}

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// UniqueFor is how long an enqueued billing task blocks identical ones.
	// Should not exceed the sweep interval.
	UniqueFor time.Duration
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	return &Client{
		client:    asynq.NewClient(redisOpt),
		logger:    log.With("component", "job_client"),
		uniqueFor: cfg.UniqueFor,
		now:       time.Now,
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// DispatchStatusTransitions enqueues a status-transition sweep.
func (c *Client) DispatchStatusTransitions(ctx context.Context) error {
	task, err := NewProcessTransitionsTask(BillingTaskPayload{RequestedAt: c.now().UTC()}, c.uniqueFor)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return c.enqueue(ctx, task)
}

// DispatchUsageSnapshots enqueues a usage snapshot job.
func (c *Client) DispatchUsageSnapshots(ctx context.Context) error {
	task, err := NewUsageSnapshotTask(BillingTaskPayload{RequestedAt: c.now().UTC()}, c.uniqueFor)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return c.enqueue(ctx, task)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) error {
	info, err := c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		c.logger.Debug("billing task already queued", "type", task.Type())
		return nil
	}
	if err != nil {
		c.logger.Error("failed to enqueue billing task", "type", task.Type(), "error", err)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("billing task queued",
		"task_id", info.ID,
		"type", task.Type(),
		"queue", info.Queue,
	)
	return nil
}
