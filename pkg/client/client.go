// Package client provides a simple API for submitting and managing
// jobs against a Bananas queue from outside the worker process.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/queue"
	"github.com/muaviaUsmani/bananas/internal/result"
	"github.com/redis/go-redis/v9"
)

// Client provides a simple API for submitting and managing jobs.
type Client struct {
	queue         *queue.RedisQueue
	resultBackend result.Backend
}

// NewClient creates a new job client connected to Redis. The result
// backend is enabled by default with standard TTLs (1h success, 24h
// failure).
func NewClient(redisURL, queueName string) (*Client, error) {
	return NewClientWithConfig(redisURL, queueName, queue.Config{}, 1*time.Hour, 24*time.Hour)
}

// NewClientWithConfig creates a new job client with an explicit queue
// configuration and result-backend TTLs.
func NewClientWithConfig(redisURL, queueName string, cfg queue.Config, successTTL, failureTTL time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisClient := redis.NewClient(opts)

	q, err := queue.NewRedisQueue(redisClient, queueName, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to construct queue: %w", err)
	}

	resultBackend := result.NewRedisBackend(redisClient, successTTL, failureTTL)

	return &Client{
		queue:         q,
		resultBackend: resultBackend,
	}, nil
}

// SubmitJob marshals payload to JSON and enqueues it onto this
// client's queue with the given dispatch options. Returns the
// enqueued job.
func (c *Client) SubmitJob(ctx context.Context, payload interface{}, opts job.DispatchOptions) (*job.Job, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	j, err := c.queue.Add(ctx, payloadBytes, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return j, nil
}

// SubmitJobWithRoute is a convenience wrapper setting opts.RoutingKey
// before dispatch.
func (c *Client) SubmitJobWithRoute(ctx context.Context, payload interface{}, opts job.DispatchOptions, routingKey string) (*job.Job, error) {
	opts.RoutingKey = routingKey
	return c.SubmitJob(ctx, payload, opts)
}

// SubmitJobScheduled is a convenience wrapper computing opts.Delay
// from scheduledFor so the job lands in the delayed set and the
// promotion loop picks it up once it's due.
func (c *Client) SubmitJobScheduled(ctx context.Context, payload interface{}, opts job.DispatchOptions, scheduledFor time.Time) (*job.Job, error) {
	delay := time.Until(scheduledFor)
	if delay < 0 {
		delay = 0
	}
	opts.Delay = delay
	return c.SubmitJob(ctx, payload, opts)
}

// GetJob retrieves a job by its ID from Redis. It returns nil and no
// error when no job with that ID exists.
func (c *Client) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	j, err := c.queue.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// GetResult retrieves the result of a completed job by its ID. Returns
// nil if the job hasn't completed yet or if the result has expired.
func (c *Client) GetResult(ctx context.Context, jobID string) (*job.JobResult, error) {
	res, err := c.resultBackend.GetResult(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return res, nil
}

// SubmitAndWait submits a job and blocks until it completes or timeout
// is reached - a convenience for RPC-style task execution.
func (c *Client) SubmitAndWait(ctx context.Context, payload interface{}, opts job.DispatchOptions, timeout time.Duration) (*job.JobResult, error) {
	j, err := c.SubmitJob(ctx, payload, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}

	res, err := c.resultBackend.WaitForResult(ctx, j.ID, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for result: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("job did not complete within timeout of %v", timeout)
	}
	return res, nil
}

// Close closes the underlying Redis connections.
func (c *Client) Close() error {
	var queueErr, resultErr error

	if c.queue != nil {
		queueErr = c.queue.Close()
	}
	if c.resultBackend != nil {
		resultErr = c.resultBackend.Close()
	}

	if queueErr != nil {
		return queueErr
	}
	return resultErr
}
