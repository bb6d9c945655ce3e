// Package stalled runs the periodic sweep that reclaims jobs whose
// lock expired without a heartbeat — a worker process that crashed or
// hung mid-handler. Ticker shape mirrors internal/scheduler's
// CronScheduler/PromoteLoop.
package stalled

import (
	"context"
	"time"

	berrors "github.com/muaviaUsmani/bananas/internal/errors"
	"github.com/muaviaUsmani/bananas/internal/logger"
)

// Reclaimer is the subset of RedisQueue the checker needs.
type Reclaimer interface {
	ReclaimStalled(ctx context.Context, maxRetries int) (reclaimed, failedCount int64, err error)
}

// Checker periodically scans for stalled jobs, returning under-limit
// ones to waiting and terminating over-limit ones as failed.
type Checker struct {
	queue      Reclaimer
	interval   time.Duration
	maxRetries int
	log        logger.Logger
}

// NewChecker builds a Checker polling queue every interval. maxRetries
// bounds how many times a single job may be reclaimed before the
// checker gives up on it and fails it with reason "stalled".
func NewChecker(queue Reclaimer, interval time.Duration, maxRetries int) *Checker {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Checker{
		queue:      queue,
		interval:   interval,
		maxRetries: maxRetries,
		log:        logger.Default().WithComponent(logger.ComponentStalled),
	}
}

// Start runs the checker loop until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) {
	c.log.Info("stalled-job checker started", "interval", c.interval, "max_retries", c.maxRetries)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("stalled-job checker stopping")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Checker) tick(ctx context.Context) {
	reclaimed, failed, err := c.queue.ReclaimStalled(ctx, c.maxRetries)
	if err != nil {
		wrapped := &berrors.TransportError{Op: "reclaim_stalled", Err: err}
		c.log.Error("reclaim stalled failed", "error", wrapped)
		return
	}
	if reclaimed > 0 || failed > 0 {
		c.log.Warn("reclaimed stalled jobs", "reclaimed", reclaimed, "failed", failed)
	}
}
