package scheduler

import (
	"context"
	"time"

	"github.com/muaviaUsmani/bananas/internal/logger"
)

// Promoter is the subset of RedisQueue the promotion loop needs.
type Promoter interface {
	PromoteDelayed(ctx context.Context, batchSize int) (moved int64, err error)
}

// PromoteLoop periodically moves ready delayed jobs onto their waiting
// list. Ticker shape mirrors CronScheduler.Start; unlike schedule
// dispatch this needs no distributed lock because promoteDelayed is
// itself atomic and idempotent (ZRANGEBYSCORE+ZREM in one script), so
// multiple instances promoting concurrently only race on who wins each
// job, never double-promote it.
type PromoteLoop struct {
	queue     Promoter
	interval  time.Duration
	batchSize int
	log       logger.Logger
}

// NewPromoteLoop builds a promotion loop polling queue every interval,
// moving up to batchSize ready jobs per tick.
func NewPromoteLoop(queue Promoter, interval time.Duration, batchSize int) *PromoteLoop {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &PromoteLoop{
		queue:     queue,
		interval:  interval,
		batchSize: batchSize,
		log:       logger.Default().WithComponent(logger.ComponentScheduler),
	}
}

// Start runs the promotion loop until ctx is cancelled.
func (p *PromoteLoop) Start(ctx context.Context) {
	p.log.Info("delayed-job promotion loop started", "interval", p.interval, "batch_size", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("delayed-job promotion loop stopping")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *PromoteLoop) tick(ctx context.Context) {
	moved, err := p.queue.PromoteDelayed(ctx, p.batchSize)
	if err != nil {
		p.log.Error("promote delayed failed", "error", err)
		return
	}
	if moved > 0 {
		p.log.Debug("promoted delayed jobs", "moved", moved)
	}
}
