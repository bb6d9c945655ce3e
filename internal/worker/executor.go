package worker

import (
	"context"
	"fmt"
	"time"

	berrors "github.com/muaviaUsmani/bananas/internal/errors"
	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/logger"
	"github.com/muaviaUsmani/bananas/internal/metrics"
	"github.com/muaviaUsmani/bananas/internal/result"
)

// Queue is the subset of RedisQueue an Executor needs to land the
// complete/fail transition for a job it already holds a reservation
// on.
type Queue interface {
	CompleteJob(ctx context.Context, jobID, token string, returnValue []byte, policy job.RemovePolicy) error
	FailJob(ctx context.Context, jobID, token, reason string, maxAttempts int, delays []time.Duration, policy job.RemovePolicy) (terminal bool, err error)
}

// Executor runs a job's registered handler and reports the outcome
// back to the queue.
type Executor struct {
	registry      *Registry
	queue         Queue
	resultBackend result.Backend
}

// NewExecutor creates a job executor bound to a handler registry and
// queue.
func NewExecutor(registry *Registry, queue Queue) *Executor {
	return &Executor{
		registry: registry,
		queue:    queue,
	}
}

// SetResultBackend sets the result backend for storing job results.
// Optional: if unset, results are not stored.
func (e *Executor) SetResultBackend(backend result.Backend) {
	e.resultBackend = backend
}

// ExecuteJob runs the handler registered for j.Name and drives the
// complete/fail transition with the fencing token Reserve returned.
// If token has gone stale by the time the transition lands (the
// stalled checker already reclaimed the job), CompleteJob/FailJob
// return a lock-lost error and the transition is not applied: the
// error is logged, and on the success path ExecuteJob also returns it
// wrapped. The result-backend entry stored before the transition is
// kept.
func (e *Executor) ExecuteJob(ctx context.Context, j *job.Job, token string) error {
	log := logger.Default().WithComponent(logger.ComponentWorker)

	handler, exists := e.registry.Get(j.Name)
	if !exists {
		reason := fmt.Sprintf("no handler registered for job: %s", j.Name)
		e.fail(ctx, j, token, reason)
		return fmt.Errorf("%s", reason)
	}

	metrics.Default().RecordJobStarted(j.Opts.Priority)
	start := time.Now()
	err := handler(ctx, j)
	duration := time.Since(start)

	if err != nil {
		var classified error = &berrors.HandlerFailedError{JobID: j.ID, Err: err}
		if ctx.Err() != nil && j.Opts.Timeout > 0 {
			classified = &berrors.HandlerTimeoutError{JobID: j.ID, Timeout: j.Opts.Timeout}
		}
		reason := classified.Error()
		log.Warn("job failed", "job_id", j.ID, "job_name", j.Name, "error", reason, "duration", duration)
		metrics.Default().RecordJobFailed(j.Opts.Priority, duration)
		e.storeResult(ctx, j.ID, job.StatusFailed, nil, reason, duration)
		e.fail(ctx, j, token, reason)
		return classified
	}

	log.Info("job completed", "job_id", j.ID, "job_name", j.Name, "duration", duration)
	metrics.Default().RecordJobCompleted(j.Opts.Priority, duration)
	e.storeResult(ctx, j.ID, job.StatusCompleted, j.ReturnValue, "", duration)

	if err := e.queue.CompleteJob(ctx, j.ID, token, j.ReturnValue, j.Opts.RemoveOnComplete); err != nil {
		log.Error("failed to mark job completed", "job_id", j.ID, "error", err)
		return fmt.Errorf("job succeeded but queue completion failed: %w", err)
	}
	return nil
}

// fail computes the per-attempt backoff schedule for j and reports the
// failure to the queue, which decides retry vs. terminal based on
// AttemptsMade against maxAttempts.
func (e *Executor) fail(ctx context.Context, j *job.Job, token, reason string) {
	delays := make([]time.Duration, j.Opts.Attempts+1)
	for attempt := 1; attempt <= j.Opts.Attempts; attempt++ {
		delays[attempt] = j.Opts.Backoff.ComputeDelay(attempt)
	}
	if _, err := e.queue.FailJob(ctx, j.ID, token, reason, j.Opts.Attempts, delays, j.Opts.RemoveOnFail); err != nil {
		logger.Default().WithComponent(logger.ComponentWorker).Error("failed to mark job failed", "job_id", j.ID, "error", err)
	}
}

// storeResult is best-effort: failures are logged but never fail the
// job itself.
func (e *Executor) storeResult(ctx context.Context, jobID string, status job.Status, resultData []byte, errorMsg string, duration time.Duration) {
	if e.resultBackend == nil {
		return
	}

	res := &job.JobResult{
		JobID:       jobID,
		Status:      status,
		Result:      resultData,
		Error:       errorMsg,
		CompletedAt: time.Now(),
		Duration:    duration,
	}

	if err := e.resultBackend.StoreResult(ctx, res); err != nil {
		logger.Default().WithComponent(logger.ComponentWorker).Error("failed to store result", "job_id", jobID, "error", err)
	}
}
