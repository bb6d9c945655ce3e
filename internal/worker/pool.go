package worker

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/muaviaUsmani/bananas/internal/config"
	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/logger"
	"github.com/muaviaUsmani/bananas/internal/metrics"
	"github.com/muaviaUsmani/bananas/internal/queue"
)

// Reserver is the subset of RedisQueue a Pool needs to pull jobs and
// keep their reservation alive while a handler runs.
type Reserver interface {
	Reserve(ctx context.Context, token string) (*job.Job, queue.ScriptResult, error)
	ExtendLock(ctx context.Context, jobID, token string) (bool, error)
}

// Pool runs a fixed number of worker goroutines, each repeatedly
// reserving a job, executing it, and extending its lock on a
// heartbeat while the handler is in flight.
type Pool struct {
	executor      *Executor
	queue         Reserver
	workerConfig  *config.WorkerConfig
	lockTTL       time.Duration
	pollInterval  time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	stopOnce      sync.Once
	activeWorkers atomic.Int64
}

// NewPoolWithConfig creates a worker pool. lockTTL must match the
// queue's own Config.LockTTL - the heartbeat extends at lockTTL/3, the
// same margin the teacher used for its distributed-lock heartbeat.
func NewPoolWithConfig(executor *Executor, q Reserver, workerConfig *config.WorkerConfig, lockTTL time.Duration) *Pool {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Pool{
		executor:     executor,
		queue:        q,
		workerConfig: workerConfig,
		lockTTL:      lockTTL,
		pollInterval: 200 * time.Millisecond,
		stopChan:     make(chan struct{}),
	}
}

// Start begins processing jobs from the queue with the configured
// concurrency. A scheduler-only worker runs no job goroutines.
func (p *Pool) Start(ctx context.Context) {
	logger.Info("starting worker pool",
		"mode", p.workerConfig.Mode,
		"workers", p.workerConfig.Concurrency,
		"config", p.workerConfig.String())

	if p.workerConfig.Mode == config.WorkerModeSchedulerOnly {
		return
	}

	for i := 0; i < p.workerConfig.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i+1)
	}
}

// Stop shuts down the worker pool. When wait is true it blocks, waiting
// up to 30 seconds for in-flight jobs to finish. When wait is false it
// signals workers to stop taking new reservations and returns
// immediately - any job already in flight is detached: its lock
// expires on its own and the stalled checker reclaims it.
func (p *Pool) Stop(wait bool) {
	logger.Info("stopping worker pool", "wait", wait)
	p.closeStop()

	if !wait {
		return
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("worker pool stopped gracefully")
	case <-time.After(30 * time.Second):
		logger.Warn("worker pool shutdown timed out", "timeout", "30s")
	}
}

// closeStop closes stopChan exactly once, whether triggered by an
// external Stop call or a worker goroutine hitting one of its own
// limits.
func (p *Pool) closeStop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
}

func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	log := logger.Default().WithComponent(logger.ComponentWorker)

	defer func() {
		if r := recover(); r != nil {
			log.Error("worker recovered from panic, worker terminated",
				"worker_id", workerID, "panic_value", r, "stack_trace", string(debug.Stack()))
		}
	}()

	log.Info("worker started", "worker_id", workerID)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	start := time.Now()
	jobsProcessed := 0

	for {
		select {
		case <-p.stopChan:
			log.Info("worker stopping", "worker_id", workerID)
			return
		case <-ctx.Done():
			log.Info("worker stopping due to context cancellation", "worker_id", workerID)
			return
		case <-ticker.C:
			if reason, exceeded := p.limitExceeded(start, jobsProcessed); exceeded {
				log.Info("worker hit a configured limit, stopping pool cleanly",
					"worker_id", workerID, "reason", reason)
				p.closeStop()
				return
			}
			if p.reserveAndRun(ctx, workerID, log) {
				jobsProcessed++
			}
		}
	}
}

// limitExceeded checks the maxJobs/maxTime/memory limits configured
// for this pool between reservations. A zero limit is disabled.
func (p *Pool) limitExceeded(start time.Time, jobsProcessed int) (string, bool) {
	cfg := p.workerConfig
	if cfg == nil {
		return "", false
	}
	if cfg.MaxJobs > 0 && jobsProcessed >= cfg.MaxJobs {
		return fmt.Sprintf("maxJobs=%d reached", cfg.MaxJobs), true
	}
	if cfg.MaxTime > 0 && time.Since(start) >= cfg.MaxTime {
		return fmt.Sprintf("maxTime=%v reached", cfg.MaxTime), true
	}
	if cfg.MaxMemoryBytes > 0 {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		if int64(mem.Sys) >= cfg.MaxMemoryBytes {
			return fmt.Sprintf("memory=%d bytes reached (limit %d)", mem.Sys, cfg.MaxMemoryBytes), true
		}
	}
	return "", false
}

// reserveAndRun makes one Reserve attempt and, if a job came back,
// runs it to completion before returning. Reserve itself is a single
// atomic round trip so a tight poll loop is cheap against an empty
// queue - no blocking list pop is exposed by the engine. Reports
// whether a job was actually reserved and run, so the caller can count
// it against maxJobs.
func (p *Pool) reserveAndRun(ctx context.Context, workerID int, log logger.Logger) bool {
	token := uuid.New().String()
	j, res, err := p.queue.Reserve(ctx, token)
	if err != nil {
		log.Warn("reserve failed", "worker_id", workerID, "error", err)
		return false
	}
	if res.Tag != "ok" || j == nil {
		return false
	}

	p.runJob(ctx, workerID, j, token, log)
	return true
}

// runJob executes a reserved job under a heartbeat that extends its
// lock at lockTTL/3 intervals, and under the job's own Opts.Timeout if
// one was set. A handler panic is recovered and reported as a normal
// job failure rather than taking the worker down.
func (p *Pool) runJob(ctx context.Context, workerID int, j *job.Job, token string, log logger.Logger) {
	active := p.activeWorkers.Add(1)
	metrics.Default().RecordWorkerActivity(active, int64(p.workerConfig.Concurrency))
	defer func() {
		active := p.activeWorkers.Add(-1)
		metrics.Default().RecordWorkerActivity(active, int64(p.workerConfig.Concurrency))
	}()

	jobCtx := ctx
	var cancelTimeout context.CancelFunc
	if j.Opts.Timeout > 0 {
		jobCtx, cancelTimeout = context.WithTimeout(ctx, j.Opts.Timeout)
		defer cancelTimeout()
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(jobCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go p.heartbeat(heartbeatCtx, &hbWG, j.ID, token, log)

	defer func() {
		if r := recover(); r != nil {
			stackTrace := string(debug.Stack())
			log.Error("job panicked, marking as failed",
				"worker_id", workerID, "job_id", j.ID, "job_name", j.Name,
				"panic_value", r, "stack_trace", stackTrace)
			p.executor.fail(ctx, j, token, fmt.Sprintf("panic: %v\n\n%s", r, stackTrace))
		}
		stopHeartbeat()
		hbWG.Wait()
	}()

	log.Info("processing job", "worker_id", workerID, "job_id", j.ID, "job_name", j.Name, "priority", j.Opts.Priority)
	if err := p.executor.ExecuteJob(jobCtx, j, token); err != nil {
		log.Debug("job execution returned error", "worker_id", workerID, "job_id", j.ID, "error", err)
	}
}

func (p *Pool) heartbeat(ctx context.Context, wg *sync.WaitGroup, jobID, token string, log logger.Logger) {
	defer wg.Done()

	ticker := time.NewTicker(p.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := p.queue.ExtendLock(ctx, jobID, token)
			if err != nil {
				log.Warn("extend lock failed", "job_id", jobID, "error", err)
				continue
			}
			if !ok {
				log.Warn("lock lost, another worker may reclaim this job", "job_id", jobID)
				return
			}
		}
	}
}
