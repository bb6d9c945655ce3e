// Package main provides the Bananas worker service for processing background jobs.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muaviaUsmani/bananas/internal/config"
	"github.com/muaviaUsmani/bananas/internal/logger"
	"github.com/muaviaUsmani/bananas/internal/metrics"
	"github.com/muaviaUsmani/bananas/internal/queue"
	"github.com/muaviaUsmani/bananas/internal/result"
	"github.com/muaviaUsmani/bananas/internal/stalled"
	"github.com/muaviaUsmani/bananas/internal/worker"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	workerCfg, err := config.LoadWorkerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load worker config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()

	logger.SetDefault(log)
	workerLog := log.WithComponent(logger.ComponentWorker).WithSource(logger.LogSourceInternal)

	workerLog.Info("Worker starting",
		"mode", workerCfg.Mode,
		"concurrency", workerCfg.Concurrency,
		"queue", cfg.QueueName,
		"lock_ttl", cfg.LockTTL,
		"redis_url", cfg.RedisURL)
	workerLog.Info("Worker configuration details", "config", workerCfg.String())

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6061"
	}
	go func() {
		workerLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		server := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			workerLog.Error("pprof server failed", "error", err)
		}
	}()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		workerLog.Error("Failed to parse Redis URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(opts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			workerLog.Error("Failed to close Redis client", "error", err)
		}
	}()

	redisQueue, err := queue.NewRedisQueue(redisClient, cfg.QueueName, queue.Config{
		LockTTL:         cfg.LockTTL,
		CompletedJobTTL: cfg.CompletedJobTTL,
		FailedJobTTL:    cfg.FailedJobTTL,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	})
	if err != nil {
		workerLog.Error("Failed to construct queue", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisQueue.Close(); err != nil {
			workerLog.Error("Failed to close Redis queue", "error", err)
		}
	}()

	var resultBackend result.Backend
	if cfg.ResultBackendEnabled {
		resultBackend = result.NewRedisBackend(redisClient, cfg.ResultBackendTTLSuccess, cfg.ResultBackendTTLFailure)
		workerLog.Info("Result backend enabled",
			"success_ttl", cfg.ResultBackendTTLSuccess,
			"failure_ttl", cfg.ResultBackendTTLFailure)
	}

	registry := worker.NewRegistry()

	// TODO: Replace example handlers with your actual job handlers
	registry.Register("count_items", worker.HandleCountItems)
	registry.Register("send_email", worker.HandleSendEmail)
	registry.Register("process_data", worker.HandleProcessData)

	workerLog.Info("Registered job handlers", "count", registry.Count())

	executor := worker.NewExecutor(registry, redisQueue)
	if resultBackend != nil {
		executor.SetResultBackend(resultBackend)
	}

	pool := worker.NewPoolWithConfig(executor, redisQueue, workerCfg, cfg.LockTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	pool.Start(ctx)

	stalledChecker := stalled.NewChecker(redisQueue, cfg.StalledCheckInterval, cfg.MaxStalledJobRetries)
	go stalledChecker.Start(ctx)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := metrics.GetMetrics()
				workerLog.Info("System metrics",
					"jobs_processed", m.TotalJobsProcessed,
					"jobs_completed", m.TotalJobsCompleted,
					"jobs_failed", m.TotalJobsFailed,
					"avg_duration_ms", m.AvgJobDuration.Milliseconds(),
					"worker_utilization", fmt.Sprintf("%.1f%%", m.WorkerUtilization),
					"error_rate", fmt.Sprintf("%.2f%%", m.ErrorRate),
					"uptime", m.Uptime.String(),
				)
			}
		}
	}()

	sig := <-sigChan
	workerLog.Info("Received shutdown signal, initiating graceful shutdown", "signal", sig)

	cancel()
	pool.Stop(true)

	workerLog.Info("Worker shut down successfully")
}
