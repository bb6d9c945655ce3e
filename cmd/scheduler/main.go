// Package main provides the Bananas scheduler service for managing cron-based job scheduling.
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
	"github.com/muaviaUsmani/bananas/internal/queue"
	"github.com/muaviaUsmani/bananas/internal/scheduler"
	"github.com/redis/go-redis/v9"
)

// connectWithRetry attempts to connect to Redis with exponential backoff.
func connectWithRetry(client *redis.Client, name string, cfg queue.Config, maxRetries int, log logger.Logger) (*queue.RedisQueue, error) {
	var redisQueue *queue.RedisQueue
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		redisQueue, err = queue.NewRedisQueue(client, name, cfg)
		if err == nil {
			if pingErr := client.Ping(context.Background()).Err(); pingErr == nil {
				return redisQueue, nil
			}
			err = client.Ping(context.Background()).Err()
		}

		// #nosec G115 - attempt is bounded by maxRetries parameter, overflow not possible
		delay := time.Duration(1<<uint(attempt)) * time.Second
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}

		log.Warn("Failed to connect to Redis, retrying",
			"attempt", attempt+1,
			"max_attempts", maxRetries,
			"error", err,
			"retry_in", delay)

		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, err)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
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
	schedulerLog := log.WithComponent(logger.ComponentScheduler).WithSource(logger.LogSourceInternal)

	schedulerLog.Info("Scheduler starting",
		"redis_url", cfg.RedisURL,
		"queue", cfg.QueueName,
		"max_retries", cfg.MaxRetries)

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6062"
	}
	go func() {
		schedulerLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		server := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			schedulerLog.Error("pprof server failed", "error", err)
		}
	}()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		schedulerLog.Error("Failed to parse Redis URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(opts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			schedulerLog.Error("Failed to close Redis client", "error", err)
		}
	}()

	redisQueue, err := connectWithRetry(redisClient, cfg.QueueName, queue.Config{
		LockTTL:         cfg.LockTTL,
		CompletedJobTTL: cfg.CompletedJobTTL,
		FailedJobTTL:    cfg.FailedJobTTL,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	}, 5, schedulerLog)
	if err != nil {
		schedulerLog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisQueue.Close(); err != nil {
			schedulerLog.Error("Failed to close Redis queue", "error", err)
		}
	}()

	schedulerLog.Info("Successfully connected to Redis")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cronScheduler *scheduler.CronScheduler
	if cfg.CronSchedulerEnabled {
		registry := scheduler.NewRegistry()

		// TODO: register your own schedules here, e.g.:
		// registry.MustRegister(&scheduler.Schedule{
		// 	ID:       "daily-report",
		// 	Cron:     "0 0 * * *",
		// 	Job:      "generate_report",
		// 	Priority: job.PriorityNormal,
		// 	Timezone: "UTC",
		// 	Enabled:  true,
		// })

		cronScheduler = scheduler.NewCronScheduler(registry, redisQueue, redisClient, cfg.CronSchedulerInterval)
		schedulerLog.Info("Cron scheduler initialized",
			"interval", cfg.CronSchedulerInterval,
			"schedules", registry.Count())

		go cronScheduler.Start(ctx)
	}

	promoteLoop := scheduler.NewPromoteLoop(redisQueue, cfg.PromoteInterval, cfg.PromoteBatchSize)
	go promoteLoop.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	schedulerLog.Info("Scheduler ready - monitoring schedules and delayed jobs")

	sig := <-sigChan
	schedulerLog.Info("Received shutdown signal, initiating graceful shutdown", "signal", sig)

	cancel()
	time.Sleep(2 * time.Second)

	schedulerLog.Info("Scheduler shut down successfully")
}
