// Package main provides the Bananas API server.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"strings"
	"time"

	"github.com/muaviaUsmani/bananas/internal/config"
	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/logger"
	"github.com/muaviaUsmani/bananas/internal/queue"
	"github.com/muaviaUsmani/bananas/pkg/client"
)

// submitRequest is the JSON body accepted by POST /jobs.
type submitRequest struct {
	Data       json.RawMessage `json:"data"`
	Priority   job.Priority    `json:"priority"`
	DelayMS    int64           `json:"delay_ms"`
	Attempts   int             `json:"attempts"`
	JobID      string          `json:"job_id,omitempty"`
	RoutingKey string          `json:"routing_key,omitempty"`
}

// api holds the dependencies the HTTP handlers close over.
type api struct {
	client *client.Client
	log    logger.Logger
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
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

	// Set as default logger
	logger.SetDefault(log)

	// Create component-specific logger
	apiLog := log.WithComponent(logger.ComponentAPI).WithSource(logger.LogSourceInternal)

	apiLog.Info("API server starting",
		"redis_url", cfg.RedisURL,
		"api_port", cfg.APIPort,
		"queue", cfg.QueueName,
		"job_timeout", cfg.JobTimeout,
		"max_retries", cfg.MaxRetries)

	// Start pprof server on separate port for profiling
	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6060"
	}
	go func() {
		apiLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		pprofServer := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := pprofServer.ListenAndServe(); err != nil {
			apiLog.Error("pprof server failed", "error", err)
		}
	}()

	jobClient, err := client.NewClientWithConfig(cfg.RedisURL, cfg.QueueName, queue.Config{
		LockTTL:         cfg.LockTTL,
		CompletedJobTTL: cfg.CompletedJobTTL,
		FailedJobTTL:    cfg.FailedJobTTL,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	}, cfg.ResultBackendTTLSuccess, cfg.ResultBackendTTLFailure)
	if err != nil {
		apiLog.Error("Failed to construct job client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			apiLog.Error("Failed to close job client", "error", err)
		}
	}()

	a := &api{client: jobClient, log: apiLog}

	// Setup main API routes. Enqueue-only surface - no dashboard, no
	// job listing/search; producers submit work and poll status/result
	// by ID.
	mainMux := http.NewServeMux()
	mainMux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		// Ignore write error - nothing we can do if client disconnected
		_, _ = fmt.Fprintf(w, "Bananas API Server")
	})
	mainMux.HandleFunc("/jobs", a.handleSubmit)
	mainMux.HandleFunc("/jobs/", a.handleJob)

	addr := ":" + cfg.APIPort
	apiLog.Info("API server listening", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           mainMux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil {
		apiLog.Error("API server failed", "error", err)
		os.Exit(1)
	}
}

// handleSubmit accepts POST /jobs and enqueues a single job.
func (a *api) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	opts := job.DispatchOptions{
		Priority: req.Priority,
		Attempts: req.Attempts,
		JobID:    req.JobID,
	}
	if req.DelayMS > 0 {
		opts.Delay = time.Duration(req.DelayMS) * time.Millisecond
	}

	var j *job.Job
	var err error
	if req.RoutingKey != "" {
		j, err = a.client.SubmitJobWithRoute(r.Context(), req.Data, opts, req.RoutingKey)
	} else {
		j, err = a.client.SubmitJob(r.Context(), req.Data, opts)
	}
	if err != nil {
		a.log.Error("submit job failed", "error", err)
		http.Error(w, fmt.Sprintf("failed to submit job: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(j)
}

// handleJob accepts GET /jobs/{id} and GET /jobs/{id}/result.
func (a *api) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/jobs/")
	id, rest, hasResult := strings.Cut(path, "/")
	if id == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}

	if hasResult {
		if rest != "result" {
			http.NotFound(w, r)
			return
		}
		res, err := a.client.GetResult(r.Context(), id)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to get result: %v", err), http.StatusInternalServerError)
			return
		}
		if res == nil {
			http.Error(w, "result not available yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
		return
	}

	j, err := a.client.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf("job not found: %v", err), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(j)
}
