// Package job defines the Job record, its dispatch options, and the
// lifecycle events the queue engine emits as a job moves through its
// states.
package job

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Status is the current lifecycle state of a job.
type Status string

const (
	StatusWaiting         Status = "waiting"
	StatusActive          Status = "active"
	StatusDelayed         Status = "delayed"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusDependencyWait  Status = "dependency-wait"
	StatusPaused          Status = "paused"
)

// Priority is a logical tier; higher values are reserved before lower
// ones. The engine is generic over N levels (spec.md's priority
// wrapper); these three names are the defaults the teacher's queues
// shipped with.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// DefaultPriorityLevels is the number of sub-queues a Queue maintains
// unless configured otherwise.
const DefaultPriorityLevels = 3

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("level-%d", int(p))
	}
}

// Job is the immutable-identity, mutable-runtime-state record the
// engine persists as a Redis hash.
type Job struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Data is the opaque caller payload, typically JSON.
	Data json.RawMessage `json:"data"`
	// Opts is an immutable snapshot of the options the job was
	// enqueued with.
	Opts DispatchOptions `json:"opts"`

	Timestamp int64 `json:"timestamp"`
	Delay     int64 `json:"delay"`

	AttemptsMade int `json:"attempts_made"`
	Progress     int `json:"progress"`

	// Stacktrace holds the last 10 failure traces, oldest first.
	Stacktrace []string `json:"stacktrace,omitempty"`

	ReturnValue json.RawMessage `json:"returnvalue,omitempty"`

	FinishedOn  *int64 `json:"finished_on,omitempty"`
	ProcessedOn *int64 `json:"processed_on,omitempty"`

	FailedReason string `json:"failed_reason,omitempty"`

	Dependencies []string `json:"dependencies,omitempty"`

	LockToken string `json:"lock_token,omitempty"`

	Status Status `json:"status"`
}

// New creates a Job ready to be passed to a Queue's Add. The caller
// supplies opts.JobID for idempotency, otherwise one is generated.
func New(name string, data []byte, opts DispatchOptions, nowMs int64) *Job {
	opts = opts.withDefaults()

	id := opts.JobID
	if id == "" {
		id = uuid.New().String()
	}

	return &Job{
		ID:        id,
		Name:      name,
		Data:      json.RawMessage(data),
		Opts:      opts,
		Timestamp: nowMs,
		Delay:     opts.Delay.Milliseconds(),
		Status:    StatusWaiting,
	}
}

// AppendStacktrace appends a failure trace, trimming to the last 10
// entries while preserving insertion order.
func (j *Job) AppendStacktrace(trace string) {
	j.Stacktrace = append(j.Stacktrace, trace)
	if len(j.Stacktrace) > 10 {
		j.Stacktrace = j.Stacktrace[len(j.Stacktrace)-10:]
	}
}
