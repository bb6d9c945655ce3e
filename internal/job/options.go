package job

import (
	"fmt"
	"regexp"
	"time"
)

// RemovePolicy controls whether a terminal job's hash is deleted, and
// if so how many of the most recent terminal jobs to keep.
type RemovePolicy struct {
	// Remove, when true, deletes the job hash on the matching terminal
	// transition.
	Remove bool
	// Keep caps how many of the most recent terminal jobs survive
	// deletion; 0 means delete unconditionally.
	Keep int
}

// DispatchOptions is the set of options recognized by Queue.Add,
// snapshotted onto the Job at enqueue time.
type DispatchOptions struct {
	Delay      time.Duration `json:"delay"`
	Attempts   int           `json:"attempts"`
	Backoff    BackoffPlan   `json:"backoff"`
	Priority   Priority      `json:"priority"`
	LIFO       bool          `json:"lifo"`
	Timeout    time.Duration `json:"timeout"`
	JobID      string        `json:"job_id,omitempty"`
	DependsOn  []string      `json:"depends_on,omitempty"`

	RemoveOnComplete RemovePolicy `json:"remove_on_complete"`
	RemoveOnFail     RemovePolicy `json:"remove_on_fail"`
	KeepJobs         bool         `json:"keep_jobs"`

	// RoutingKey steers the job to a worker shard via rendezvous
	// hashing (internal/queue/routing.go); "" means "default".
	RoutingKey string `json:"routing_key,omitempty"`
}

func (o DispatchOptions) withDefaults() DispatchOptions {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff.Type == "" && len(o.Backoff.Steps) == 0 {
		o.Backoff = BackoffPlan{Type: BackoffFixed, Delay: 0}
	}
	if o.RoutingKey == "" {
		o.RoutingKey = "default"
	}
	if o.KeepJobs {
		o.RemoveOnComplete = RemovePolicy{}
		o.RemoveOnFail = RemovePolicy{}
	}
	return o
}

var jobIDIntPattern = regexp.MustCompile(`^[0-9]+$`)

// ErrBadOptions reports an invalid JobID or queue name per spec.md §4.4.
type ErrBadOptions struct {
	Reason string
}

func (e *ErrBadOptions) Error() string { return "bad options: " + e.Reason }

// ValidateJobID enforces "not a pure integer, no ':'".
func ValidateJobID(id string) error {
	if id == "" {
		return nil
	}
	if jobIDIntPattern.MatchString(id) {
		return &ErrBadOptions{Reason: fmt.Sprintf("jobId %q must not be a pure integer", id)}
	}
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return &ErrBadOptions{Reason: fmt.Sprintf("jobId %q must not contain ':'", id)}
		}
	}
	return nil
}

// ValidateQueueName enforces "non-empty, no ':'".
func ValidateQueueName(name string) error {
	if name == "" {
		return &ErrBadOptions{Reason: "queue name must not be empty"}
	}
	for i := 0; i < len(name); i++ {
		if name[i] == ':' {
			return &ErrBadOptions{Reason: fmt.Sprintf("queue name %q must not contain ':'", name)}
		}
	}
	return nil
}
