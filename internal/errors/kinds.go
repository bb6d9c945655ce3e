package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/lock"
	"github.com/muaviaUsmani/bananas/internal/queue"
)

// Kind classifies an error into one of the failure modes callers
// across the queue/lock/worker packages need to branch on, without
// type-switching against every concrete error type each package
// defines.
type Kind string

const (
	KindBadOptions      Kind = "bad_options"
	KindDuplicate       Kind = "duplicate"
	KindNotFound        Kind = "not_found"
	KindLockLost        Kind = "lock_lost"
	KindLockUnavailable Kind = "lock_unavailable"
	KindRateLimited     Kind = "rate_limited"
	KindHandlerFailed   Kind = "handler_failed"
	KindHandlerTimeout  Kind = "handler_timeout"
	KindStalled         Kind = "stalled"
	KindTransport       Kind = "transport"
	KindUnknown         Kind = "unknown"
)

// HandlerFailedError wraps a job handler's own returned error so it
// can be told apart from a queue-level failure (lock lost, not
// found, ...) reported for the same job.
type HandlerFailedError struct {
	JobID string
	Err   error
}

func (e *HandlerFailedError) Error() string {
	return fmt.Sprintf("job %s: handler failed: %v", e.JobID, e.Err)
}

func (e *HandlerFailedError) Unwrap() error { return e.Err }

// HandlerTimeoutError reports a handler that ran past its
// DispatchOptions.Timeout and was cancelled via context.
type HandlerTimeoutError struct {
	JobID   string
	Timeout time.Duration
}

func (e *HandlerTimeoutError) Error() string {
	return fmt.Sprintf("job %s: handler exceeded timeout of %s", e.JobID, e.Timeout)
}

// StalledError reports a job the stalled checker gave up reclaiming
// once it exceeded its retry budget and was failed outright.
type StalledError struct {
	JobID   string
	Retries int
}

func (e *StalledError) Error() string {
	return fmt.Sprintf("job %s: stalled after %d reclaim attempts", e.JobID, e.Retries)
}

// TransportError wraps a Redis/network-level failure - one that says
// nothing about the job itself, only that the round trip failed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// Classify maps err to its Kind by walking errors.As against every
// concrete error type the queue/lock/job packages can produce, the
// same way the teacher tells redis.Nil apart from other Redis errors
// in internal/queue/redis.go. Returns KindUnknown for an error none of
// these packages produced, KindTransport only when explicitly wrapped
// with TransportError, and "" for a nil err.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var badOptions *job.ErrBadOptions
	if errors.As(err, &badOptions) {
		return KindBadOptions
	}

	var duplicate *queue.DuplicateError
	if errors.As(err, &duplicate) {
		return KindDuplicate
	}

	var notFound *queue.NotFoundError
	if errors.As(err, &notFound) {
		return KindNotFound
	}

	var lockLost *queue.LockLostError
	if errors.As(err, &lockLost) {
		return KindLockLost
	}

	var rateLimited *queue.RateLimitedError
	if errors.As(err, &rateLimited) {
		return KindRateLimited
	}

	if errors.Is(err, lock.ErrUnavailable) {
		return KindLockUnavailable
	}
	if errors.Is(err, lock.ErrLost) {
		return KindLockLost
	}

	var handlerFailed *HandlerFailedError
	if errors.As(err, &handlerFailed) {
		return KindHandlerFailed
	}

	var handlerTimeout *HandlerTimeoutError
	if errors.As(err, &handlerTimeout) {
		return KindHandlerTimeout
	}

	var stalled *StalledError
	if errors.As(err, &stalled) {
		return KindStalled
	}

	var transport *TransportError
	if errors.As(err, &transport) {
		return KindTransport
	}

	return KindUnknown
}
