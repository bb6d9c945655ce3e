// Package queue implements the Redis-backed job queue engine: atomic
// state transitions (internal/queue/scripts.go), the per-named-queue
// API, a rate limiter, and rendezvous-hash routing.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/muaviaUsmani/bananas/internal/clock"
	"github.com/muaviaUsmani/bananas/internal/job"
	"github.com/muaviaUsmani/bananas/internal/keyspace"
	"github.com/muaviaUsmani/bananas/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Config tunes a RedisQueue instance.
type Config struct {
	KeyPrefix       string
	PriorityLevels  int
	LockTTL         time.Duration
	CompletedJobTTL time.Duration // 0 means keep forever
	FailedJobTTL    time.Duration // 0 means keep forever

	// RateLimitMax/RateLimitWindow gate Add when both are set (Max>0,
	// Window>0). The queue-wide limiter uses discriminator "";
	// RoutingKey-scoped limiting is left to callers via Limiter().
	RateLimitMax    int
	RateLimitWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "bananas"
	}
	if c.PriorityLevels <= 0 {
		c.PriorityLevels = job.DefaultPriorityLevels
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	return c
}

// Queue is the per-named-queue API spec.md §4.4 describes.
type Queue interface {
	Add(ctx context.Context, data []byte, opts job.DispatchOptions) (*job.Job, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
	GetJobs(ctx context.Context, status job.Status, start, end int64) ([]*job.Job, error)
	GetJobCounts(ctx context.Context) (map[job.Status]int64, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	RemoveJob(ctx context.Context, id string) error
	Empty(ctx context.Context) error
}

// RedisQueue is the Queue implementation. One instance owns one named
// queue's keyspace; Reserve/ExtendLock/CompleteJob/FailJob are called
// by internal/worker, PromoteDelayed by internal/scheduler, and
// ReclaimStalled by internal/stalled — none of those are part of the
// Queue interface because they're worker/scheduler collaborator calls,
// not producer-facing operations.
type RedisQueue struct {
	client  *redis.Client
	keys    *keyspace.Keys
	scripts *Scripts
	clock   clock.Clock
	cfg     Config
}

// NewRedisQueue wires a RedisQueue onto an existing client for the
// named queue. The client's lifecycle (and connection pool tuning) is
// the caller's responsibility — shared across every queue in a
// process, the way the teacher's cmd/worker constructs one client for
// all queues.
func NewRedisQueue(client *redis.Client, name string, cfg Config) (*RedisQueue, error) {
	if err := job.ValidateQueueName(name); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &RedisQueue{
		client:  client,
		keys:    keyspace.New(cfg.KeyPrefix, name),
		scripts: NewScripts(),
		clock:   clock.Real{},
		cfg:     cfg,
	}, nil
}

// WithClock overrides the clock (test hook, mirrors the teacher's
// injectable-time pattern).
func (q *RedisQueue) WithClock(c clock.Clock) *RedisQueue {
	q.clock = c
	return q
}

// Limiter returns a RateLimiter bound to this queue's keyspace and
// client, for use by Add or by caller code wanting to pre-check a
// discriminator's budget.
func (q *RedisQueue) Limiter() *RateLimiter {
	return &RateLimiter{client: q.client, keys: q.keys, script: q.scripts.RateLimit, clock: q.clock}
}

func (q *RedisQueue) nowMs() int64 {
	return q.clock.Now().UnixMilli()
}

func (q *RedisQueue) waitingKey(p job.Priority) string {
	return q.keys.Waiting(int(p))
}

func (q *RedisQueue) jobKeyPrefix() string {
	// keys.Job("") returns "<prefix>:<name>:job:"
	return q.keys.Job("")
}

func (q *RedisQueue) lockKeyPrefix() string {
	// keys.Lock("") returns "<prefix>:lock:"
	return q.keys.Lock("")
}

// Add enqueues data with opts, returning the Job as written to Redis.
// See scripts.go's enqueueScript for the full transition.
func (q *RedisQueue) Add(ctx context.Context, data []byte, opts job.DispatchOptions) (*job.Job, error) {
	if err := job.ValidateJobID(opts.JobID); err != nil {
		return nil, err
	}

	if q.cfg.RateLimitMax > 0 && q.cfg.RateLimitWindow > 0 {
		limited, _, resetIn, lerr := q.Limiter().Check(ctx, "", q.cfg.RateLimitMax, q.cfg.RateLimitWindow)
		if lerr != nil {
			return nil, lerr
		}
		if limited {
			return nil, &RateLimitedError{RetryAfter: resetIn}
		}
	}

	now := q.nowMs()
	j := job.New(q.keys.Name(), data, opts, now)

	optsJSON, err := json.Marshal(j.Opts)
	if err != nil {
		return nil, fmt.Errorf("marshal opts: %w", err)
	}

	lifo := "0"
	if j.Opts.LIFO {
		lifo = "1"
	}

	argv := []interface{}{
		j.ID, j.Name, string(j.Data), string(optsJSON),
		strconv.FormatInt(now, 10), strconv.FormatInt(j.Delay, 10),
		lifo, strconv.FormatInt(now, 10), q.jobKeyPrefix(),
		strconv.Itoa(len(j.Opts.DependsOn)),
	}
	for _, dep := range j.Opts.DependsOn {
		argv = append(argv, dep)
	}

	keys := []string{
		q.keys.Job(j.ID),
		q.waitingKey(j.Opts.Priority),
		q.keys.Delayed(),
		q.keys.DependencyWait(),
		q.keys.Events(),
	}

	res, err := q.runEnqueue(ctx, keys, argv)
	if err != nil {
		return nil, err
	}

	switch res.Tag {
	case tagDuplicated:
		metrics.Default().RecordDuplicate()
		return nil, &DuplicateError{JobID: j.ID}
	case tagOK:
		return q.GetJob(ctx, j.ID)
	default:
		return nil, fmt.Errorf("unexpected enqueue result: %s", res.Tag)
	}
}

func (q *RedisQueue) runEnqueue(ctx context.Context, keys []string, argv []interface{}) (ScriptResult, error) {
	raw, err := q.scripts.Enqueue.Run(ctx, q.client, keys, argv...).Result()
	if err != nil {
		return ScriptResult{}, fmt.Errorf("enqueue script: %w", err)
	}
	arr, ok := raw.([]interface{})
	if !ok || len(arr) == 0 {
		return ScriptResult{}, fmt.Errorf("enqueue script: unexpected reply %#v", raw)
	}
	tag, _ := arr[0].(string)
	res := ScriptResult{Tag: tag}
	if len(arr) > 1 {
		if id, ok := arr[1].(string); ok {
			res.JobID = id
		}
	}
	return res, nil
}

// DuplicateError reports an Add call whose jobId already exists.
type DuplicateError struct{ JobID string }

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("job %q already exists", e.JobID)
}

// NotFoundError reports an operation targeting a missing job.
type NotFoundError struct{ JobID string }

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job %q not found", e.JobID)
}

// LockLostError reports a fencing-token mismatch on complete/fail.
type LockLostError struct{ JobID string }

func (e *LockLostError) Error() string {
	return fmt.Sprintf("lock lost for job %q", e.JobID)
}

// RateLimitedError reports an Add denied by the configured limiter.
// Callers may auto-defer by re-enqueuing with Delay: RetryAfter.
type RateLimitedError struct{ RetryAfter time.Duration }

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// GetJob reads a job hash by id, returning nil (no error) if absent.
func (q *RedisQueue) GetJob(ctx context.Context, id string) (*job.Job, error) {
	vals, err := q.client.HGetAll(ctx, q.keys.Job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return hashToJob(vals)
}

// GetJobs reads a range of job ids from the given status's container
// and hydrates each. delayed is a zset ranged by rank; completed and
// failed are lists ranged by index; waiting applies the range to each
// priority list in turn and concatenates the results; active and
// dependency-wait are sets returned whole, ignoring start and end.
// -1 as end means "to the end".
func (q *RedisQueue) GetJobs(ctx context.Context, status job.Status, start, end int64) ([]*job.Job, error) {
	var ids []string
	var err error

	switch status {
	case job.StatusDelayed:
		ids, err = q.client.ZRange(ctx, q.keys.Delayed(), start, end).Result()
	case job.StatusCompleted:
		ids, err = q.client.LRange(ctx, q.keys.Completed(), start, end).Result()
	case job.StatusFailed:
		ids, err = q.client.LRange(ctx, q.keys.Failed(), start, end).Result()
	case job.StatusActive:
		ids, err = q.client.SMembers(ctx, q.keys.Active()).Result()
	case job.StatusDependencyWait:
		ids, err = q.client.SMembers(ctx, q.keys.DependencyWait()).Result()
	case job.StatusWaiting:
		for p := 0; p < q.cfg.PriorityLevels; p++ {
			lvl, lerr := q.client.LRange(ctx, q.waitingKey(job.Priority(p)), start, end).Result()
			if lerr != nil {
				return nil, fmt.Errorf("get waiting jobs: %w", lerr)
			}
			ids = append(ids, lvl...)
		}
	default:
		return nil, fmt.Errorf("unsupported status for GetJobs: %s", status)
	}
	if err != nil {
		return nil, fmt.Errorf("get jobs(%s): %w", status, err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, id := range ids {
		j, jerr := q.GetJob(ctx, id)
		if jerr != nil {
			return nil, jerr
		}
		if j != nil {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// GetJobCounts returns a count for every status, including paused
// (0 or 1, per spec.md §4.4).
func (q *RedisQueue) GetJobCounts(ctx context.Context) (map[job.Status]int64, error) {
	counts := make(map[job.Status]int64)

	var waiting int64
	for p := 0; p < q.cfg.PriorityLevels; p++ {
		n, err := q.client.LLen(ctx, q.waitingKey(job.Priority(p))).Result()
		if err != nil {
			return nil, fmt.Errorf("count waiting: %w", err)
		}
		waiting += n
	}
	counts[job.StatusWaiting] = waiting

	active, err := q.client.SCard(ctx, q.keys.Active()).Result()
	if err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}
	counts[job.StatusActive] = active

	delayed, err := q.client.ZCard(ctx, q.keys.Delayed()).Result()
	if err != nil {
		return nil, fmt.Errorf("count delayed: %w", err)
	}
	counts[job.StatusDelayed] = delayed

	completed, err := q.client.LLen(ctx, q.keys.Completed()).Result()
	if err != nil {
		return nil, fmt.Errorf("count completed: %w", err)
	}
	counts[job.StatusCompleted] = completed

	failed, err := q.client.LLen(ctx, q.keys.Failed()).Result()
	if err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}
	counts[job.StatusFailed] = failed

	depWait, err := q.client.SCard(ctx, q.keys.DependencyWait()).Result()
	if err != nil {
		return nil, fmt.Errorf("count dependency-wait: %w", err)
	}
	counts[job.StatusDependencyWait] = depWait

	paused, err := q.client.Exists(ctx, q.keys.Paused()).Result()
	if err != nil {
		return nil, fmt.Errorf("count paused: %w", err)
	}
	counts[job.StatusPaused] = paused

	return counts, nil
}

// Pause sets the pause marker. Reservation stops; already-active jobs
// keep running.
func (q *RedisQueue) Pause(ctx context.Context) error {
	if err := q.client.Set(ctx, q.keys.Paused(), "1", 0).Err(); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return q.emit(ctx, job.EventPaused, "")
}

// Resume clears the pause marker.
func (q *RedisQueue) Resume(ctx context.Context) error {
	if err := q.client.Del(ctx, q.keys.Paused()).Err(); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return q.emit(ctx, job.EventResumed, "")
}

func (q *RedisQueue) emit(ctx context.Context, kind job.EventKind, jobID string) error {
	ev := job.Event{Event: kind, JobID: jobID, Ts: q.nowMs()}
	return q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.keys.Events(), Values: ev.Fields()}).Err()
}

// RemoveJob removes a job from every status container, releasing its
// lock if held, and deletes the hash. Fails silently (returns nil) if
// the job is already absent, per spec.md §4.4. Any dependent still
// waiting on this job is unblocked as if the removed job had
// completed with returnvalue=null, via removeScript's dependents-scan
// (mirroring completeScript's).
func (q *RedisQueue) RemoveJob(ctx context.Context, id string) error {
	keys := []string{
		q.keys.Job(id), q.keys.Active(), q.keys.Delayed(), q.keys.Completed(),
		q.keys.Failed(), q.keys.DependencyWait(), q.keys.Lock(id),
		q.keys.Dependents(id), q.keys.Events(),
	}
	argv := []interface{}{id, q.jobKeyPrefix(), strconv.FormatInt(q.nowMs(), 10), strconv.Itoa(q.cfg.PriorityLevels)}
	for p := 0; p < q.cfg.PriorityLevels; p++ {
		argv = append(argv, q.waitingKey(job.Priority(p)))
	}

	raw, err := q.scripts.Remove.Run(ctx, q.client, keys, argv...).Result()
	if err != nil {
		return fmt.Errorf("remove script: %w", err)
	}
	tag, _ := firstTag(raw)
	switch tag {
	case tagOK:
		return q.emit(ctx, job.EventRemoved, id)
	case tagNotFound:
		return nil
	default:
		return fmt.Errorf("unexpected remove result: %s", tag)
	}
}

// Empty deletes every key under the queue's prefix. Callers must stop
// workers first; Empty does not coordinate with in-flight reservations.
func (q *RedisQueue) Empty(ctx context.Context) error {
	pattern := q.cfg.KeyPrefix + ":" + q.keys.Name() + ":*"
	var cursor uint64
	for {
		keys, next, err := q.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return fmt.Errorf("empty: scan: %w", err)
		}
		if len(keys) > 0 {
			if err := q.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("empty: del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// Reserve executes the reservation protocol for one worker slot: if
// paused, returns ScriptResult{Tag: "paused"}; if every waiting list is
// empty, returns "empty"; otherwise the job moves to active and its
// hydrated Job is returned alongside the fencing token already written
// to Redis.
func (q *RedisQueue) Reserve(ctx context.Context, token string) (*job.Job, ScriptResult, error) {
	n := q.cfg.PriorityLevels
	argv := make([]interface{}, 0, n+6)
	argv = append(argv, strconv.Itoa(n))
	for p := n - 1; p >= 0; p-- {
		argv = append(argv, q.waitingKey(job.Priority(p)))
	}
	argv = append(argv,
		token,
		strconv.FormatInt(q.cfg.LockTTL.Milliseconds(), 10),
		strconv.FormatInt(q.nowMs(), 10),
		q.jobKeyPrefix(),
		q.lockKeyPrefix(),
	)

	keys := []string{q.keys.Paused(), q.keys.Active(), q.keys.Events()}

	raw, err := q.scripts.Reserve.Run(ctx, q.client, keys, argv...).Result()
	if err != nil {
		return nil, ScriptResult{}, fmt.Errorf("reserve script: %w", err)
	}
	arr, ok := raw.([]interface{})
	if !ok || len(arr) == 0 {
		return nil, ScriptResult{}, fmt.Errorf("reserve script: unexpected reply %#v", raw)
	}
	tag, _ := arr[0].(string)
	res := ScriptResult{Tag: tag}
	if tag != tagOK {
		return nil, res, nil
	}
	id, _ := arr[1].(string)
	res.JobID = id

	j, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, res, err
	}
	return j, res, nil
}

// ExtendLock refreshes a held reservation's TTL. Returns false (no
// error) if the token no longer matches — the caller's heartbeat loop
// should stop and let the stalled checker reclaim.
func (q *RedisQueue) ExtendLock(ctx context.Context, jobID, token string) (bool, error) {
	raw, err := q.scripts.ExtendLock.Run(ctx, q.client,
		[]string{q.keys.Lock(jobID)},
		token, strconv.FormatInt(q.cfg.LockTTL.Milliseconds(), 10),
	).Result()
	if err != nil {
		return false, fmt.Errorf("extend lock script: %w", err)
	}
	arr, _ := raw.([]interface{})
	if len(arr) == 0 {
		return false, nil
	}
	tag, _ := arr[0].(string)
	return tag == tagOK, nil
}

// CompleteJob executes the complete transition, verifying token
// ownership and unblocking satisfied dependents.
func (q *RedisQueue) CompleteJob(ctx context.Context, jobID, token string, returnValue []byte, policy job.RemovePolicy) error {
	removeFlag := "0"
	if policy.Remove {
		removeFlag = "1"
	}
	keys := []string{
		q.keys.Job(jobID), q.keys.Active(), q.keys.Completed(),
		q.keys.Lock(jobID), q.keys.Events(), q.keys.Dependents(jobID),
		q.keys.DependencyWait(),
	}
	argv := []interface{}{
		token, string(returnValue), strconv.FormatInt(q.nowMs(), 10),
		removeFlag, strconv.Itoa(policy.Keep), q.jobKeyPrefix(),
	}

	raw, err := q.scripts.Complete.Run(ctx, q.client, keys, argv...).Result()
	if err != nil {
		return fmt.Errorf("complete script: %w", err)
	}
	tag, _ := firstTag(raw)
	switch tag {
	case tagOK:
		return nil
	case tagNotFound:
		return &NotFoundError{JobID: jobID}
	case tagLockLost:
		return &LockLostError{JobID: jobID}
	default:
		return fmt.Errorf("unexpected complete result: %s", tag)
	}
}

// FailJob executes the fail transition: retry with backoff, or
// terminal failure with dependency cancellation. delays holds the
// precomputed per-attempt backoff delay (ms), index 1 = first retry.
func (q *RedisQueue) FailJob(ctx context.Context, jobID, token, reason string, maxAttempts int, delays []time.Duration, policy job.RemovePolicy) (terminal bool, err error) {
	removeFlag := "0"
	if policy.Remove {
		removeFlag = "1"
	}
	keys := []string{
		q.keys.Job(jobID), q.keys.Active(), "", q.keys.Delayed(),
		q.keys.Failed(), q.keys.Lock(jobID), q.keys.Events(),
		q.keys.Dependents(jobID), q.keys.DependencyWait(),
	}
	argv := []interface{}{
		token, reason, strconv.Itoa(maxAttempts), strconv.FormatInt(q.nowMs(), 10),
		q.jobKeyPrefix(), removeFlag, strconv.Itoa(policy.Keep), strconv.Itoa(len(delays)),
	}
	for _, d := range delays {
		argv = append(argv, strconv.FormatInt(d.Milliseconds(), 10))
	}

	raw, runErr := q.scripts.Fail.Run(ctx, q.client, keys, argv...).Result()
	if runErr != nil {
		return false, fmt.Errorf("fail script: %w", runErr)
	}
	tag, _ := firstTag(raw)
	switch tag {
	case tagRetry:
		return false, nil
	case tagTerminal:
		return true, nil
	case tagNotFound:
		return false, &NotFoundError{JobID: jobID}
	case tagLockLost:
		return false, &LockLostError{JobID: jobID}
	default:
		return false, fmt.Errorf("unexpected fail result: %s", tag)
	}
}

// PromoteDelayed moves up to batchSize ready delayed jobs into waiting.
// Called by internal/scheduler's promotion loop.
func (q *RedisQueue) PromoteDelayed(ctx context.Context, batchSize int) (moved int64, err error) {
	keys := []string{q.keys.Delayed(), q.keys.Events()}
	argv := []interface{}{strconv.FormatInt(q.nowMs(), 10), strconv.Itoa(batchSize), q.jobKeyPrefix()}

	raw, runErr := q.scripts.PromoteDelayed.Run(ctx, q.client, keys, argv...).Result()
	if runErr != nil {
		return 0, fmt.Errorf("promote delayed script: %w", runErr)
	}
	arr, _ := raw.([]interface{})
	if len(arr) < 2 {
		return 0, nil
	}
	return toInt64(arr[1]), nil
}

// ReclaimStalled scans active for jobs whose lock key expired, returns
// under-limit jobs to waiting and terminates over-limit ones as failed
// with reason "stalled". Called by internal/stalled's checker loop.
func (q *RedisQueue) ReclaimStalled(ctx context.Context, maxRetries int) (reclaimed, failedCount int64, err error) {
	keys := []string{q.keys.Active(), q.keys.Failed(), q.keys.Events()}
	argv := []interface{}{
		strconv.FormatInt(q.nowMs(), 10), strconv.Itoa(maxRetries),
		q.jobKeyPrefix(), q.lockKeyPrefix(),
	}

	raw, runErr := q.scripts.ReclaimStalled.Run(ctx, q.client, keys, argv...).Result()
	if runErr != nil {
		return 0, 0, fmt.Errorf("reclaim stalled script: %w", runErr)
	}
	arr, _ := raw.([]interface{})
	if len(arr) < 3 {
		return 0, 0, nil
	}
	reclaimed = toInt64(arr[1])
	failedCount = toInt64(arr[2])
	for i := int64(0); i < reclaimed; i++ {
		metrics.Default().RecordStalled()
	}
	return reclaimed, failedCount, nil
}

// DeadLetterQueueLength reports the failed list's length; kept for
// monitoring/testing parity with the teacher's dead-letter inspection
// helper.
func (q *RedisQueue) DeadLetterQueueLength(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.keys.Failed()).Result()
}

// Close closes the underlying client.
func (q *RedisQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close redis connection: %w", err)
	}
	log.Println("closed redis connection")
	return nil
}

func firstTag(raw interface{}) (string, bool) {
	arr, ok := raw.([]interface{})
	if !ok || len(arr) == 0 {
		return "", false
	}
	tag, ok := arr[0].(string)
	return tag, ok
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

// hashToJob decodes an HGETALL field map into a Job. Structured fields
// (opts, dependencies, stacktrace) use the encoding the enqueue/fail
// scripts write: opts is JSON, dependencies is comma-joined ids,
// stacktrace is ASCII-0x1E-joined entries.
func hashToJob(vals map[string]string) (*job.Job, error) {
	j := &job.Job{
		ID:           vals["id"],
		Name:         vals["name"],
		Status:       job.Status(vals["status"]),
		FailedReason: vals["failed_reason"],
		LockToken:    vals["lock_token"],
	}
	if vals["data"] != "" {
		j.Data = json.RawMessage(vals["data"])
	}
	if vals["returnvalue"] != "" {
		j.ReturnValue = json.RawMessage(vals["returnvalue"])
	}
	if vals["opts"] != "" {
		if err := json.Unmarshal([]byte(vals["opts"]), &j.Opts); err != nil {
			return nil, fmt.Errorf("decode opts: %w", err)
		}
	}
	if vals["dependencies"] != "" {
		j.Dependencies = strings.Split(vals["dependencies"], ",")
	}
	if vals["stacktrace"] != "" {
		j.Stacktrace = strings.Split(vals["stacktrace"], "\x1e")
	}

	var err error
	if j.Timestamp, err = parseInt64(vals["timestamp"]); err != nil {
		return nil, err
	}
	if j.Delay, err = parseInt64(vals["delay"]); err != nil {
		return nil, err
	}
	if j.AttemptsMade, err = parseInt(vals["attempts_made"]); err != nil {
		return nil, err
	}
	if j.Progress, err = parseInt(vals["progress"]); err != nil {
		return nil, err
	}
	if v := vals["finished_on"]; v != "" {
		n, perr := parseInt64(v)
		if perr != nil {
			return nil, perr
		}
		j.FinishedOn = &n
	}
	if v := vals["processed_on"]; v != "" {
		n, perr := parseInt64(v)
		if perr != nil {
			return nil, perr
		}
		j.ProcessedOn = &n
	}

	return j, nil
}

func parseInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
