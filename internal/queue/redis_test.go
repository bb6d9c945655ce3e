package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/bananas/internal/clock"
	"github.com/muaviaUsmani/bananas/internal/job"
)

func setupTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q, err := NewRedisQueue(client, "emails", Config{LockTTL: time.Second})
	if err != nil {
		t.Fatalf("NewRedisQueue() error = %v", err)
	}
	return q, mr
}

func TestNewRedisQueue_RejectsBadQueueName(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if _, err := NewRedisQueue(client, "", Config{}); err == nil {
		t.Fatal("expected error for empty queue name")
	}
	if _, err := NewRedisQueue(client, "a:b", Config{}); err == nil {
		t.Fatal("expected error for queue name containing ':'")
	}
}

func TestAdd_SimpleJobReachesWaiting(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	j, err := q.Add(ctx, []byte(`{"x":1}`), job.DispatchOptions{})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if j.Status != job.StatusWaiting {
		t.Errorf("Status = %v, want StatusWaiting", j.Status)
	}

	counts, err := q.GetJobCounts(ctx)
	if err != nil {
		t.Fatalf("GetJobCounts() error = %v", err)
	}
	if counts[job.StatusWaiting] != 1 {
		t.Errorf("waiting count = %d, want 1", counts[job.StatusWaiting])
	}
}

func TestAdd_DuplicateJobID(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	opts := job.DispatchOptions{JobID: "fixed-id"}
	if _, err := q.Add(ctx, []byte(`{}`), opts); err != nil {
		t.Fatalf("first Add() error = %v", err)
	}
	_, err := q.Add(ctx, []byte(`{}`), opts)
	if err == nil {
		t.Fatal("expected duplicate error on second Add")
	}
	if _, ok := err.(*DuplicateError); !ok {
		t.Errorf("error type = %T, want *DuplicateError", err)
	}
}

func TestAdd_BadJobID(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	_, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{JobID: "123"})
	if err == nil {
		t.Fatal("expected error for pure-integer jobId")
	}
}

func TestAdd_DelayedJobGoesToDelayedSet(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	j, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{Delay: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if j.Status != job.StatusDelayed {
		t.Errorf("Status = %v, want StatusDelayed", j.Status)
	}

	counts, _ := q.GetJobCounts(ctx)
	if counts[job.StatusDelayed] != 1 {
		t.Errorf("delayed count = %d, want 1", counts[job.StatusDelayed])
	}
}

func TestReserve_EmptyQueueReturnsEmpty(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	j, res, err := q.Reserve(ctx, uuid.New().String())
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if res.Tag != tagEmpty || j != nil {
		t.Errorf("Reserve() = (%v, %v), want empty/nil", j, res)
	}
}

func TestReserve_PausedQueueReturnsPaused(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := q.Pause(ctx); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	_, res, err := q.Reserve(ctx, uuid.New().String())
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if res.Tag != tagPaused {
		t.Errorf("Reserve() tag = %q, want paused", res.Tag)
	}
}

func TestReserve_MovesJobToActiveWithLock(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	added, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	token := uuid.New().String()
	j, res, err := q.Reserve(ctx, token)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if res.Tag != tagOK || j == nil {
		t.Fatalf("Reserve() = (%v, %v), want ok", j, res)
	}
	if j.ID != added.ID {
		t.Errorf("reserved id = %s, want %s", j.ID, added.ID)
	}
	if j.Status != job.StatusActive {
		t.Errorf("Status = %v, want StatusActive", j.Status)
	}
	if j.LockToken != token {
		t.Errorf("LockToken = %q, want %q", j.LockToken, token)
	}
}

func TestReserve_HighPriorityBeforeLow(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	low, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{Priority: job.PriorityLow})
	if err != nil {
		t.Fatalf("Add(low) error = %v", err)
	}
	high, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{Priority: job.PriorityHigh})
	if err != nil {
		t.Fatalf("Add(high) error = %v", err)
	}

	j, _, err := q.Reserve(ctx, uuid.New().String())
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if j.ID != high.ID {
		t.Errorf("reserved %s first, want high-priority job %s", j.ID, high.ID)
	}
	_ = low
}

func TestReserve_FIFOWithinPriority(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	first, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{JobID: "first"})
	if err != nil {
		t.Fatalf("Add(first) error = %v", err)
	}
	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{JobID: "second"}); err != nil {
		t.Fatalf("Add(second) error = %v", err)
	}

	j, _, err := q.Reserve(ctx, uuid.New().String())
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if j.ID != first.ID {
		t.Errorf("reserved %s, want FIFO order to reserve %s first", j.ID, first.ID)
	}
}

func TestCompleteJob_Success(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	token := uuid.New().String()
	j, _, err := q.Reserve(ctx, token)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	if err := q.CompleteJob(ctx, j.ID, token, []byte(`{"ok":true}`), job.RemovePolicy{}); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}

	got, err := q.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Errorf("Status = %v, want StatusCompleted", got.Status)
	}
	if got.FinishedOn == nil {
		t.Error("FinishedOn not set")
	}
	if string(got.ReturnValue) != `{"ok":true}` {
		t.Errorf("ReturnValue = %s, want {\"ok\":true}", got.ReturnValue)
	}
}

func TestCompleteJob_WrongTokenReturnsLockLost(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	j, _, err := q.Reserve(ctx, uuid.New().String())
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	err = q.CompleteJob(ctx, j.ID, "wrong-token", nil, job.RemovePolicy{})
	if _, ok := err.(*LockLostError); !ok {
		t.Errorf("error type = %T, want *LockLostError", err)
	}
}

func TestCompleteJob_RemovePolicyDeletesHash(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	token := uuid.New().String()
	j, _, _ := q.Reserve(ctx, token)

	if err := q.CompleteJob(ctx, j.ID, token, nil, job.RemovePolicy{Remove: true}); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}

	got, err := q.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected job hash deleted, got %+v", got)
	}
}

func TestFailJob_RetriesThenTerminates(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{Attempts: 3}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	delays := []time.Duration{0, 0}

	for attempt := 1; attempt <= 2; attempt++ {
		token := uuid.New().String()
		j, res, err := q.Reserve(ctx, token)
		if err != nil || res.Tag != tagOK {
			t.Fatalf("Reserve(attempt %d) = (%v, %v, %v)", attempt, j, res, err)
		}
		terminal, err := q.FailJob(ctx, j.ID, token, "boom", 3, delays, job.RemovePolicy{})
		if err != nil {
			t.Fatalf("FailJob(attempt %d) error = %v", attempt, err)
		}
		if terminal {
			t.Fatalf("FailJob(attempt %d) terminal, want retry", attempt)
		}
	}

	token := uuid.New().String()
	j, res, err := q.Reserve(ctx, token)
	if err != nil || res.Tag != tagOK {
		t.Fatalf("Reserve(final) = (%v, %v, %v)", j, res, err)
	}
	terminal, err := q.FailJob(ctx, j.ID, token, "boom", 3, delays, job.RemovePolicy{})
	if err != nil {
		t.Fatalf("FailJob(final) error = %v", err)
	}
	if !terminal {
		t.Fatal("FailJob(final) = retry, want terminal")
	}

	got, err := q.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != job.StatusFailed {
		t.Errorf("Status = %v, want StatusFailed", got.Status)
	}
	if got.AttemptsMade != 3 {
		t.Errorf("AttemptsMade = %d, want 3", got.AttemptsMade)
	}
	if len(got.Stacktrace) != 3 {
		t.Errorf("len(Stacktrace) = %d, want 3", len(got.Stacktrace))
	}
}

// TestFailJob_ExponentialBackoffDelays drives the delays array the way
// Executor.fail builds it (size Attempts+1, delays[0] unused,
// delays[attempt] = plan.ComputeDelay(attempt)) through the real Fail
// script, verifying the first retry is delayed by the plan's base
// delay and the second by double that - spec.md's literal
// attempts:3/exponential/delay:100ms scenario.
func TestFailJob_ExponentialBackoffDelays(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	attempts := 3
	plan := job.BackoffPlan{Type: job.BackoffExponential, Delay: 100 * time.Millisecond}
	delays := make([]time.Duration, attempts+1)
	for attempt := 1; attempt <= attempts; attempt++ {
		delays[attempt] = plan.ComputeDelay(attempt)
	}

	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{Attempts: attempts}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	token := uuid.New().String()
	j, res, err := q.Reserve(ctx, token)
	if err != nil || res.Tag != tagOK {
		t.Fatalf("Reserve(first) = (%v, %v, %v)", j, res, err)
	}

	beforeFirst := q.nowMs()
	if _, err := q.FailJob(ctx, j.ID, token, "boom", attempts, delays, job.RemovePolicy{}); err != nil {
		t.Fatalf("FailJob(first) error = %v", err)
	}

	score, err := mr.ZScore(q.keys.Delayed(), j.ID)
	if err != nil {
		t.Fatalf("ZScore(first retry) error = %v", err)
	}
	gotDelay := int64(score) - beforeFirst
	if gotDelay < 90 || gotDelay > 150 {
		t.Errorf("first retry delay = %dms, want ~100ms", gotDelay)
	}

	time.Sleep(150 * time.Millisecond)
	if _, err := q.PromoteDelayed(ctx, 10); err != nil {
		t.Fatalf("PromoteDelayed() error = %v", err)
	}

	token2 := uuid.New().String()
	j2, res, err := q.Reserve(ctx, token2)
	if err != nil || res.Tag != tagOK {
		t.Fatalf("Reserve(second) = (%v, %v, %v)", j2, res, err)
	}

	beforeSecond := q.nowMs()
	if _, err := q.FailJob(ctx, j2.ID, token2, "boom again", attempts, delays, job.RemovePolicy{}); err != nil {
		t.Fatalf("FailJob(second) error = %v", err)
	}

	score2, err := mr.ZScore(q.keys.Delayed(), j2.ID)
	if err != nil {
		t.Fatalf("ZScore(second retry) error = %v", err)
	}
	gotDelay2 := int64(score2) - beforeSecond
	if gotDelay2 < 190 || gotDelay2 > 250 {
		t.Errorf("second retry delay = %dms, want ~200ms", gotDelay2)
	}
}

// TestEventsStream_AddReserveComplete drives the happy path and checks
// the events stream carries exactly the added/active/completed
// sequence in order, the sequence spec.md's scenario 1 asserts.
func TestEventsStream_AddReserveComplete(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	added, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	token := uuid.New().String()
	j, res, err := q.Reserve(ctx, token)
	if err != nil || res.Tag != tagOK {
		t.Fatalf("Reserve() = (%v, %v, %v)", j, res, err)
	}

	if err := q.CompleteJob(ctx, j.ID, token, []byte(`null`), job.RemovePolicy{}); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}

	kinds := readEventKinds(t, q, added.ID)
	want := []string{"added", "active", "completed"}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("events[%d] = %q, want %q (all: %v)", i, kinds[i], k, kinds)
		}
	}
}

// TestFailJob_EmitsDelayedOrWaitingNotFailedOnRetry verifies the events
// stream can tell a retry apart from a terminal failure: a delayed
// retry emits 'delayed', an immediate retry emits 'waiting', and only
// the last, terminal attempt emits 'failed'.
func TestFailJob_EmitsDelayedOrWaitingNotFailedOnRetry(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	added, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{Attempts: 3})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	delays := []time.Duration{0, 50 * time.Millisecond, 0}

	token := uuid.New().String()
	j, res, err := q.Reserve(ctx, token)
	if err != nil || res.Tag != tagOK {
		t.Fatalf("Reserve(1) = (%v, %v, %v)", j, res, err)
	}
	if _, err := q.FailJob(ctx, j.ID, token, "boom", 3, delays, job.RemovePolicy{}); err != nil {
		t.Fatalf("FailJob(1) error = %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if _, err := q.PromoteDelayed(ctx, 10); err != nil {
		t.Fatalf("PromoteDelayed() error = %v", err)
	}

	token2 := uuid.New().String()
	j2, res, err := q.Reserve(ctx, token2)
	if err != nil || res.Tag != tagOK {
		t.Fatalf("Reserve(2) = (%v, %v, %v)", j2, res, err)
	}
	if _, err := q.FailJob(ctx, j2.ID, token2, "boom", 3, delays, job.RemovePolicy{}); err != nil {
		t.Fatalf("FailJob(2) error = %v", err)
	}

	token3 := uuid.New().String()
	j3, res, err := q.Reserve(ctx, token3)
	if err != nil || res.Tag != tagOK {
		t.Fatalf("Reserve(3) = (%v, %v, %v)", j3, res, err)
	}
	if _, err := q.FailJob(ctx, j3.ID, token3, "boom", 3, delays, job.RemovePolicy{}); err != nil {
		t.Fatalf("FailJob(3) error = %v", err)
	}

	kinds := readEventKinds(t, q, added.ID)
	want := []string{"added", "active", "delayed", "waiting", "active", "waiting", "active", "failed"}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("events[%d] = %q, want %q (all: %v)", i, kinds[i], k, kinds)
		}
	}
}

// readEventKinds reads every entry on the queue's events stream and
// returns the 'event' field for entries matching jobID, in stream
// order.
func readEventKinds(t *testing.T, q *RedisQueue, jobID string) []string {
	t.Helper()
	msgs, err := q.client.XRange(context.Background(), q.keys.Events(), "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange() error = %v", err)
	}
	var kinds []string
	for _, m := range msgs {
		if fmt.Sprintf("%v", m.Values["jobId"]) != jobID {
			continue
		}
		kinds = append(kinds, fmt.Sprintf("%v", m.Values["event"]))
	}
	return kinds
}

func TestDependency_ChildWaitsForParent(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	parent, err := q.Add(ctx, []byte(`{"p":1}`), job.DispatchOptions{JobID: "parent"})
	if err != nil {
		t.Fatalf("Add(parent) error = %v", err)
	}
	child, err := q.Add(ctx, []byte(`{"c":1}`), job.DispatchOptions{
		JobID: "child", DependsOn: []string{parent.ID},
	})
	if err != nil {
		t.Fatalf("Add(child) error = %v", err)
	}
	if child.Status != job.StatusDependencyWait {
		t.Errorf("child Status = %v, want StatusDependencyWait", child.Status)
	}

	token := uuid.New().String()
	reserved, res, err := q.Reserve(ctx, token)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if res.Tag != tagOK || reserved.ID != parent.ID {
		t.Fatalf("expected to reserve parent, got %v %v", reserved, res)
	}

	if err := q.CompleteJob(ctx, parent.ID, token, []byte(`null`), job.RemovePolicy{}); err != nil {
		t.Fatalf("CompleteJob(parent) error = %v", err)
	}

	got, err := q.GetJob(ctx, child.ID)
	if err != nil {
		t.Fatalf("GetJob(child) error = %v", err)
	}
	if got.Status != job.StatusWaiting {
		t.Errorf("child Status after parent completes = %v, want StatusWaiting", got.Status)
	}
}

func TestRemoveJob_UnblocksDependents(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	parent, err := q.Add(ctx, []byte(`{"p":1}`), job.DispatchOptions{JobID: "parent-rm"})
	if err != nil {
		t.Fatalf("Add(parent) error = %v", err)
	}
	child, err := q.Add(ctx, []byte(`{"c":1}`), job.DispatchOptions{
		JobID: "child-rm", DependsOn: []string{parent.ID},
	})
	if err != nil {
		t.Fatalf("Add(child) error = %v", err)
	}
	if child.Status != job.StatusDependencyWait {
		t.Errorf("child Status = %v, want StatusDependencyWait", child.Status)
	}

	if err := q.RemoveJob(ctx, parent.ID); err != nil {
		t.Fatalf("RemoveJob(parent) error = %v", err)
	}

	if got, err := q.GetJob(ctx, parent.ID); err != nil {
		t.Fatalf("GetJob(parent) error = %v", err)
	} else if got != nil {
		t.Errorf("GetJob(parent) = %v, want nil after removal", got)
	}

	got, err := q.GetJob(ctx, child.ID)
	if err != nil {
		t.Fatalf("GetJob(child) error = %v", err)
	}
	if got.Status != job.StatusWaiting {
		t.Errorf("child Status after parent removed = %v, want StatusWaiting", got.Status)
	}

	token := uuid.New().String()
	reserved, res, err := q.Reserve(ctx, token)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if res.Tag != tagOK || reserved.ID != child.ID {
		t.Fatalf("expected to reserve child, got %v %v", reserved, res)
	}
}

func TestDependency_ChildFailsWhenParentFailsTerminally(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	parent, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{JobID: "parent2", Attempts: 1})
	if err != nil {
		t.Fatalf("Add(parent) error = %v", err)
	}
	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{
		JobID: "child2", DependsOn: []string{parent.ID},
	}); err != nil {
		t.Fatalf("Add(child) error = %v", err)
	}

	token := uuid.New().String()
	reserved, res, err := q.Reserve(ctx, token)
	if err != nil || res.Tag != tagOK {
		t.Fatalf("Reserve() = (%v, %v, %v)", reserved, res, err)
	}

	terminal, err := q.FailJob(ctx, reserved.ID, token, "boom", 1, []time.Duration{0}, job.RemovePolicy{})
	if err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}
	if !terminal {
		t.Fatal("expected terminal failure with Attempts=1")
	}

	child, err := q.GetJob(ctx, "child2")
	if err != nil {
		t.Fatalf("GetJob(child) error = %v", err)
	}
	if child.Status != job.StatusFailed {
		t.Errorf("child Status = %v, want StatusFailed", child.Status)
	}
	if child.FailedReason != "dependency_failed" {
		t.Errorf("child FailedReason = %q, want dependency_failed", child.FailedReason)
	}
}

func TestPromoteDelayed_MovesReadyJobs(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()
	frozen := clock.NewFrozen(time.Unix(1000, 0))
	q.WithClock(frozen)

	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{Delay: 500 * time.Millisecond}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	moved, err := q.PromoteDelayed(ctx, 10)
	if err != nil {
		t.Fatalf("PromoteDelayed() error = %v", err)
	}
	if moved != 0 {
		t.Errorf("moved = %d before delay elapses, want 0", moved)
	}

	frozen.Advance(600 * time.Millisecond)
	moved, err = q.PromoteDelayed(ctx, 10)
	if err != nil {
		t.Fatalf("PromoteDelayed() error = %v", err)
	}
	if moved != 1 {
		t.Errorf("moved = %d after delay elapses, want 1", moved)
	}

	counts, _ := q.GetJobCounts(ctx)
	if counts[job.StatusWaiting] != 1 {
		t.Errorf("waiting count = %d, want 1", counts[job.StatusWaiting])
	}
	_ = mr
}

func TestReclaimStalled_ReturnsToWaitingUnderLimit(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	token := uuid.New().String()
	j, _, err := q.Reserve(ctx, token)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	mr.FastForward(2 * time.Second) // let the lock key expire

	reclaimed, failedCount, err := q.ReclaimStalled(ctx, 3)
	if err != nil {
		t.Fatalf("ReclaimStalled() error = %v", err)
	}
	if reclaimed != 1 || failedCount != 0 {
		t.Errorf("ReclaimStalled() = (%d, %d), want (1, 0)", reclaimed, failedCount)
	}

	got, err := q.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != job.StatusWaiting {
		t.Errorf("Status = %v, want StatusWaiting", got.Status)
	}
}

func TestReclaimStalled_TerminatesAfterMaxRetries(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{JobID: "flaky"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		token := uuid.New().String()
		if _, _, err := q.Reserve(ctx, token); err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
		mr.FastForward(2 * time.Second)
		if _, _, err := q.ReclaimStalled(ctx, 2); err != nil {
			t.Fatalf("ReclaimStalled() error = %v", err)
		}
	}

	token := uuid.New().String()
	if _, _, err := q.Reserve(ctx, token); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	mr.FastForward(2 * time.Second)
	reclaimed, failedCount, err := q.ReclaimStalled(ctx, 2)
	if err != nil {
		t.Fatalf("ReclaimStalled() error = %v", err)
	}
	if failedCount != 1 || reclaimed != 0 {
		t.Errorf("ReclaimStalled() = (%d, %d), want (0, 1) once over maxRetries", reclaimed, failedCount)
	}

	got, err := q.GetJob(ctx, "flaky")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != job.StatusFailed || got.FailedReason != "stalled" {
		t.Errorf("got status=%v reason=%q, want failed/stalled", got.Status, got.FailedReason)
	}
}

func TestRemoveJob_AbsentJobIsNoop(t *testing.T) {
	q, _ := setupTestQueue(t)
	if err := q.RemoveJob(context.Background(), "does-not-exist"); err != nil {
		t.Fatalf("RemoveJob() error = %v, want nil for absent job", err)
	}
}

func TestRemoveJob_DeletesFromWaiting(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	j, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := q.RemoveJob(ctx, j.ID); err != nil {
		t.Fatalf("RemoveJob() error = %v", err)
	}
	got, err := q.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected job removed, got %+v", got)
	}
}

func TestEmpty_DeletesEveryQueueKey(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := q.Empty(ctx); err != nil {
		t.Fatalf("Empty() error = %v", err)
	}
	keys := mr.Keys()
	if len(keys) != 0 {
		t.Errorf("remaining keys after Empty() = %v, want none", keys)
	}
}

func TestGetJobCounts_IncludesPausedMarker(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	counts, err := q.GetJobCounts(ctx)
	if err != nil {
		t.Fatalf("GetJobCounts() error = %v", err)
	}
	if counts[job.StatusPaused] != 0 {
		t.Errorf("paused = %d, want 0", counts[job.StatusPaused])
	}
	if err := q.Pause(ctx); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	counts, err = q.GetJobCounts(ctx)
	if err != nil {
		t.Fatalf("GetJobCounts() error = %v", err)
	}
	if counts[job.StatusPaused] != 1 {
		t.Errorf("paused = %d, want 1", counts[job.StatusPaused])
	}
}

func TestRateLimiter_BlocksAfterMax(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()
	limiter := q.Limiter()

	for i := 0; i < 2; i++ {
		limited, _, _, err := limiter.Check(ctx, "", 2, time.Second)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if limited {
			t.Fatalf("Check(%d) limited, want allowed", i)
		}
	}

	limited, _, resetIn, err := limiter.Check(ctx, "", 2, time.Second)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !limited {
		t.Fatal("expected third call to be limited")
	}
	if resetIn <= 0 {
		t.Errorf("resetIn = %v, want > 0", resetIn)
	}
}

func TestAdd_RateLimitedReturnsRateLimitedError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q, err := NewRedisQueue(client, "limited", Config{
		LockTTL: time.Second, RateLimitMax: 1, RateLimitWindow: time.Second,
	})
	if err != nil {
		t.Fatalf("NewRedisQueue() error = %v", err)
	}
	ctx := context.Background()

	if _, err := q.Add(ctx, []byte(`{}`), job.DispatchOptions{}); err != nil {
		t.Fatalf("first Add() error = %v", err)
	}
	_, err = q.Add(ctx, []byte(`{}`), job.DispatchOptions{})
	if _, ok := err.(*RateLimitedError); !ok {
		t.Errorf("error type = %T, want *RateLimitedError", err)
	}
}

func TestHashToJob_RoundTripsStructuredFields(t *testing.T) {
	opts := job.DispatchOptions{Attempts: 5, RoutingKey: "default"}
	optsJSON, _ := json.Marshal(opts)
	vals := map[string]string{
		"id":            "j1",
		"name":          "emails",
		"status":        string(job.StatusCompleted),
		"opts":          string(optsJSON),
		"dependencies":  "p1,p2",
		"stacktrace":    "err1\x1eerr2",
		"timestamp":     "100",
		"delay":         "0",
		"attempts_made": "2",
		"progress":      "50",
		"finished_on":   "200",
	}
	j, err := hashToJob(vals)
	if err != nil {
		t.Fatalf("hashToJob() error = %v", err)
	}
	if len(j.Dependencies) != 2 || j.Dependencies[0] != "p1" {
		t.Errorf("Dependencies = %v, want [p1 p2]", j.Dependencies)
	}
	if len(j.Stacktrace) != 2 {
		t.Errorf("Stacktrace = %v, want 2 entries", j.Stacktrace)
	}
	if j.Opts.Attempts != 5 {
		t.Errorf("Opts.Attempts = %d, want 5", j.Opts.Attempts)
	}
	if j.FinishedOn == nil || *j.FinishedOn != 200 {
		t.Errorf("FinishedOn = %v, want 200", j.FinishedOn)
	}
}
