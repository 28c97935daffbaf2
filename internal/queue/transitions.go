package queue

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/antigravity-dev/relay/internal/store"
)

// MarkRunning transitions a ready task to running and counts the attempt.
// The previous attempt's error is cleared so transient failures stay
// invisible while retries are still possible.
func (q *Queue) MarkRunning(id string) error {
	t, err := q.store.GetTask(id)
	if err != nil {
		return err
	}
	if t.Status != store.StatusPending && t.Status != store.StatusScheduled {
		return fmt.Errorf("%w: cannot start task in status %s", ErrInvalidInput, t.Status)
	}
	t.Status = store.StatusRunning
	t.Attempts++
	t.LastError = ""
	t.ScheduledFor = 0
	return q.store.UpdateTask(t)
}

// MarkCompleted finishes a running task with its result and unblocks any
// dependents that were waiting on it. Completing a task that was cancelled
// mid-flight discards the result and changes nothing.
func (q *Queue) MarkCompleted(id, result string) error {
	t, err := q.store.GetTask(id)
	if err != nil {
		return err
	}
	if t.Status == store.StatusCancelled {
		return nil
	}
	if t.Status != store.StatusRunning {
		return fmt.Errorf("%w: cannot complete task in status %s", ErrInvalidInput, t.Status)
	}
	t.Status = store.StatusCompleted
	t.Result = result
	t.CompletedAt = time.Now().UnixMilli()
	if err := q.store.UpdateTask(t); err != nil {
		return err
	}
	return q.unblockDependents(id)
}

// MarkFailed records a failed attempt. While attempts remain the task is
// re-queued as pending, optionally pushed into the future by the retry
// backoff; at the attempt cap it lands in failed with the error persisted.
// Failures against a cancelled task are discarded.
func (q *Queue) MarkFailed(id, errText string) error {
	t, err := q.store.GetTask(id)
	if err != nil {
		return err
	}
	if t.Status == store.StatusCancelled {
		return nil
	}
	if t.Status != store.StatusRunning {
		return fmt.Errorf("%w: cannot fail task in status %s", ErrInvalidInput, t.Status)
	}
	t.LastError = errText
	if t.Attempts >= t.MaxAttempts {
		t.Status = store.StatusFailed
	} else {
		t.Status = store.StatusPending
		if delay := q.retryDelay(t.Attempts); delay > 0 {
			t.ScheduledFor = time.Now().Add(delay).UnixMilli()
		}
	}
	return q.store.UpdateTask(t)
}

// MarkBlocked parks a pending task behind an incomplete dependency.
func (q *Queue) MarkBlocked(id, blockedBy string) error {
	t, err := q.store.GetTask(id)
	if err != nil {
		return err
	}
	if t.Status != store.StatusPending && t.Status != store.StatusScheduled {
		return fmt.Errorf("%w: cannot block task in status %s", ErrInvalidInput, t.Status)
	}
	t.Status = store.StatusBlocked
	t.BlockedBy = blockedBy
	return q.store.UpdateTask(t)
}

// RetryFailed rescues failed tasks whose attempt budget still permits a
// retry and resets them to pending. Returns the number rescued. Tasks that
// exhausted maxAttempts stay failed; raising maxAttempts via Update first
// makes them eligible.
func (q *Queue) RetryFailed() (int, error) {
	failed, err := q.store.ListTasks(store.StatusFailed)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range failed {
		t := &failed[i]
		if t.Attempts >= t.MaxAttempts {
			continue
		}
		t.Status = store.StatusPending
		t.LastError = ""
		t.ScheduledFor = 0
		if err := q.store.UpdateTask(t); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// unblockDependents scans blocked tasks waiting on the completed task. Each
// becomes pending once every dependency is completed; otherwise its marker
// moves to the next incomplete dependency so a later completion finds it.
func (q *Queue) unblockDependents(completedID string) error {
	waiting, err := q.store.BlockedTasksWaitingOn(completedID)
	if err != nil {
		return err
	}
	for i := range waiting {
		t := &waiting[i]
		incomplete, err := q.firstIncompleteDep(t.DependsOn)
		if err != nil {
			return err
		}
		if incomplete == "" {
			t.Status = store.StatusPending
			t.BlockedBy = ""
		} else if incomplete != t.BlockedBy {
			t.BlockedBy = incomplete
		} else {
			continue
		}
		if err := q.store.UpdateTask(t); err != nil {
			return err
		}
	}
	return nil
}

// firstIncompleteDep returns the first dependency that is not completed, or
// "" when all are. Dependencies deleted from the store count as completed so
// a pruned predecessor cannot block its dependents forever.
func (q *Queue) firstIncompleteDep(deps []string) (string, error) {
	for _, dep := range deps {
		depTask, err := q.store.GetTask(dep)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if depTask.Status != store.StatusCompleted {
			return dep, nil
		}
	}
	return "", nil
}

// retryDelay computes the re-queue delay for the attempt that just failed:
// base doubled per attempt with up to 10% jitter, capped at the configured
// maximum. A zero base keeps immediate re-queue semantics.
func (q *Queue) retryDelay(attempt int) time.Duration {
	if q.backoffBase <= 0 || attempt <= 0 {
		return 0
	}
	backoff := float64(q.backoffBase) * math.Pow(2, float64(attempt-1))
	if max := float64(q.backoffMax); q.backoffMax > 0 && backoff > max {
		backoff = max
	}
	jitter := 1.0 + rand.Float64()*0.1
	return time.Duration(backoff * jitter)
}
