package executor

import (
	"context"
	"errors"
	"time"

	"github.com/antigravity-dev/relay/internal/events"
	"github.com/antigravity-dev/relay/internal/invoke"
	"github.com/antigravity-dev/relay/internal/scheduler"
	"github.com/antigravity-dev/relay/internal/store"
)

// pollLoop drives scheduling. The interval follows the live config, so a
// SIGHUP reload takes effect on the next tick without a restart.
func (e *Executor) pollLoop(ctx context.Context) {
	defer e.loops.Done()
	interval := e.pollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick()
			if next := e.pollInterval(); next != interval {
				e.logger.Info("poll interval changed", "old", interval, "new", next)
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (e *Executor) pollInterval() time.Duration {
	if d := e.cfg.Get().Executor.PollInterval.Duration; d > 0 {
		return d
	}
	return defaultPollInterval
}

// tick runs one scheduling pass: plan, reserve, launch. Future decisions
// stay in the planner's cache; only immediate ones are acted on.
func (e *Executor) tick() {
	metricPollTicks.Inc()
	if e.Paused() {
		return
	}
	e.checkStalled(time.Now())

	plan, err := e.planner.PlanSchedule()
	if err != nil {
		e.logger.Error("planning failed", "error", err)
		return
	}

	for _, d := range scheduler.ImmediatelySchedulable(plan) {
		if !e.canLaunchMore() {
			return
		}
		t, err := e.queue.Get(d.TaskID)
		if err != nil {
			continue
		}
		if t.Status != store.StatusPending && t.Status != store.StatusScheduled {
			continue
		}

		ok, err := e.coord.TryReserve(d.Model)
		if err != nil {
			e.logger.Error("reservation failed", "model", d.Model, "error", err)
			continue
		}
		if !ok {
			// The advisory check at plan time lost the race for the last
			// window slot. Re-point this task at the next opening.
			metricReservationMisses.WithLabelValues(d.Model).Inc()
			if _, _, err := e.planner.Reschedule(d.TaskID); err != nil {
				e.logger.Warn("reschedule failed", "task", d.TaskID, "error", err)
			}
			continue
		}
		e.launch(d)
	}
}

func (e *Executor) canLaunchMore() bool {
	limit := e.cfg.Get().Executor.MaxConcurrent
	if limit <= 0 {
		limit = defaultMaxConcurrent
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight) < limit
}

// launch claims the task in the in-flight set and spawns its execution on
// the base context, which survives loop shutdown until the drain deadline.
func (e *Executor) launch(d scheduler.Decision) {
	e.mu.Lock()
	if _, dup := e.inflight[d.TaskID]; dup {
		e.mu.Unlock()
		return
	}
	e.inflight[d.TaskID] = d.Model
	e.mu.Unlock()

	metricInFlight.Inc()
	e.tasks.Add(1)
	go e.executeTask(d.TaskID, d.Model)
}

func (e *Executor) executeTask(taskID, model string) {
	defer func() {
		e.mu.Lock()
		delete(e.inflight, taskID)
		e.mu.Unlock()
		metricInFlight.Dec()
		e.tasks.Done()
	}()

	if err := e.queue.MarkRunning(taskID); err != nil {
		// Cancelled or claimed between planning and launch.
		e.logger.Debug("task no longer startable", "task", taskID, "error", err)
		return
	}
	t, err := e.queue.Get(taskID)
	if err != nil {
		e.logger.Error("running task vanished", "task", taskID, "error", err)
		return
	}

	var execID string
	e.mustStore("insert execution", func() error {
		id, err := e.store.InsertExecution(&store.Execution{TaskID: taskID, Model: model})
		if err != nil {
			return err
		}
		execID = id
		return nil
	})

	metricTasksStarted.WithLabelValues(model).Inc()
	e.emit(events.Event{Type: events.TaskStart, TaskID: taskID, Model: model})
	e.logger.Info("task started", "task", taskID, "model", model, "attempt", t.Attempts)

	res, err := e.invoker.Invoke(e.baseCtx, model, t.Prompt)
	if err != nil {
		e.finishFailed(execID, taskID, model, res, err)
		return
	}

	e.mustStore("finish execution", func() error {
		return e.store.FinishExecution(execID, true, "", res.TokensUsed, res.Cost)
	})
	e.mustStore("complete task", func() error {
		return e.queue.MarkCompleted(taskID, res.Output)
	})
	metricTasksCompleted.WithLabelValues(model).Inc()
	e.emit(events.Event{Type: events.TaskComplete, TaskID: taskID, Model: model, Result: res.Output})
	e.logger.Info("task completed", "task", taskID, "model", model, "tokens", res.TokensUsed)
}

// finishFailed records a failed attempt. Rate-limit refusals additionally
// exhaust the model's window so planning routes around it; the attempt
// itself still counts, as the call reached the backend.
func (e *Executor) finishFailed(execID, taskID, model string, res invoke.Result, err error) {
	reason := "error"
	var rl *invoke.RateLimitedError
	var to *invoke.TimeoutError
	switch {
	case errors.As(err, &rl):
		reason = "rate_limited"
		if merr := e.coord.MarkExhausted(model); merr != nil {
			e.logger.Error("mark exhausted failed", "model", model, "error", merr)
		}
	case errors.As(err, &to):
		reason = "timeout"
	}

	e.mustStore("finish execution", func() error {
		return e.store.FinishExecution(execID, false, err.Error(), res.TokensUsed, res.Cost)
	})
	e.mustStore("fail task", func() error {
		return e.queue.MarkFailed(taskID, err.Error())
	})
	metricTasksFailed.WithLabelValues(model, reason).Inc()
	e.emit(events.Event{Type: events.TaskFailed, TaskID: taskID, Model: model, Error: err.Error()})
	e.logger.Warn("task failed", "task", taskID, "model", model, "reason", reason, "error", err)
}
