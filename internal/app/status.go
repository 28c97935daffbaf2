package app

import (
	"fmt"
	"sort"

	"github.com/antigravity-dev/relay/internal/executor"
	"github.com/antigravity-dev/relay/internal/health"
	"github.com/antigravity-dev/relay/internal/queue"
	"github.com/antigravity-dev/relay/internal/ratelimit"
	"github.com/antigravity-dev/relay/internal/scheduler"
	"github.com/antigravity-dev/relay/internal/store"
)

// SchedulerStatus summarises the current plan.
type SchedulerStatus struct {
	Scheduled       []scheduler.Decision `json:"scheduled"`
	Running         int                  `json:"running"`
	Pending         int                  `json:"pending"`
	NextTask        string               `json:"next_task,omitempty"`
	AvailableModels []string             `json:"available_models"`
}

// QueueStatus is the full queue snapshot served to the CLI, gateway and
// status API.
type QueueStatus struct {
	Stats      queue.Stats                      `json:"stats"`
	Scheduler  SchedulerStatus                  `json:"scheduler"`
	RateLimits map[string]ratelimit.ModelStatus `json:"rate_limits"`
}

// GetQueueStatus plans a fresh schedule and reports it alongside queue
// counts and rate window state.
func (a *App) GetQueueStatus() (QueueStatus, error) {
	stats, err := a.queue.GetStats()
	if err != nil {
		return QueueStatus{}, err
	}
	plan, err := a.planner.PlanSchedule()
	if err != nil {
		return QueueStatus{}, err
	}
	limits, err := a.coord.Status()
	if err != nil {
		return QueueStatus{}, err
	}

	var available []string
	for model, ms := range limits {
		if ms.Available {
			available = append(available, model)
		}
	}
	sort.Strings(available)

	sched := SchedulerStatus{
		Scheduled:       plan,
		Running:         stats.ByStatus[store.StatusRunning],
		Pending:         stats.ByStatus[store.StatusPending] + stats.ByStatus[store.StatusScheduled],
		NextTask:        nextTask(plan),
		AvailableModels: available,
	}
	return QueueStatus{Stats: stats, Scheduler: sched, RateLimits: limits}, nil
}

// nextTask picks the decision that will run soonest: the first immediate
// one, else the earliest future one.
func nextTask(plan []scheduler.Decision) string {
	if now := scheduler.ImmediatelySchedulable(plan); len(now) > 0 {
		return now[0].TaskID
	}
	var next scheduler.Decision
	for _, d := range plan {
		if next.TaskID == "" || d.ScheduledFor.Before(next.ScheduledFor) {
			next = d
		}
	}
	return next.TaskID
}

// GetExecutorStatus reads the executor's status file, reconciled against a
// PID liveness probe. Nil without error means no executor has ever run
// here.
func (a *App) GetExecutorStatus() (*health.Status, error) {
	cfg := a.cfg.Get()
	st, err := health.ReadStatus(cfg.StatusPath())
	if err != nil || st == nil {
		return st, err
	}
	if st.Running {
		if alive, _ := health.IsRunning(cfg.PIDPath()); !alive {
			// Stale file from a crash; the lock is gone.
			st.Running = false
		}
	}
	return st, nil
}

// StartExecutor launches the supervised daemon inside this process.
func (a *App) StartExecutor() error {
	if a.exec != nil {
		return fmt.Errorf("app: executor already started")
	}
	e := executor.New(executor.Options{
		Config:  a.cfg,
		Store:   a.store,
		Queue:   a.queue,
		Planner: a.planner,
		Coord:   a.coord,
		Invoker: a.invoker,
		Emitter: a.emitter,
		Logger:  a.logger,
	})
	if err := e.Start(); err != nil {
		return err
	}
	a.exec = e
	return nil
}

// StopExecutor drains and stops the in-process executor, if any.
func (a *App) StopExecutor() {
	if a.exec == nil {
		return
	}
	a.exec.Stop()
	a.exec = nil
}

// PauseExecutor suspends scheduling on the in-process executor.
func (a *App) PauseExecutor() error {
	if a.exec == nil {
		return fmt.Errorf("app: executor not running")
	}
	a.exec.Pause()
	return nil
}

// ResumeExecutor resumes scheduling on the in-process executor.
func (a *App) ResumeExecutor() error {
	if a.exec == nil {
		return fmt.Errorf("app: executor not running")
	}
	a.exec.Resume()
	return nil
}

// ReloadConfig re-reads the configuration file and reseeds rate windows.
// Interval and concurrency changes take effect on the next tick; category
// and keyword changes need a restart, since the router snapshot is fixed
// at construction.
func (a *App) ReloadConfig(path string) error {
	if err := a.cfg.Reload(path); err != nil {
		return err
	}
	cfg := a.cfg.Get()
	for name, m := range cfg.Models {
		if err := a.coord.Seed(name, m.MaxRequests, m.Window.Duration); err != nil {
			return fmt.Errorf("app: reseed rate window for %s: %w", name, err)
		}
	}
	a.logger.Info("configuration reloaded", "path", path)
	return nil
}
