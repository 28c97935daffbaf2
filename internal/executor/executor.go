// Package executor runs the supervised execution daemon. It owns the poll
// loop that turns schedule decisions into model invocations, recovers work
// orphaned by a previous crash, and keeps a status file current for external
// observers. Exactly one executor runs per data directory, enforced by an
// exclusive lock on the PID file.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/relay/internal/config"
	"github.com/antigravity-dev/relay/internal/events"
	"github.com/antigravity-dev/relay/internal/health"
	"github.com/antigravity-dev/relay/internal/invoke"
	"github.com/antigravity-dev/relay/internal/queue"
	"github.com/antigravity-dev/relay/internal/ratelimit"
	"github.com/antigravity-dev/relay/internal/scheduler"
	"github.com/antigravity-dev/relay/internal/store"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultHealthInterval = 30 * time.Second
	defaultDrainTimeout   = 30 * time.Second
	defaultMaxConcurrent  = 3
)

// Options wires an executor. Config, Store, Queue, Planner, Coord and
// Invoker are required; the rest have working defaults.
type Options struct {
	Config  *config.Manager
	Store   *store.Store
	Queue   *queue.Queue
	Planner *scheduler.Planner
	Coord   *ratelimit.Coordinator
	Invoker invoke.Invoker
	Emitter *events.Emitter
	Logger  *slog.Logger

	// PIDPath and StatusPath override the config-derived locations.
	PIDPath    string
	StatusPath string
}

// Executor is the single supervised daemon instance.
type Executor struct {
	cfg     *config.Manager
	store   *store.Store
	queue   *queue.Queue
	planner *scheduler.Planner
	coord   *ratelimit.Coordinator
	invoker invoke.Invoker
	emitter *events.Emitter
	logger  *slog.Logger

	pidPath    string
	statusPath string

	instanceID string
	startedAt  time.Time
	lockFile   *os.File

	// baseCtx outlives the loops so Stop can drain in-flight invocations
	// before cancelling the stragglers.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	loopCtx    context.Context
	loopCancel context.CancelFunc

	loops    sync.WaitGroup
	tasks    sync.WaitGroup
	stopOnce sync.Once

	mu       sync.Mutex
	paused   bool
	inflight map[string]string // task id -> model

	// fatal aborts the process when a store write fails twice in a row.
	// Tests swap it out to observe the crash path.
	fatal func(msg string, args ...any)
}

// New builds an executor from opts. It does not touch the filesystem;
// Start acquires the lock and launches the loops.
func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config.Get()
	pidPath := opts.PIDPath
	if pidPath == "" {
		pidPath = cfg.PIDPath()
	}
	statusPath := opts.StatusPath
	if statusPath == "" {
		statusPath = cfg.StatusPath()
	}

	e := &Executor{
		cfg:        opts.Config,
		store:      opts.Store,
		queue:      opts.Queue,
		planner:    opts.Planner,
		coord:      opts.Coord,
		invoker:    opts.Invoker,
		emitter:    opts.Emitter,
		logger:     logger.With("component", "executor"),
		pidPath:    pidPath,
		statusPath: statusPath,
		inflight:   make(map[string]string),
	}
	e.fatal = func(msg string, args ...any) {
		e.logger.Error(msg, args...)
		os.Exit(1)
	}
	return e
}

// Start acquires the singleton lock, recovers orphaned work and launches
// the poll and health loops. It returns immediately; Stop shuts down.
func (e *Executor) Start() error {
	lock, err := health.AcquireFlock(e.pidPath)
	if err != nil {
		return err
	}
	e.lockFile = lock

	e.instanceID = uuid.NewString()
	e.startedAt = time.Now()

	if err := e.recoverOrphans(); err != nil {
		health.ReleaseFlock(e.lockFile)
		return err
	}

	e.baseCtx, e.baseCancel = context.WithCancel(context.Background())
	e.loopCtx, e.loopCancel = context.WithCancel(context.Background())

	e.writeStatus()

	e.loops.Add(2)
	go e.pollLoop(e.loopCtx)
	go e.healthLoop(e.loopCtx)

	e.emit(events.Event{Type: events.ExecutorStarted})
	e.logger.Info("executor started", "instance", e.instanceID, "pid", os.Getpid())
	return nil
}

// Stop drains in-flight tasks up to the graceful shutdown timeout, cancels
// whatever is left, writes a final status and releases the lock. Safe to
// call more than once.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		e.logger.Info("executor stopping")
		e.loopCancel()
		e.loops.Wait()

		done := make(chan struct{})
		go func() {
			e.tasks.Wait()
			close(done)
		}()
		timeout := e.cfg.Get().Executor.GracefulShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = defaultDrainTimeout
		}
		select {
		case <-done:
		case <-time.After(timeout):
			e.logger.Warn("drain timed out, cancelling in-flight tasks", "timeout", timeout)
			e.baseCancel()
			<-done
		}
		e.baseCancel()

		e.writeFinalStatus()
		health.ReleaseFlock(e.lockFile)
		e.emit(events.Event{Type: events.ExecutorStopped})
		e.logger.Info("executor stopped")
	})
}

// Pause stops the poll loop from claiming new tasks. In-flight invocations
// run to completion.
func (e *Executor) Pause() {
	e.mu.Lock()
	was := e.paused
	e.paused = true
	e.mu.Unlock()
	if was {
		return
	}
	e.writeStatus()
	e.emit(events.Event{Type: events.ExecutorPaused})
	e.logger.Info("executor paused")
}

// Resume re-enables scheduling after Pause.
func (e *Executor) Resume() {
	e.mu.Lock()
	was := e.paused
	e.paused = false
	e.mu.Unlock()
	if !was {
		return
	}
	e.writeStatus()
	e.emit(events.Event{Type: events.ExecutorResumed})
	e.logger.Info("executor resumed")
}

// Paused reports whether scheduling is currently suspended.
func (e *Executor) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// recoverOrphans re-queues tasks a previous instance left marked running
// and closes their dangling execution records. Attempts are not charged:
// the crash was ours, not the task's.
func (e *Executor) recoverOrphans() error {
	running, err := e.store.RunningTasks()
	if err != nil {
		return fmt.Errorf("executor: orphan scan: %w", err)
	}
	for i := range running {
		t := running[i]
		t.Status = store.StatusPending
		t.LastError = "orphaned"
		t.ScheduledFor = 0
		if err := e.store.UpdateTask(&t); err != nil {
			return fmt.Errorf("executor: requeue orphan %s: %w", t.ID, err)
		}
	}
	closed, err := e.store.CloseDanglingExecutions("orphaned")
	if err != nil {
		return fmt.Errorf("executor: close dangling executions: %w", err)
	}
	if len(running) > 0 || closed > 0 {
		e.logger.Warn("recovered orphaned work", "tasks", len(running), "executions", closed)
	}
	return nil
}

// healthLoop rewrites the status file on a fixed cadence.
func (e *Executor) healthLoop(ctx context.Context) {
	defer e.loops.Done()
	interval := e.cfg.Get().Executor.HealthCheckInterval.Duration
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.writeStatus()
		}
	}
}

func (e *Executor) writeStatus() {
	now := time.Now()
	st := &health.Status{
		Running:       true,
		Paused:        e.Paused(),
		PID:           os.Getpid(),
		InstanceID:    e.instanceID,
		StartedAt:     e.startedAt.UnixMilli(),
		UptimeSeconds: int64(now.Sub(e.startedAt).Seconds()),
		CurrentTasks:  e.inflightIDs(),
		NextScheduled: e.nextScheduled(now),
	}
	if ts, err := e.store.GetTodayStats(); err == nil {
		st.CompletedToday = ts.Completed
		st.FailedToday = ts.Failed
	} else {
		e.logger.Warn("today stats unavailable", "error", err)
	}
	if err := health.WriteStatus(e.statusPath, st); err != nil {
		e.logger.Warn("status write failed", "error", err)
	}
}

func (e *Executor) writeFinalStatus() {
	st := &health.Status{
		Running:       false,
		PID:           os.Getpid(),
		InstanceID:    e.instanceID,
		StartedAt:     e.startedAt.UnixMilli(),
		UptimeSeconds: int64(time.Since(e.startedAt).Seconds()),
		CurrentTasks:  []string{},
	}
	if err := health.WriteStatus(e.statusPath, st); err != nil {
		e.logger.Warn("final status write failed", "error", err)
	}
}

// nextScheduled returns the earliest future decision in the current plan,
// zero when everything is immediate.
func (e *Executor) nextScheduled(now time.Time) int64 {
	var next time.Time
	for _, d := range e.planner.Snapshot() {
		if d.ScheduledFor.After(now) && (next.IsZero() || d.ScheduledFor.Before(next)) {
			next = d.ScheduledFor
		}
	}
	if next.IsZero() {
		return 0
	}
	return next.UnixMilli()
}

func (e *Executor) inflightIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.inflight))
	for id := range e.inflight {
		ids = append(ids, id)
	}
	return ids
}

func (e *Executor) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

// mustStore runs a queue-critical store write, retrying once on failure.
// A second failure means task state can no longer be trusted and the
// process aborts rather than run against a diverged queue.
func (e *Executor) mustStore(op string, fn func() error) {
	err := fn()
	if err == nil {
		return
	}
	e.logger.Warn("store write failed, retrying", "op", op, "error", err)
	if err = fn(); err != nil {
		e.fatal("store write failed twice, queue state unreliable", "op", op, "error", err)
	}
}
