// Package app wires the relay components into one in-process facade. Every
// entry point (CLI, gateway, status API) talks to an App; nothing in here is
// a package-level singleton.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/antigravity-dev/relay/internal/config"
	"github.com/antigravity-dev/relay/internal/events"
	"github.com/antigravity-dev/relay/internal/executor"
	"github.com/antigravity-dev/relay/internal/invoke"
	"github.com/antigravity-dev/relay/internal/queue"
	"github.com/antigravity-dev/relay/internal/ratelimit"
	"github.com/antigravity-dev/relay/internal/router"
	"github.com/antigravity-dev/relay/internal/scheduler"
	"github.com/antigravity-dev/relay/internal/store"
)

// App owns the store, queue, coordinator, router, planner, invoker registry
// and event emitter for one relay process.
type App struct {
	cfg     *config.Manager
	store   *store.Store
	queue   *queue.Queue
	coord   *ratelimit.Coordinator
	router  *router.Router
	planner *scheduler.Planner
	invoker *invoke.Registry
	emitter *events.Emitter
	logger  *slog.Logger

	exec *executor.Executor
}

// New opens the store, seeds rate windows from configuration and wires all
// components. Close releases the store.
func New(mgr *config.Manager, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := mgr.Get()

	s, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, err
	}

	coord := ratelimit.NewCoordinator(s)
	for name, m := range cfg.Models {
		if err := coord.Seed(name, m.MaxRequests, m.Window.Duration); err != nil {
			s.Close()
			return nil, fmt.Errorf("app: seed rate window for %s: %w", name, err)
		}
	}

	a := &App{
		cfg:     mgr,
		store:   s,
		coord:   coord,
		invoker: invoke.NewRegistry(cfg.Models),
		emitter: events.NewEmitter(),
		logger:  logger,
	}
	a.router = router.New(cfg, a.assist)
	a.queue = queue.New(s, cfg.Executor)
	a.planner = scheduler.New(a.queue, coord, a.router, mgr)
	return a, nil
}

// assist runs the router's optional classification model through the normal
// invoker path, so it shares rate accounting and backend selection.
func (a *App) assist(ctx context.Context, model, prompt string) (string, error) {
	res, err := a.invoker.Invoke(ctx, model, prompt)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// Close stops a running executor and releases the store.
func (a *App) Close() error {
	if a.exec != nil {
		a.exec.Stop()
		a.exec = nil
	}
	return a.store.Close()
}

// Config returns the live configuration manager.
func (a *App) Config() *config.Manager { return a.cfg }

// Store exposes the backing store for read-side consumers.
func (a *App) Store() *store.Store { return a.store }

// Queue exposes the task queue.
func (a *App) Queue() *queue.Queue { return a.queue }

// Events exposes the process-local event emitter.
func (a *App) Events() *events.Emitter { return a.emitter }

// Coordinator exposes the rate limit coordinator.
func (a *App) Coordinator() *ratelimit.Coordinator { return a.coord }

// Classify routes a prompt to a category.
func (a *App) Classify(ctx context.Context, prompt string) router.Classification {
	return a.router.Classify(ctx, prompt)
}

// Candidates returns the ordered model candidates for a category, with the
// preferred model (when set) tried first.
func (a *App) Candidates(category, preferred string) []string {
	return a.router.Candidates(category, preferred)
}

// AddTask admits one task. An empty category is resolved by classification
// before admission.
func (a *App) AddTask(ctx context.Context, in queue.TaskInput) (string, error) {
	if in.Category == "" {
		c := a.router.Classify(ctx, in.Prompt)
		in.Category = c.Category
		a.logger.Debug("classified task", "category", c.Category, "confidence", c.Confidence)
	}
	return a.queue.Add(in)
}

// AddProject admits a project batch. Members without a category are
// classified individually.
func (a *App) AddProject(ctx context.Context, name string, inputs []queue.TaskInput, opts queue.ProjectOpts) (queue.ProjectResult, error) {
	for i := range inputs {
		if inputs[i].Category == "" {
			inputs[i].Category = a.router.Classify(ctx, inputs[i].Prompt).Category
		}
	}
	return a.queue.AddProject(name, inputs, opts)
}

// GetTask returns one task.
func (a *App) GetTask(id string) (*store.Task, error) { return a.queue.Get(id) }

// GetAllTasks returns every task.
func (a *App) GetAllTasks() ([]store.Task, error) { return a.queue.GetAll() }

// CancelTask cancels a task; in-flight work finishes but its result is
// discarded.
func (a *App) CancelTask(id string) error { return a.queue.Cancel(id) }

// RetryFailed re-queues failed tasks that still have attempt budget and
// returns how many were rescued.
func (a *App) RetryFailed() (int, error) { return a.queue.RetryFailed() }
