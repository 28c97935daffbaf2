// Package scheduler turns ready tasks into per-tick model assignments. The
// planner consults the rate coordinator advisorily; reservation itself stays
// with the executor.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/antigravity-dev/relay/internal/config"
	"github.com/antigravity-dev/relay/internal/queue"
	"github.com/antigravity-dev/relay/internal/ratelimit"
	"github.com/antigravity-dev/relay/internal/router"
	"github.com/antigravity-dev/relay/internal/store"
)

// Decision assigns one task to one model at a point in time. ScheduledFor in
// the future means every candidate was rate limited; the executor leaves
// those alone until the window resets.
type Decision struct {
	TaskID              string    `json:"task_id"`
	Model               string    `json:"model"`
	ScheduledFor        time.Time `json:"scheduled_for"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// Planner computes a fresh plan each tick. Only the current plan is cached;
// nothing else persists between ticks.
type Planner struct {
	queue  *queue.Queue
	coord  *ratelimit.Coordinator
	router *router.Router
	cfg    *config.Manager

	mu   sync.Mutex
	plan []Decision
}

// New builds a planner over the queue, coordinator and router.
func New(q *queue.Queue, c *ratelimit.Coordinator, r *router.Router, cfg *config.Manager) *Planner {
	return &Planner{queue: q, coord: c, router: r, cfg: cfg}
}

// PlanSchedule computes this tick's decisions. Ready tasks are walked in
// priority order; a task whose candidate is available now consumes one of
// the free slots, a future-dated decision consumes none. Planning stops once
// the free slots are spoken for.
func (p *Planner) PlanSchedule() ([]Decision, error) {
	cfg := p.cfg.Get()

	running, err := p.queue.GetRunning()
	if err != nil {
		return nil, err
	}
	slots := cfg.Executor.MaxConcurrent - len(running)
	if slots <= 0 {
		p.setPlan(nil)
		return nil, nil
	}

	ready, err := p.queue.GetReady()
	if err != nil {
		return nil, err
	}
	if len(ready) == 0 {
		p.setPlan(nil)
		return nil, nil
	}
	sortTasks(ready, cfg.Scheduler)

	now := time.Now()
	var plan []Decision
	used := 0
	for i := range ready {
		if used >= slots {
			break
		}
		d, ok := p.decide(&ready[i], now, cfg)
		if !ok {
			continue
		}
		if !d.ScheduledFor.After(now) {
			used++
		}
		plan = append(plan, d)
	}

	p.setPlan(plan)
	return plan, nil
}

// Reschedule recomputes the decision for a single task, typically after its
// reservation lost the race, and folds it into the cached plan.
func (p *Planner) Reschedule(taskID string) (Decision, bool, error) {
	t, err := p.queue.Get(taskID)
	if err != nil {
		return Decision{}, false, err
	}
	if t.Status != store.StatusPending && t.Status != store.StatusScheduled {
		return Decision{}, false, nil
	}

	d, ok := p.decide(t, time.Now(), p.cfg.Get())
	if !ok {
		return Decision{}, false, nil
	}

	p.mu.Lock()
	replaced := false
	for i := range p.plan {
		if p.plan[i].TaskID == taskID {
			p.plan[i] = d
			replaced = true
			break
		}
	}
	if !replaced {
		p.plan = append(p.plan, d)
	}
	p.mu.Unlock()
	return d, true, nil
}

// Snapshot returns a copy of the current plan.
func (p *Planner) Snapshot() []Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Decision(nil), p.plan...)
}

// ImmediatelySchedulable filters a plan down to decisions due now.
func ImmediatelySchedulable(plan []Decision) []Decision {
	now := time.Now()
	out := make([]Decision, 0, len(plan))
	for _, d := range plan {
		if !d.ScheduledFor.After(now) {
			out = append(out, d)
		}
	}
	return out
}

// decide walks the task's candidate models. First currently-available
// candidate wins with scheduledFor=now; otherwise the earliest-resetting
// candidate is recorded with its reset time. Candidates the coordinator
// does not know are skipped.
func (p *Planner) decide(t *store.Task, now time.Time, cfg *config.Config) (Decision, bool) {
	candidates := p.router.Candidates(t.Category, t.PreferredModel)

	var bestModel string
	var bestAt time.Time
	for _, model := range candidates {
		ok, err := p.coord.IsAvailable(model)
		if err != nil {
			continue
		}
		if ok {
			return p.decision(t, model, now, cfg), true
		}
		at, err := p.coord.NextAvailable(model)
		if err != nil {
			continue
		}
		if bestModel == "" || at.Before(bestAt) {
			bestModel = model
			bestAt = at
		}
	}
	if bestModel == "" {
		return Decision{}, false
	}
	return p.decision(t, bestModel, bestAt, cfg), true
}

func (p *Planner) decision(t *store.Task, model string, at time.Time, cfg *config.Config) Decision {
	est := time.Duration(t.EstimatedDuration) * time.Millisecond
	if est <= 0 {
		est = cfg.Scheduler.DefaultEstimate.Duration
	}
	if est <= 0 {
		est = time.Minute
	}
	return Decision{
		TaskID:              t.ID,
		Model:               model,
		ScheduledFor:        at,
		EstimatedCompletion: at.Add(est),
	}
}

func (p *Planner) setPlan(plan []Decision) {
	p.mu.Lock()
	p.plan = plan
	p.mu.Unlock()
}

// sortTasks orders by priority weight descending, deadline ascending with
// absent deadlines last, then age.
func sortTasks(tasks []store.Task, cfg config.Scheduler) {
	weight := func(priority string) int {
		switch priority {
		case store.PriorityCritical:
			return cfg.WeightCritical
		case store.PriorityHigh:
			return cfg.WeightHigh
		case store.PriorityMedium:
			return cfg.WeightMedium
		default:
			return cfg.WeightLow
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		wi, wj := weight(tasks[i].Priority), weight(tasks[j].Priority)
		if wi != wj {
			return wi > wj
		}
		di, dj := tasks[i].Deadline, tasks[j].Deadline
		if di != dj {
			if di == 0 {
				return false
			}
			if dj == 0 {
				return true
			}
			return di < dj
		}
		return tasks[i].CreatedAt < tasks[j].CreatedAt
	})
}
