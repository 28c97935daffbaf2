// Package queue admits tasks into the durable store and owns their status
// transitions: dependency blocking, unblocking, retries, and cancellation.
package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antigravity-dev/relay/internal/config"
	"github.com/antigravity-dev/relay/internal/store"
)

// ErrInvalidInput marks rejected submissions: missing fields, unknown enum
// values, unknown dependency ids, or dependency cycles.
var ErrInvalidInput = errors.New("queue: invalid input")

// TaskInput is the submission payload accepted by Add and AddProject.
type TaskInput struct {
	Title             string   `json:"title,omitempty"`
	Prompt            string   `json:"prompt"`
	Category          string   `json:"category,omitempty"`
	Priority          string   `json:"priority,omitempty"`
	ProjectID         string   `json:"project_id,omitempty"`
	DependsOn         []string `json:"depends_on,omitempty"`
	PreferredModel    string   `json:"preferred_model,omitempty"`
	Deadline          int64    `json:"deadline,omitempty"`
	EstimatedDuration int64    `json:"estimated_duration,omitempty"`
	MaxAttempts       int      `json:"max_attempts,omitempty"`
}

// Stats summarises the queue by status.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// Queue wraps the store with admission validation and the task state machine.
type Queue struct {
	store              *store.Store
	defaultMaxAttempts int
	backoffBase        time.Duration
	backoffMax         time.Duration
}

// New builds a queue. Retry backoff settings come from the executor section;
// a zero backoff base keeps immediate re-queue semantics.
func New(s *store.Store, cfg config.Executor) *Queue {
	maxAttempts := cfg.DefaultMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{
		store:              s,
		defaultMaxAttempts: maxAttempts,
		backoffBase:        cfg.RetryBackoffBase.Duration,
		backoffMax:         cfg.RetryMaxDelay.Duration,
	}
}

// Add validates a submission and persists it. Tasks with incomplete
// dependencies are admitted as blocked; everything else starts pending.
// The category must already be resolved by the caller.
func (q *Queue) Add(in TaskInput) (string, error) {
	if err := q.normalizeInput(&in); err != nil {
		return "", err
	}

	id, err := store.NewID("task")
	if err != nil {
		return "", err
	}

	status := store.StatusPending
	blockedBy := ""
	for _, dep := range in.DependsOn {
		depTask, err := q.store.GetTask(dep)
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: unknown dependency %s", ErrInvalidInput, dep)
		}
		if err != nil {
			return "", err
		}
		if depTask.Status != store.StatusCompleted && blockedBy == "" {
			blockedBy = dep
		}
	}
	if blockedBy != "" {
		status = store.StatusBlocked
	}

	if err := q.ensureNoCycle(id, in.DependsOn, nil); err != nil {
		return "", err
	}

	return q.store.InsertTask(&store.Task{
		ID:                id,
		ProjectID:         in.ProjectID,
		Title:             in.Title,
		Prompt:            in.Prompt,
		Category:          in.Category,
		Priority:          in.Priority,
		Status:            status,
		DependsOn:         in.DependsOn,
		BlockedBy:         blockedBy,
		PreferredModel:    in.PreferredModel,
		Deadline:          in.Deadline,
		EstimatedDuration: in.EstimatedDuration,
		MaxAttempts:       in.MaxAttempts,
	})
}

// Get returns a task by id.
func (q *Queue) Get(id string) (*store.Task, error) {
	return q.store.GetTask(id)
}

// Update rewrites a task's metadata. Status changes must go through the
// transition methods, and dependencies are immutable after admission.
func (q *Queue) Update(t *store.Task) error {
	current, err := q.store.GetTask(t.ID)
	if err != nil {
		return err
	}
	if t.Status != current.Status {
		return fmt.Errorf("%w: status changes go through transitions", ErrInvalidInput)
	}
	if !equalDeps(t.DependsOn, current.DependsOn) {
		return fmt.Errorf("%w: dependencies are immutable after admission", ErrInvalidInput)
	}
	return q.store.UpdateTask(t)
}

// Cancel transitions a task to cancelled from any state. Cancelling a
// completed or cancelled task is a no-op. A running task is marked cancelled
// immediately; its in-flight result is discarded on completion.
func (q *Queue) Cancel(id string) error {
	t, err := q.store.GetTask(id)
	if err != nil {
		return err
	}
	if t.Status == store.StatusCompleted || t.Status == store.StatusCancelled {
		return nil
	}
	t.Status = store.StatusCancelled
	return q.store.UpdateTask(t)
}

// Remove deletes a task and its dependency edges.
func (q *Queue) Remove(id string) error {
	return q.store.DeleteTask(id)
}

// GetReady returns tasks eligible to run right now, priority-ordered.
func (q *Queue) GetReady() ([]store.Task, error) {
	return q.store.ReadyTasks(time.Now().UnixMilli())
}

// GetRunning returns tasks currently marked running.
func (q *Queue) GetRunning() ([]store.Task, error) {
	return q.store.RunningTasks()
}

// GetByStatus returns tasks in any of the given statuses.
func (q *Queue) GetByStatus(statuses ...string) ([]store.Task, error) {
	return q.store.ListTasks(statuses...)
}

// GetAll returns every task, oldest first.
func (q *Queue) GetAll() ([]store.Task, error) {
	return q.store.ListTasks()
}

// GetStats counts tasks by status.
func (q *Queue) GetStats() (Stats, error) {
	counts, err := q.store.CountTasksByStatus()
	if err != nil {
		return Stats{}, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return Stats{Total: total, ByStatus: counts}, nil
}

func (q *Queue) normalizeInput(in *TaskInput) error {
	in.Prompt = strings.TrimSpace(in.Prompt)
	if in.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if in.Title == "" {
		in.Title = deriveTitle(in.Prompt)
	}
	if in.Category == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if !store.ValidCategory(in.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, in.Category)
	}
	if in.Priority == "" {
		in.Priority = store.PriorityMedium
	}
	if !store.ValidPriority(in.Priority) {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}
	if in.MaxAttempts <= 0 {
		in.MaxAttempts = q.defaultMaxAttempts
	}
	return nil
}

// deriveTitle builds a display title from the prompt's first line.
func deriveTitle(prompt string) string {
	line := prompt
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	const max = 60
	runes := []rune(line)
	if len(runes) <= max {
		return line
	}
	return string(runes[:max-3]) + "..."
}

func equalDeps(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// ensureNoCycle runs a DFS from the new task through dependsOn edges. The
// batch map supplies edges for tasks not yet persisted.
func (q *Queue) ensureNoCycle(id string, deps []string, batch map[string][]string) error {
	edges := func(node string) ([]string, error) {
		if node == id {
			return deps, nil
		}
		if batchDeps, ok := batch[node]; ok {
			return batchDeps, nil
		}
		t, err := q.store.GetTask(node)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return t.DependsOn, nil
	}

	cyclic, err := dfsCycle(id, edges, map[string]int{})
	if err != nil {
		return err
	}
	if cyclic {
		return fmt.Errorf("%w: dependency cycle detected", ErrInvalidInput)
	}
	return nil
}

func dfsCycle(node string, edges func(string) ([]string, error), color map[string]int) (bool, error) {
	color[node] = colorGray
	deps, err := edges(node)
	if err != nil {
		return false, err
	}
	for _, dep := range deps {
		switch color[dep] {
		case colorGray:
			return true, nil
		case colorWhite:
			cyclic, err := dfsCycle(dep, edges, color)
			if err != nil || cyclic {
				return cyclic, err
			}
		}
	}
	color[node] = colorBlack
	return false, nil
}
