package queue

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/antigravity-dev/relay/internal/store"
)

// ProjectOpts carries the optional project fields.
type ProjectOpts struct {
	Description string
	Target      string
}

// ProjectResult reports what AddProject created.
type ProjectResult struct {
	ProjectID string   `json:"project_id"`
	TaskIDs   []string `json:"task_ids"`
}

// AddProject admits a project and its initial tasks in one transaction.
// Batch members may depend on each other by index: a dependency written as a
// bare integer refers to the input at that position and is rewritten to the
// generated task id before insert.
func (q *Queue) AddProject(name string, inputs []TaskInput, opts ProjectOpts) (ProjectResult, error) {
	if name == "" {
		return ProjectResult{}, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}

	ids := make([]string, len(inputs))
	for i := range inputs {
		if err := q.normalizeInput(&inputs[i]); err != nil {
			return ProjectResult{}, fmt.Errorf("task %d: %w", i, err)
		}
		id, err := store.NewID("task")
		if err != nil {
			return ProjectResult{}, err
		}
		ids[i] = id
	}

	// Rewrite index references, then validate the whole batch for cycles
	// before anything is persisted.
	batchDeps := make(map[string][]string, len(inputs))
	for i := range inputs {
		resolved, err := q.resolveBatchDeps(inputs[i].DependsOn, ids, i)
		if err != nil {
			return ProjectResult{}, fmt.Errorf("task %d: %w", i, err)
		}
		inputs[i].DependsOn = resolved
		batchDeps[ids[i]] = resolved
	}
	for i := range inputs {
		if err := q.ensureNoCycle(ids[i], inputs[i].DependsOn, batchDeps); err != nil {
			return ProjectResult{}, fmt.Errorf("task %d: %w", i, err)
		}
	}

	projectID, err := store.NewID("proj")
	if err != nil {
		return ProjectResult{}, err
	}
	project := &store.Project{
		ID:          projectID,
		Name:        name,
		Description: opts.Description,
		Target:      opts.Target,
	}
	inBatch := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		inBatch[id] = struct{}{}
	}

	tasks := make([]*store.Task, len(inputs))
	for i := range inputs {
		in := inputs[i]
		status := store.StatusPending
		blockedBy := ""
		for _, dep := range in.DependsOn {
			if _, ok := inBatch[dep]; ok {
				// Batch members are inserted pending or blocked, never
				// completed, so an intra-batch dependency always blocks.
				blockedBy = dep
				break
			}
			depTask, err := q.store.GetTask(dep)
			if errors.Is(err, store.ErrNotFound) {
				return ProjectResult{}, fmt.Errorf("%w: task %d: unknown dependency %s", ErrInvalidInput, i, dep)
			}
			if err != nil {
				return ProjectResult{}, err
			}
			if depTask.Status != store.StatusCompleted {
				blockedBy = dep
				break
			}
		}
		if blockedBy != "" {
			status = store.StatusBlocked
		}

		tasks[i] = &store.Task{
			ID:                ids[i],
			ProjectID:         projectID,
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
		}
	}

	if err := q.store.InsertProjectTasks(project, tasks); err != nil {
		return ProjectResult{}, err
	}
	return ProjectResult{ProjectID: projectID, TaskIDs: ids}, nil
}

// resolveBatchDeps maps integer dependency references onto generated ids.
// Self references are rejected here; longer cycles are left to the DFS.
func (q *Queue) resolveBatchDeps(deps, ids []string, position int) ([]string, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	out := make([]string, len(deps))
	for i, dep := range deps {
		idx, err := strconv.Atoi(dep)
		if err != nil {
			out[i] = dep
			continue
		}
		if idx < 0 || idx >= len(ids) {
			return nil, fmt.Errorf("%w: dependency index %d out of range", ErrInvalidInput, idx)
		}
		if idx == position {
			return nil, fmt.Errorf("%w: task cannot depend on itself", ErrInvalidInput)
		}
		out[i] = ids[idx]
	}
	return out, nil
}

// GetProject returns a project by id.
func (q *Queue) GetProject(id string) (*store.Project, error) {
	return q.store.GetProject(id)
}

// GetProjectTasks returns every task belonging to a project.
func (q *Queue) GetProjectTasks(id string) ([]store.Task, error) {
	return q.store.TasksByProject(id)
}

// ListProjects returns all projects.
func (q *Queue) ListProjects() ([]store.Project, error) {
	return q.store.ListProjects()
}
