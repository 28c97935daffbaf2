package executor

import (
	"time"

	"github.com/antigravity-dev/relay/internal/store"
)

// checkStalled detects dependency deadlock. The queue is stalled when
// nothing is ready, running or awaiting a retry slot while blocked tasks
// remain. Tasks blocked on a failed dependency are left alone, since a
// retry-failed sweep can still rescue them; only members of an actual
// dependency cycle are failed out.
func (e *Executor) checkStalled(now time.Time) {
	if len(e.inflightIDs()) > 0 {
		return
	}
	ready, err := e.store.ReadyTasks(now.UnixMilli())
	if err != nil || len(ready) > 0 {
		return
	}
	waiting, err := e.store.ListTasks(store.StatusPending, store.StatusScheduled, store.StatusRunning)
	if err != nil || len(waiting) > 0 {
		return
	}
	blocked, err := e.store.ListTasks(store.StatusBlocked)
	if err != nil || len(blocked) == 0 {
		return
	}

	for _, id := range cycleMembers(blocked) {
		t, err := e.store.GetTask(id)
		if err != nil {
			continue
		}
		t.Status = store.StatusFailed
		t.LastError = "cycle"
		t.BlockedBy = ""
		if err := e.store.UpdateTask(t); err != nil {
			e.logger.Error("cycle break failed", "task", id, "error", err)
			continue
		}
		metricTasksFailed.WithLabelValues("", "cycle").Inc()
		e.logger.Error("dependency cycle broken", "task", id)
	}
}

// cycleMembers returns the ids of blocked tasks sitting on a dependency
// cycle. Edges are restricted to the blocked set: a dependency that is
// pending, running or failed can still resolve without intervention, so
// its dependents are not cycle members.
func cycleMembers(blocked []store.Task) []string {
	inSet := make(map[string]bool, len(blocked))
	for _, t := range blocked {
		inSet[t.ID] = true
	}
	adj := make(map[string][]string, len(blocked))
	for _, t := range blocked {
		for _, dep := range t.DependsOn {
			if inSet[dep] {
				adj[t.ID] = append(adj[t.ID], dep)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(blocked))
	onCycle := make(map[string]bool)
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range adj[id] {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				// Back edge: every node from dep to the stack top loops.
				for i := len(stack) - 1; i >= 0; i-- {
					onCycle[stack[i]] = true
					if stack[i] == dep {
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}
	for _, t := range blocked {
		if color[t.ID] == white {
			visit(t.ID)
		}
	}

	ids := make([]string, 0, len(onCycle))
	for _, t := range blocked {
		if onCycle[t.ID] {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
