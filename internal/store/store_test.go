package store

import (
	"errors"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testTask(title string) *Task {
	return &Task{
		Title:    title,
		Prompt:   "do " + title,
		Category: CategoryQuick,
		Priority: PriorityMedium,
		Status:   StatusPending,
	}
}

func TestOpenMissingParentDir(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "test.db"))
	if err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestNewIDFormat(t *testing.T) {
	id, err := NewID("task")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.SplitN(id, "_", 3)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts in %q, got %d", id, len(parts))
	}
	if parts[0] != "task" {
		t.Errorf("prefix = %q, want task", parts[0])
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		t.Fatalf("timestamp part %q not an integer: %v", parts[1], err)
	}
	if delta := time.Now().UnixMilli() - ms; delta < 0 || delta > 60_000 {
		t.Errorf("timestamp part %d not near now", ms)
	}
	if len(parts[2]) != 8 {
		t.Errorf("suffix %q length = %d, want 8", parts[2], len(parts[2]))
	}
	if _, err := strconv.ParseUint(parts[2], 16, 64); err != nil {
		t.Errorf("suffix %q not hex: %v", parts[2], err)
	}
}

func TestInsertAndGetTaskRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	depID, err := s.InsertTask(testTask("dep"))
	if err != nil {
		t.Fatal(err)
	}

	in := &Task{
		ProjectID:         "proj_1_00000001",
		Title:             "write report",
		Prompt:            "write the quarterly report",
		Category:          CategoryReasoning,
		Priority:          PriorityHigh,
		Status:            StatusPending,
		DependsOn:         []string{depID},
		PreferredModel:    "anthropic/claude-sonnet",
		Deadline:          1_900_000_000_000,
		EstimatedDuration: 120_000,
		MaxAttempts:       5,
		ScheduledFor:      1_850_000_000_000,
	}
	id, err := s.InsertTask(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "task_") {
		t.Errorf("id = %q, want task_ prefix", id)
	}
	if in.CreatedAt == 0 || in.UpdatedAt == 0 {
		t.Error("expected created_at and updated_at to be stamped")
	}

	check := func(got *Task) {
		t.Helper()
		if got.ID != id {
			t.Errorf("ID = %q, want %q", got.ID, id)
		}
		if got.ProjectID != in.ProjectID {
			t.Errorf("ProjectID = %q, want %q", got.ProjectID, in.ProjectID)
		}
		if got.Title != in.Title || got.Prompt != in.Prompt {
			t.Errorf("title/prompt = %q/%q, want %q/%q", got.Title, got.Prompt, in.Title, in.Prompt)
		}
		if got.Category != CategoryReasoning || got.Priority != PriorityHigh || got.Status != StatusPending {
			t.Errorf("enums = %s/%s/%s", got.Category, got.Priority, got.Status)
		}
		if len(got.DependsOn) != 1 || got.DependsOn[0] != depID {
			t.Errorf("DependsOn = %v, want [%s]", got.DependsOn, depID)
		}
		if got.PreferredModel != in.PreferredModel {
			t.Errorf("PreferredModel = %q, want %q", got.PreferredModel, in.PreferredModel)
		}
		if got.Deadline != in.Deadline || got.ScheduledFor != in.ScheduledFor {
			t.Errorf("deadline/scheduled_for = %d/%d, want %d/%d", got.Deadline, got.ScheduledFor, in.Deadline, in.ScheduledFor)
		}
		if got.EstimatedDuration != in.EstimatedDuration || got.MaxAttempts != in.MaxAttempts {
			t.Errorf("estimate/max_attempts = %d/%d, want %d/%d", got.EstimatedDuration, got.MaxAttempts, in.EstimatedDuration, in.MaxAttempts)
		}
		if got.CompletedAt != 0 {
			t.Errorf("CompletedAt = %d, want 0", got.CompletedAt)
		}
		if got.CreatedAt != in.CreatedAt || got.UpdatedAt != in.UpdatedAt {
			t.Errorf("created/updated = %d/%d, want %d/%d", got.CreatedAt, got.UpdatedAt, in.CreatedAt, in.UpdatedAt)
		}
	}

	got, err := s.GetTask(id)
	if err != nil {
		t.Fatal(err)
	}
	check(got)

	// Fields must survive a close and reopen unchanged.
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s, err = Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	got, err = s.GetTask(id)
	if err != nil {
		t.Fatal(err)
	}
	check(got)
}

func TestInsertTaskDefaultsStatus(t *testing.T) {
	s := tempStore(t)

	task := testTask("defaulted")
	task.Status = ""
	id, err := s.InsertTask(task)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTask(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
}

func TestInsertTaskRejectsUnknownEnums(t *testing.T) {
	s := tempStore(t)

	task := testTask("bad")
	task.Priority = "urgent"
	if _, err := s.InsertTask(task); err == nil {
		t.Error("expected error for unknown priority")
	}

	task = testTask("bad")
	task.Category = "chores"
	if _, err := s.InsertTask(task); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := tempStore(t)

	_, err := s.GetTask("task_0_00000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTask(t *testing.T) {
	s := tempStore(t)

	task := testTask("update me")
	task.CreatedAt = 1000
	id, err := s.InsertTask(task)
	if err != nil {
		t.Fatal(err)
	}

	task.Status = StatusCompleted
	task.Result = "done"
	task.CompletedAt = nowMs()
	if err := s.UpdateTask(task); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted || got.Result != "done" {
		t.Errorf("status/result = %s/%q after update", got.Status, got.Result)
	}
	if got.CompletedAt == 0 {
		t.Error("expected completed_at to be set")
	}
	if got.UpdatedAt <= 1000 {
		t.Errorf("updated_at = %d, want restamped past created_at", got.UpdatedAt)
	}

	missing := testTask("ghost")
	missing.ID = "task_0_00000000"
	if err := s.UpdateTask(missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating missing task, got %v", err)
	}
}

func TestDeleteTaskCascadesDeps(t *testing.T) {
	s := tempStore(t)

	depID, err := s.InsertTask(testTask("dep"))
	if err != nil {
		t.Fatal(err)
	}
	child := testTask("child")
	child.DependsOn = []string{depID}
	childID, err := s.InsertTask(child)
	if err != nil {
		t.Fatal(err)
	}

	dependents, err := s.DependentsOf(depID)
	if err != nil {
		t.Fatal(err)
	}
	if len(dependents) != 1 || dependents[0] != childID {
		t.Fatalf("dependents = %v, want [%s]", dependents, childID)
	}

	if err := s.DeleteTask(childID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTask(childID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	dependents, err = s.DependentsOf(depID)
	if err != nil {
		t.Fatal(err)
	}
	if len(dependents) != 0 {
		t.Errorf("dependents after cascade = %v, want none", dependents)
	}

	if err := s.DeleteTask(childID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListTasksStatusFilter(t *testing.T) {
	s := tempStore(t)

	for i, status := range []string{StatusPending, StatusRunning, StatusFailed} {
		task := testTask("t" + strconv.Itoa(i))
		task.Status = status
		task.CreatedAt = int64(1000 + i)
		if _, err := s.InsertTask(task); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListTasks()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	if all[0].Title != "t0" || all[2].Title != "t2" {
		t.Errorf("expected creation order, got %s..%s", all[0].Title, all[2].Title)
	}

	some, err := s.ListTasks(StatusPending, StatusFailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(some) != 2 {
		t.Fatalf("expected 2 filtered tasks, got %d", len(some))
	}
}

func TestReadyTasksDependencyGate(t *testing.T) {
	s := tempStore(t)

	dep := testTask("first")
	dep.CreatedAt = 1000
	depID, err := s.InsertTask(dep)
	if err != nil {
		t.Fatal(err)
	}
	child := testTask("second")
	child.DependsOn = []string{depID}
	child.CreatedAt = 2000
	childID, err := s.InsertTask(child)
	if err != nil {
		t.Fatal(err)
	}

	ready, err := s.ReadyTasks(nowMs())
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0].ID != depID {
		t.Fatalf("ready = %v, want only the dependency", taskIDs(ready))
	}

	dep.Status = StatusCompleted
	dep.CompletedAt = nowMs()
	if err := s.UpdateTask(dep); err != nil {
		t.Fatal(err)
	}

	ready, err = s.ReadyTasks(nowMs())
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0].ID != childID {
		t.Fatalf("ready after completion = %v, want only the child", taskIDs(ready))
	}
}

func TestReadyTasksPriorityOrder(t *testing.T) {
	s := tempStore(t)

	// Explicit created_at values make the ordering deterministic.
	priorities := []string{PriorityLow, PriorityCritical, PriorityMedium, PriorityHigh}
	for i, p := range priorities {
		task := testTask(p)
		task.Priority = p
		task.CreatedAt = int64(1000 + i)
		if _, err := s.InsertTask(task); err != nil {
			t.Fatal(err)
		}
	}
	older := testTask("critical-older")
	older.Priority = PriorityCritical
	older.CreatedAt = 500
	if _, err := s.InsertTask(older); err != nil {
		t.Fatal(err)
	}

	ready, err := s.ReadyTasks(nowMs())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"critical-older", "critical", "high", "medium", "low"}
	if len(ready) != len(want) {
		t.Fatalf("expected %d ready tasks, got %d", len(want), len(ready))
	}
	for i, title := range want {
		if ready[i].Title != title {
			t.Errorf("ready[%d] = %s, want %s", i, ready[i].Title, title)
		}
	}
}

func TestReadyTasksScheduledFor(t *testing.T) {
	s := tempStore(t)

	now := nowMs()
	task := testTask("later")
	task.ScheduledFor = now + 60_000
	if _, err := s.InsertTask(task); err != nil {
		t.Fatal(err)
	}

	ready, err := s.ReadyTasks(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no ready tasks before scheduled_for, got %d", len(ready))
	}

	ready, err = s.ReadyTasks(now + 60_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 {
		t.Fatalf("expected 1 ready task at scheduled_for, got %d", len(ready))
	}
}

func TestBlockedTasksWaitingOn(t *testing.T) {
	s := tempStore(t)

	depID, err := s.InsertTask(testTask("dep"))
	if err != nil {
		t.Fatal(err)
	}
	blocked := testTask("waiting")
	blocked.Status = StatusBlocked
	blocked.BlockedBy = depID
	blocked.DependsOn = []string{depID}
	blockedID, err := s.InsertTask(blocked)
	if err != nil {
		t.Fatal(err)
	}

	waiting, err := s.BlockedTasksWaitingOn(depID)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiting) != 1 || waiting[0].ID != blockedID {
		t.Fatalf("waiting = %v, want [%s]", taskIDs(waiting), blockedID)
	}

	waiting, err = s.BlockedTasksWaitingOn("task_0_00000000")
	if err != nil {
		t.Fatal(err)
	}
	if len(waiting) != 0 {
		t.Errorf("expected no tasks waiting on unknown id, got %d", len(waiting))
	}
}

func TestCountTasksByStatus(t *testing.T) {
	s := tempStore(t)

	for _, status := range []string{StatusPending, StatusPending, StatusFailed} {
		task := testTask("t")
		task.Status = status
		if _, err := s.InsertTask(task); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := s.CountTasksByStatus()
	if err != nil {
		t.Fatal(err)
	}
	if counts[StatusPending] != 2 || counts[StatusFailed] != 1 {
		t.Errorf("counts = %v, want pending:2 failed:1", counts)
	}
}

func TestScanTaskRejectsCorruptStatus(t *testing.T) {
	s := tempStore(t)

	id, err := s.InsertTask(testTask("fine"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`UPDATE tasks SET status = 'bogus' WHERE id = ?`, id); err != nil {
		t.Fatal(err)
	}

	_, err = s.GetTask(id)
	if err == nil || !strings.Contains(err.Error(), "unknown status") {
		t.Fatalf("expected unknown status error, got %v", err)
	}
}

func TestExecutionLifecycle(t *testing.T) {
	s := tempStore(t)

	taskID, err := s.InsertTask(testTask("work"))
	if err != nil {
		t.Fatal(err)
	}

	execID, err := s.InsertExecution(&Execution{TaskID: taskID, Model: "ollama/llama3"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(execID, "exec_") {
		t.Errorf("id = %q, want exec_ prefix", execID)
	}

	open, err := s.DanglingExecutions()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 dangling execution, got %d", len(open))
	}

	if err := s.FinishExecution(execID, true, "", 250, 0.0125); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetExecution(execID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Success || got.CompletedAt == 0 {
		t.Errorf("success/completed_at = %v/%d after finish", got.Success, got.CompletedAt)
	}
	if got.TokensUsed != 250 {
		t.Errorf("tokens = %d, want 250", got.TokensUsed)
	}
	if math.Abs(got.CostUSD-0.0125) > 1e-9 {
		t.Errorf("cost = %f, want 0.0125", got.CostUSD)
	}

	forTask, err := s.ExecutionsForTask(taskID)
	if err != nil {
		t.Fatal(err)
	}
	if len(forTask) != 1 || forTask[0].ID != execID {
		t.Fatalf("executions for task = %d, want the one inserted", len(forTask))
	}

	if err := s.FinishExecution("exec_0_00000000", false, "x", 0, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound finishing missing execution, got %v", err)
	}
}

func TestCloseDanglingExecutions(t *testing.T) {
	s := tempStore(t)

	taskID, err := s.InsertTask(testTask("work"))
	if err != nil {
		t.Fatal(err)
	}
	first, err := s.InsertExecution(&Execution{TaskID: taskID, Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertExecution(&Execution{TaskID: taskID, Model: "m"}); err != nil {
		t.Fatal(err)
	}
	closedID, err := s.InsertExecution(&Execution{TaskID: taskID, Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FinishExecution(closedID, true, "", 0, 0); err != nil {
		t.Fatal(err)
	}

	n, err := s.CloseDanglingExecutions("orphaned")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("closed %d executions, want 2", n)
	}

	got, err := s.GetExecution(first)
	if err != nil {
		t.Fatal(err)
	}
	if got.Success || got.Error != "orphaned" || got.CompletedAt == 0 {
		t.Errorf("dangling close left success=%v error=%q completed=%d", got.Success, got.Error, got.CompletedAt)
	}

	// Already-finished executions are untouched.
	kept, err := s.GetExecution(closedID)
	if err != nil {
		t.Fatal(err)
	}
	if !kept.Success {
		t.Error("finished execution was overwritten by dangling close")
	}

	open, err := s.DanglingExecutions()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Errorf("expected 0 dangling after close, got %d", len(open))
	}
}

func TestGetTodayStats(t *testing.T) {
	s := tempStore(t)

	taskID, err := s.InsertTask(testTask("work"))
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.InsertExecution(&Execution{TaskID: taskID, Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FinishExecution(ok, true, "", 100, 0.5); err != nil {
		t.Fatal(err)
	}
	bad, err := s.InsertExecution(&Execution{TaskID: taskID, Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FinishExecution(bad, false, "timeout", 40, 0.1); err != nil {
		t.Fatal(err)
	}
	// Still open, so excluded from the aggregate.
	if _, err := s.InsertExecution(&Execution{TaskID: taskID, Model: "m"}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.GetTodayStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("completed/failed = %d/%d, want 1/1", stats.Completed, stats.Failed)
	}
	if stats.TokensUsed != 140 {
		t.Errorf("tokens = %d, want 140", stats.TokensUsed)
	}
	if math.Abs(stats.CostUSD-0.6) > 1e-9 {
		t.Errorf("cost = %f, want 0.6", stats.CostUSD)
	}
}

func TestRateWindowSeedAndSave(t *testing.T) {
	s := tempStore(t)

	w, err := s.GetRateWindow("anthropic/claude-sonnet")
	if err != nil {
		t.Fatal(err)
	}
	if w != nil {
		t.Fatalf("expected nil window before seeding, got %+v", w)
	}

	if err := s.SeedRateWindow("anthropic/claude-sonnet", 50, 3_600_000); err != nil {
		t.Fatal(err)
	}
	w, err = s.GetRateWindow("anthropic/claude-sonnet")
	if err != nil {
		t.Fatal(err)
	}
	if w == nil {
		t.Fatal("expected window after seeding")
	}
	if w.CurrentUsage != 0 || w.MaxRequests != 50 || w.WindowDuration != 3_600_000 {
		t.Errorf("seeded window = %+v", w)
	}
	if w.WindowStart == 0 {
		t.Error("expected window_start to be stamped on seed")
	}

	w.CurrentUsage = 7
	if err := s.SaveRateWindow(w); err != nil {
		t.Fatal(err)
	}

	// Reseeding with new caps keeps in-window usage and the window start.
	if err := s.SeedRateWindow("anthropic/claude-sonnet", 80, 1_800_000); err != nil {
		t.Fatal(err)
	}
	w2, err := s.GetRateWindow("anthropic/claude-sonnet")
	if err != nil {
		t.Fatal(err)
	}
	if w2.CurrentUsage != 7 {
		t.Errorf("usage after reseed = %d, want 7", w2.CurrentUsage)
	}
	if w2.MaxRequests != 80 || w2.WindowDuration != 1_800_000 {
		t.Errorf("caps after reseed = %d/%d, want 80/1800000", w2.MaxRequests, w2.WindowDuration)
	}
	if w2.WindowStart != w.WindowStart {
		t.Errorf("window_start changed on reseed: %d -> %d", w.WindowStart, w2.WindowStart)
	}

	missing := &RateWindow{Model: "never-seeded", MaxRequests: 1, WindowDuration: 1}
	if err := s.SaveRateWindow(missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound saving unseeded window, got %v", err)
	}

	windows, err := s.ListRateWindows()
	if err != nil {
		t.Fatal(err)
	}
	if len(windows) != 1 {
		t.Errorf("expected 1 window, got %d", len(windows))
	}
}

func TestProjects(t *testing.T) {
	s := tempStore(t)

	id, err := s.InsertProject(&Project{Name: "refactor", Description: "clean up the API", Target: "v2"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "proj_") {
		t.Errorf("id = %q, want proj_ prefix", id)
	}

	p, err := s.GetProject(id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != ProjectActive {
		t.Errorf("status = %q, want active default", p.Status)
	}
	if p.Name != "refactor" || p.Target != "v2" {
		t.Errorf("round trip lost fields: %+v", p)
	}

	if err := s.UpdateProjectStatus(id, ProjectCompleted); err != nil {
		t.Fatal(err)
	}
	p, err = s.GetProject(id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != ProjectCompleted {
		t.Errorf("status = %q after update, want completed", p.Status)
	}

	if err := s.UpdateProjectStatus(id, "archived"); err == nil {
		t.Error("expected error for unknown project status")
	}
	if err := s.UpdateProjectStatus("proj_0_00000000", ProjectPaused); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.GetProject("proj_0_00000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	projects, err := s.ListProjects()
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 {
		t.Errorf("expected 1 project, got %d", len(projects))
	}
}

func TestAgentUpsertPreservesScore(t *testing.T) {
	s := tempStore(t)

	id, err := s.UpsertAgent(&Agent{Name: "architect", Model: "anthropic/claude-sonnet", Role: "design"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "agent_") {
		t.Errorf("id = %q, want agent_ prefix", id)
	}

	if err := s.UpdateAgentScore("architect", 4.5); err != nil {
		t.Fatal(err)
	}

	// Re-registering refreshes model and role but keeps the score.
	if _, err := s.UpsertAgent(&Agent{Name: "architect", Model: "ollama/llama3", Role: "review"}); err != nil {
		t.Fatal(err)
	}

	a, err := s.GetAgentByName("architect")
	if err != nil {
		t.Fatal(err)
	}
	if a == nil {
		t.Fatal("expected agent after upsert")
	}
	if a.ID != id {
		t.Errorf("id changed on upsert: %q -> %q", id, a.ID)
	}
	if a.Model != "ollama/llama3" || a.Role != "review" {
		t.Errorf("model/role = %q/%q after upsert", a.Model, a.Role)
	}
	if a.Score != 4.5 {
		t.Errorf("score = %f after upsert, want 4.5 preserved", a.Score)
	}

	missing, err := s.GetAgentByName("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown agent, got %+v", missing)
	}
}

func TestAgentScoreRanking(t *testing.T) {
	s := tempStore(t)

	for name, score := range map[string]float64{"alpha": 3, "beta": 1, "gamma": 2} {
		if _, err := s.UpsertAgent(&Agent{Name: name, Model: "m"}); err != nil {
			t.Fatal(err)
		}
		if err := s.UpdateAgentScore(name, score); err != nil {
			t.Fatal(err)
		}
	}

	lowest, err := s.LowestScoringAgents(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lowest) != 2 || lowest[0].Name != "beta" || lowest[1].Name != "gamma" {
		t.Fatalf("lowest = %v, want [beta gamma]", agentNames(lowest))
	}

	top, err := s.TopScoringAgents(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0].Name != "alpha" {
		t.Fatalf("top = %v, want [alpha]", agentNames(top))
	}

	none, err := s.TopScoringAgents(0)
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Errorf("expected nil for k=0, got %v", agentNames(none))
	}

	if err := s.TouchAgent("beta"); err != nil {
		t.Fatal(err)
	}
	a, err := s.GetAgentByName("beta")
	if err != nil {
		t.Fatal(err)
	}
	if a.LastUsed == 0 {
		t.Error("expected last_used after touch")
	}

	if err := s.UpdateAgentScore("nobody", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func taskIDs(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return ids
}

func agentNames(agents []Agent) []string {
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	return names
}
