package store

// Task statuses. Transitions between them are enforced by the queue; the
// store only validates that persisted values are members of the set.
const (
	StatusPending   = "pending"
	StatusScheduled = "scheduled"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusBlocked   = "blocked"
	StatusCancelled = "cancelled"
)

// Task priorities, highest first.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Task categories.
const (
	CategoryPlanning  = "planning"
	CategoryReasoning = "reasoning"
	CategoryCoding    = "coding"
	CategoryReview    = "review"
	CategoryQuick     = "quick"
	CategoryVision    = "vision"
	CategoryImageGen  = "image_gen"
)

// Project statuses.
const (
	ProjectActive    = "active"
	ProjectPaused    = "paused"
	ProjectCompleted = "completed"
	ProjectCancelled = "cancelled"
)

var taskStatuses = map[string]struct{}{
	StatusPending: {}, StatusScheduled: {}, StatusRunning: {}, StatusCompleted: {},
	StatusFailed: {}, StatusBlocked: {}, StatusCancelled: {},
}

var taskPriorities = map[string]struct{}{
	PriorityCritical: {}, PriorityHigh: {}, PriorityMedium: {}, PriorityLow: {},
}

var taskCategories = map[string]struct{}{
	CategoryPlanning: {}, CategoryReasoning: {}, CategoryCoding: {}, CategoryReview: {},
	CategoryQuick: {}, CategoryVision: {}, CategoryImageGen: {},
}

var projectStatuses = map[string]struct{}{
	ProjectActive: {}, ProjectPaused: {}, ProjectCompleted: {}, ProjectCancelled: {},
}

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	_, ok := taskStatuses[s]
	return ok
}

// ValidPriority reports whether p is a known task priority.
func ValidPriority(p string) bool {
	_, ok := taskPriorities[p]
	return ok
}

// ValidCategory reports whether c is a known task category.
func ValidCategory(c string) bool {
	_, ok := taskCategories[c]
	return ok
}

// ValidProjectStatus reports whether s is a known project status.
func ValidProjectStatus(s string) bool {
	_, ok := projectStatuses[s]
	return ok
}

// Task is one unit of routed model work. All timestamps are integer
// milliseconds since the Unix epoch; zero means unset for the optional ones.
type Task struct {
	ID                string   `json:"id"`
	ProjectID         string   `json:"project_id,omitempty"`
	Title             string   `json:"title"`
	Prompt            string   `json:"prompt"`
	Category          string   `json:"category"`
	Priority          string   `json:"priority"`
	Status            string   `json:"status"`
	DependsOn         []string `json:"depends_on,omitempty"`
	BlockedBy         string   `json:"blocked_by,omitempty"`
	PreferredModel    string   `json:"preferred_model,omitempty"`
	Deadline          int64    `json:"deadline,omitempty"`
	EstimatedDuration int64    `json:"estimated_duration,omitempty"`
	Attempts          int      `json:"attempts"`
	MaxAttempts       int      `json:"max_attempts"`
	LastError         string   `json:"last_error,omitempty"`
	Result            string   `json:"result,omitempty"`
	ScheduledFor      int64    `json:"scheduled_for,omitempty"`
	CreatedAt         int64    `json:"created_at"`
	UpdatedAt         int64    `json:"updated_at"`
	CompletedAt       int64    `json:"completed_at,omitempty"`
}

// Project groups related tasks.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Target      string `json:"target,omitempty"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Execution records one attempt at running a task against a model.
type Execution struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	Model       string  `json:"model"`
	StartedAt   int64   `json:"started_at"`
	CompletedAt int64   `json:"completed_at,omitempty"`
	Success     bool    `json:"success"`
	Error       string  `json:"error,omitempty"`
	TokensUsed  int     `json:"tokens_used"`
	CostUSD     float64 `json:"cost_usd"`
}

// RateWindow is the persisted fixed-window counter for one model.
type RateWindow struct {
	Model          string `json:"model"`
	CurrentUsage   int    `json:"current_usage"`
	MaxRequests    int    `json:"max_requests"`
	WindowStart    int64  `json:"window_start"`
	WindowDuration int64  `json:"window_duration"`
	UpdatedAt      int64  `json:"updated_at"`
}

// Agent is a persona registry row hosted for the council and CLI consumers.
// MemoryUsed is best-effort: collaborators write it, nothing here refreshes it.
type Agent struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Model      string  `json:"model"`
	Role       string  `json:"role,omitempty"`
	Score      float64 `json:"score"`
	MemoryUsed int64   `json:"memory_used"`
	LastUsed   int64   `json:"last_used,omitempty"`
	CreatedAt  int64   `json:"created_at"`
}

// TodayStats aggregates executions since local midnight.
type TodayStats struct {
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}
