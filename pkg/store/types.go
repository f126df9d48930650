package store

import "time"

// GoalStatus is the lifecycle status of a Goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalArchived  GoalStatus = "archived"
)

// TaskStatus is the lifecycle status of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskStalled   TaskStatus = "stalled"
	TaskDone      TaskStatus = "done"
	TaskFailed    TaskStatus = "failed"
	TaskKilled    TaskStatus = "killed"
	TaskBlocked   TaskStatus = "blocked"
)

// AgentRunStatus is the lifecycle status of an AgentRun.
type AgentRunStatus string

const (
	AgentRunSpawning AgentRunStatus = "spawning"
	AgentRunRunning  AgentRunStatus = "running"
	AgentRunStalled  AgentRunStatus = "stalled"
	AgentRunDone     AgentRunStatus = "done"
	AgentRunFailed   AgentRunStatus = "failed"
	AgentRunKilled   AgentRunStatus = "killed"
)

// terminalTaskStatuses are the statuses from which a Task does not progress
// without an explicit retry/unblock.
var terminalTaskStatuses = map[TaskStatus]bool{
	TaskDone:   true,
	TaskKilled: true,
}

// terminalAgentRunStatuses are statuses that set finished_at and permanently
// end an AgentRun's lifecycle.
var terminalAgentRunStatuses = map[AgentRunStatus]bool{
	AgentRunDone:   true,
	AgentRunFailed: true,
	AgentRunKilled: true,
}

// IsTerminal reports whether an AgentRun status is terminal.
func (s AgentRunStatus) IsTerminal() bool { return terminalAgentRunStatuses[s] }

// taskTransitions enumerates the allowed from->to edges of the Task state
// machine. Identity transitions are always allowed and are not listed here.
var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending:  {TaskAssigned: true, TaskBlocked: true, TaskRunning: true},
	TaskAssigned: {TaskRunning: true, TaskPending: true},
	TaskRunning:  {TaskDone: true, TaskFailed: true, TaskStalled: true},
	TaskStalled:  {TaskRunning: true, TaskFailed: true, TaskKilled: true},
	TaskFailed:   {TaskPending: true},
	TaskBlocked:  {TaskPending: true},
}

// ValidTaskTransition reports whether from->to is an allowed Task
// transition.
func ValidTaskTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	return taskTransitions[from][to]
}

// agentRunTransitions enumerates the allowed from->to edges of the AgentRun
// state machine.
var agentRunTransitions = map[AgentRunStatus]map[AgentRunStatus]bool{
	AgentRunSpawning: {AgentRunRunning: true, AgentRunFailed: true},
	AgentRunRunning:  {AgentRunStalled: true, AgentRunDone: true, AgentRunFailed: true, AgentRunKilled: true},
	AgentRunStalled:  {AgentRunRunning: true, AgentRunFailed: true, AgentRunKilled: true},
}

// ValidAgentRunTransition reports whether from->to is an allowed AgentRun
// transition.
func ValidAgentRunTransition(from, to AgentRunStatus) bool {
	if from == to {
		return true
	}
	return agentRunTransitions[from][to]
}

// AgentEventType is the closed set of semantic events the Event Parser yields.
type AgentEventType string

const (
	EventToolCall       AgentEventType = "tool_call"
	EventToolResult     AgentEventType = "tool_result"
	EventTextOutput     AgentEventType = "text_output"
	EventCostUpdate     AgentEventType = "cost_update"
	EventResult         AgentEventType = "result"
	EventSystem         AgentEventType = "system"
	EventWarning        AgentEventType = "warning"
	EventError          AgentEventType = "error"
	EventMergeCompleted AgentEventType = "merge_completed"
	EventMergeFailed    AgentEventType = "merge_failed"
)

// GoalHistoryType is the set of audit event kinds recorded in GoalHistory.
type GoalHistoryType string

const (
	HistoryGoalCreated   GoalHistoryType = "created"
	HistoryTaskAdded     GoalHistoryType = "task_added"
	HistoryAgentSpawned  GoalHistoryType = "agent_spawned"
	HistoryTaskCompleted GoalHistoryType = "task_completed"
	HistoryGoalCompleted GoalHistoryType = "goal_completed"
)

// Settings is the mapping of all-optional per-Goal/per-Task knobs. Zero
// values mean "unset" except where a pointer type is used to distinguish
// "unset" from "explicitly zero".
type Settings struct {
	Model           string   `json:"model,omitempty"`
	MaxBudgetUSD    *float64 `json:"max_budget_usd,omitempty"`
	MaxTurns        *uint32  `json:"max_turns,omitempty"`
	AllowedTools    []string `json:"allowed_tools,omitempty"`
	PermissionMode  string   `json:"permission_mode,omitempty"`
	SystemPrompt    string   `json:"system_prompt,omitempty"`
}

// Merge returns the field-wise overlay of override atop s: override wins
// wherever it sets a field.
func (s Settings) Merge(override Settings) Settings {
	out := s
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.MaxBudgetUSD != nil {
		out.MaxBudgetUSD = override.MaxBudgetUSD
	}
	if override.MaxTurns != nil {
		out.MaxTurns = override.MaxTurns
	}
	if len(override.AllowedTools) > 0 {
		out.AllowedTools = override.AllowedTools
	}
	if override.PermissionMode != "" {
		out.PermissionMode = override.PermissionMode
	}
	if override.SystemPrompt != "" {
		out.SystemPrompt = override.SystemPrompt
	}
	return out
}

// WithDefaults fills any field still unset after Merge with system defaults.
func (s Settings) WithDefaults(defaults Settings) Settings {
	return defaults.Merge(s)
}

// Goal is the root of a task dependency graph, tied to one repository.
type Goal struct {
	ID          string
	Name        string
	Description string
	RepoPath    string
	Status      GoalStatus
	Settings    Settings
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Task is an atomic unit of work within a Goal.
type Task struct {
	ID          string
	GoalID      string
	Title       string
	Description string
	Priority    int
	DependsOn   []string
	Status      TaskStatus
	Settings    *Settings // per-task overrides; nil means no overrides
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AgentRun is one attempt by an agent subprocess to carry out one Task.
type AgentRun struct {
	ID              string
	TaskID          string
	GoalID          string
	SessionID       string // external agent's session id, filled in from the event stream
	WorktreePath    string
	Branch          string
	Status          AgentRunStatus
	Model           string
	CostUSD         float64
	InputTokens     int64
	OutputTokens    int64
	MaxBudgetUSD    *float64
	StartedAt       time.Time
	LastActivityAt  time.Time
	FinishedAt      *time.Time
}

// AgentEvent is one entry in an AgentRun's append-only event log.
type AgentEvent struct {
	ID         int64
	AgentRunID string
	EventType  AgentEventType
	ToolName   string
	Summary    string
	RawPayload string
	CostDelta  *float64
	CreatedAt  time.Time
}

// GoalHistoryEntry is one entry in a Goal's append-only audit trail.
type GoalHistoryEntry struct {
	ID          int64
	GoalID      string
	EventType   GoalHistoryType
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// Project is an optional grouping of Goals sharing a repository or theme.
type Project struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GoalMessage is one entry in a Goal's free-form operator/agent chat log,
// distinct from the structured GoalHistory audit trail.
type GoalMessage struct {
	ID        int64
	GoalID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Stats is a cheap aggregate overview for operators.
type Stats struct {
	TotalGoals       int
	ActiveGoals      int
	CompletedGoals   int
	TotalTasks       int
	RunningAgentRuns int
	TotalAgentRuns   int
}
