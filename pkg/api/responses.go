package api

import (
	"time"

	"github.com/harrowgate/conductor/pkg/store"
)

// GoalResponse is the wire shape of a Goal.
type GoalResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	RepoPath    string         `json:"repo_path"`
	Status      string         `json:"status"`
	Settings    store.Settings `json:"settings"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func goalResponse(g *store.Goal) GoalResponse {
	return GoalResponse{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		RepoPath:    g.RepoPath,
		Status:      string(g.Status),
		Settings:    g.Settings,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

func goalResponses(gs []*store.Goal) []GoalResponse {
	out := make([]GoalResponse, len(gs))
	for i, g := range gs {
		out[i] = goalResponse(g)
	}
	return out
}

// TaskResponse is the wire shape of a Task.
type TaskResponse struct {
	ID          string          `json:"id"`
	GoalID      string          `json:"goal_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    int             `json:"priority"`
	DependsOn   []string        `json:"depends_on"`
	Status      string          `json:"status"`
	Settings    *store.Settings `json:"settings,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func taskResponse(t *store.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		GoalID:      t.GoalID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		DependsOn:   t.DependsOn,
		Status:      string(t.Status),
		Settings:    t.Settings,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func taskResponses(ts []*store.Task) []TaskResponse {
	out := make([]TaskResponse, len(ts))
	for i, t := range ts {
		out[i] = taskResponse(t)
	}
	return out
}

// AgentRunResponse is the wire shape of an AgentRun.
type AgentRunResponse struct {
	ID             string     `json:"id"`
	TaskID         string     `json:"task_id"`
	GoalID         string     `json:"goal_id"`
	SessionID      string     `json:"session_id,omitempty"`
	WorktreePath   string     `json:"worktree_path"`
	Branch         string     `json:"branch"`
	Status         string     `json:"status"`
	Model          string     `json:"model,omitempty"`
	CostUSD        float64    `json:"cost_usd"`
	InputTokens    int64      `json:"input_tokens"`
	OutputTokens   int64      `json:"output_tokens"`
	MaxBudgetUSD   *float64   `json:"max_budget_usd,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

func agentRunResponse(r *store.AgentRun) AgentRunResponse {
	return AgentRunResponse{
		ID:             r.ID,
		TaskID:         r.TaskID,
		GoalID:         r.GoalID,
		SessionID:      r.SessionID,
		WorktreePath:   r.WorktreePath,
		Branch:         r.Branch,
		Status:         string(r.Status),
		Model:          r.Model,
		CostUSD:        r.CostUSD,
		InputTokens:    r.InputTokens,
		OutputTokens:   r.OutputTokens,
		MaxBudgetUSD:   r.MaxBudgetUSD,
		StartedAt:      r.StartedAt,
		LastActivityAt: r.LastActivityAt,
		FinishedAt:     r.FinishedAt,
	}
}

func agentRunResponses(rs []*store.AgentRun) []AgentRunResponse {
	out := make([]AgentRunResponse, len(rs))
	for i, r := range rs {
		out[i] = agentRunResponse(r)
	}
	return out
}

// AgentEventResponse is the wire shape of an AgentEvent.
type AgentEventResponse struct {
	ID         int64     `json:"id"`
	AgentRunID string    `json:"agent_run_id"`
	EventType  string    `json:"event_type"`
	ToolName   string    `json:"tool_name,omitempty"`
	Summary    string    `json:"summary"`
	RawPayload string    `json:"raw_payload,omitempty"`
	CostDelta  *float64  `json:"cost_delta,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func agentEventResponse(e *store.AgentEvent) AgentEventResponse {
	return AgentEventResponse{
		ID:         e.ID,
		AgentRunID: e.AgentRunID,
		EventType:  string(e.EventType),
		ToolName:   e.ToolName,
		Summary:    e.Summary,
		RawPayload: e.RawPayload,
		CostDelta:  e.CostDelta,
		CreatedAt:  e.CreatedAt,
	}
}

func agentEventResponses(es []*store.AgentEvent) []AgentEventResponse {
	out := make([]AgentEventResponse, len(es))
	for i, e := range es {
		out[i] = agentEventResponse(e)
	}
	return out
}

// StatsResponse is the wire shape of GET /api/stats.
type StatsResponse struct {
	TotalGoals       int `json:"total_goals"`
	ActiveGoals      int `json:"active_goals"`
	CompletedGoals   int `json:"completed_goals"`
	TotalTasks       int `json:"total_tasks"`
	RunningAgentRuns int `json:"running_agent_runs"`
	TotalAgentRuns   int `json:"total_agent_runs"`
	Subscribers      int `json:"subscribers"`
}

// OperationResponse is returned by the two 202-Accepted endpoints.
type OperationResponse struct {
	OperationID string `json:"operation_id"`
}
