package api

import "github.com/harrowgate/conductor/pkg/store"

// CreateGoalRequest is the body of POST /api/goals.
type CreateGoalRequest struct {
	Name        string         `json:"name" binding:"required"`
	Description string         `json:"description"`
	RepoPath    string         `json:"repo_path" binding:"required"`
	Settings    store.Settings `json:"settings"`
}

// UpdateGoalRequest is the body of PUT /api/goals/{id}. Nil fields are left
// unchanged.
type UpdateGoalRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Status      *string         `json:"status"`
	Settings    *store.Settings `json:"settings"`
}

// CreateTaskRequest is the body of POST /api/goals/{id}/tasks.
type CreateTaskRequest struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	Priority    int             `json:"priority"`
	DependsOn   []string        `json:"depends_on"`
	Settings    *store.Settings `json:"settings"`
}

// UpdateTaskRequest is the body of PUT /api/tasks/{id}.
type UpdateTaskRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Priority    *int            `json:"priority"`
	DependsOn   *[]string       `json:"depends_on"`
	Status      *string         `json:"status"`
	Settings    *store.Settings `json:"settings"`
}

// NudgeRequest is the body of POST /api/agents/{id}/nudge.
type NudgeRequest struct {
	Message string `json:"message" binding:"required"`
}

// HookStopRequest is the body of POST /api/hooks/stop.
type HookStopRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}
