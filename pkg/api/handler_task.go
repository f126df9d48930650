package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harrowgate/conductor/pkg/dispatch"
	"github.com/harrowgate/conductor/pkg/store"
)

func (s *Server) createTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	task, err := s.store.CreateTask(c.Request.Context(), store.CreateTaskParams{
		GoalID:      c.Param("goalID"),
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		DependsOn:   req.DependsOn,
		Settings:    req.Settings,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, taskResponse(task))
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.store.ListTasks(c.Request.Context(), c.Param("goalID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskResponses(tasks))
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.store.GetTask(c.Request.Context(), c.Param("taskID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskResponse(task))
}

func (s *Server) updateTask(c *gin.Context) {
	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	var status *store.TaskStatus
	if req.Status != nil {
		st := store.TaskStatus(*req.Status)
		status = &st
	}

	var settings **store.Settings
	if req.Settings != nil {
		settings = &req.Settings
	}

	task, err := s.store.UpdateTask(c.Request.Context(), c.Param("taskID"), store.UpdateTaskParams{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		DependsOn:   req.DependsOn,
		Status:      status,
		Settings:    settings,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskResponse(task))
}

// retryTask forces a failed Task back to pending so the next dispatch
// pass can pick it up again.
// ForceTaskPending bypasses the normal transition table deliberately,
// mirroring the crash-recovery path it was written for.
func (s *Server) retryTask(c *gin.Context) {
	taskID := c.Param("taskID")
	task, err := s.store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	if task.Status != store.TaskFailed {
		badRequest(c, "only a failed task can be retried")
		return
	}
	if err := s.store.ForceTaskPending(c.Request.Context(), taskID); err != nil {
		writeError(c, err)
		return
	}

	s.dispatcher.Enqueue(dispatch.Message{GoalID: task.GoalID})

	task, err = s.store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskResponse(task))
}

// dispatchTask spawns an agent for exactly this task, bypassing the
// Dispatcher's own unblocked-set query. It still enforces the same
// eligibility the Dispatcher would: the task must be pending and have
// every dependency done.
func (s *Server) dispatchTask(c *gin.Context) {
	taskID := c.Param("taskID")
	task, err := s.store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}
	if task.Status != store.TaskPending {
		badRequest(c, "task is not pending")
		return
	}

	goal, err := s.store.GetGoal(c.Request.Context(), task.GoalID)
	if err != nil {
		writeError(c, err)
		return
	}

	unblocked, err := s.store.UnblockedTasks(c.Request.Context(), task.GoalID)
	if err != nil {
		writeError(c, err)
		return
	}
	eligible := false
	for _, u := range unblocked {
		if u.ID == taskID {
			eligible = true
			break
		}
	}
	if !eligible {
		badRequest(c, "task has unfinished dependencies")
		return
	}

	effective := goal.Settings
	if task.Settings != nil {
		effective = goal.Settings.Merge(*task.Settings)
	}

	opID := s.runOperation(task.GoalID, opTypeDispatch, func(ctx context.Context) (any, error) {
		prompt := dispatch.BuildPrompt(goal, task)
		if err := s.supervisor.Spawn(ctx, task, goal, effective, prompt); err != nil {
			return nil, err
		}
		return gin.H{"task_id": task.ID}, nil
	})

	c.JSON(http.StatusAccepted, OperationResponse{OperationID: opID})
}
