package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harrowgate/conductor/pkg/dispatch"
	"github.com/harrowgate/conductor/pkg/store"
)

func (s *Server) createGoal(c *gin.Context) {
	var req CreateGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	settings := req.Settings.WithDefaults(s.defaultSettings)
	goal, err := s.store.CreateGoal(c.Request.Context(), store.CreateGoalParams{
		Name:        req.Name,
		Description: req.Description,
		RepoPath:    req.RepoPath,
		Settings:    settings,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, goalResponse(goal))
}

func (s *Server) listGoals(c *gin.Context) {
	goals, err := s.store.ListGoals(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, goalResponses(goals))
}

func (s *Server) getGoal(c *gin.Context) {
	goal, err := s.store.GetGoal(c.Request.Context(), c.Param("goalID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, goalResponse(goal))
}

func (s *Server) updateGoal(c *gin.Context) {
	var req UpdateGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	var status *store.GoalStatus
	if req.Status != nil {
		st := store.GoalStatus(*req.Status)
		status = &st
	}

	goal, err := s.store.UpdateGoal(c.Request.Context(), c.Param("goalID"), store.UpdateGoalParams{
		Name:        req.Name,
		Description: req.Description,
		Status:      status,
		Settings:    req.Settings,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, goalResponse(goal))
}

func (s *Server) archiveGoal(c *gin.Context) {
	if err := s.store.ArchiveGoal(c.Request.Context(), c.Param("goalID")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// decomposeGoal kicks off the external Decomposer in the background and
// returns 202 with an operation id immediately. Progress and the
// final task list arrive as OperationUpdate envelopes on /api/events.
func (s *Server) decomposeGoal(c *gin.Context) {
	if s.decomposer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no decomposition collaborator configured"})
		return
	}

	goalID := c.Param("goalID")
	goal, err := s.store.GetGoal(c.Request.Context(), goalID)
	if err != nil {
		writeError(c, err)
		return
	}

	opID := s.runOperation(goalID, opTypeDecompose, func(ctx context.Context) (any, error) {
		specs, err := s.decomposer.Decompose(ctx, goal)
		if err != nil {
			return nil, err
		}
		created, err := createDecomposedTasks(ctx, s.store, goalID, specs)
		if err != nil {
			return nil, err
		}
		return taskResponses(created), nil
	})

	c.JSON(http.StatusAccepted, OperationResponse{OperationID: opID})
}

// dispatchGoal asks the Dispatcher to re-evaluate the Goal's unblocked
// tasks right away, instead of waiting for the next merge-completion
// signal.
func (s *Server) dispatchGoal(c *gin.Context) {
	goalID := c.Param("goalID")
	if _, err := s.store.GetGoal(c.Request.Context(), goalID); err != nil {
		writeError(c, err)
		return
	}

	ok := s.dispatcher.Enqueue(dispatch.Message{GoalID: goalID})
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatch queue is full"})
		return
	}
	c.Status(http.StatusAccepted)
}

// retryFailedTasks resets every failed Task in the Goal back to pending and
// triggers a dispatch pass.
func (s *Server) retryFailedTasks(c *gin.Context) {
	goalID := c.Param("goalID")
	if _, err := s.store.GetGoal(c.Request.Context(), goalID); err != nil {
		writeError(c, err)
		return
	}

	tasks, err := s.store.ListTasks(c.Request.Context(), goalID)
	if err != nil {
		writeError(c, err)
		return
	}

	retried := 0
	for _, t := range tasks {
		if t.Status != store.TaskFailed {
			continue
		}
		if err := s.store.ForceTaskPending(c.Request.Context(), t.ID); err != nil {
			writeError(c, err)
			return
		}
		retried++
	}

	if retried > 0 {
		s.dispatcher.Enqueue(dispatch.Message{GoalID: goalID})
	}
	c.JSON(http.StatusOK, gin.H{"retried": retried})
}

func (s *Server) getGoalHistory(c *gin.Context) {
	history, err := s.store.ListHistory(c.Request.Context(), c.Param("goalID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) listGoalMessages(c *gin.Context) {
	msgs, err := s.store.ListGoalMessages(c.Request.Context(), c.Param("goalID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) createGoalMessage(c *gin.Context) {
	var req struct {
		Role    string `json:"role" binding:"required"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	msg, err := s.store.AppendGoalMessage(c.Request.Context(), store.AppendGoalMessageParams{
		GoalID:  c.Param("goalID"),
		Role:    req.Role,
		Content: req.Content,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
