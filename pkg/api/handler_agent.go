package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) listAgentRuns(c *gin.Context) {
	runs, err := s.store.ListAgentRuns(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentRunResponses(runs))
}

func (s *Server) getAgentRun(c *gin.Context) {
	run, err := s.store.GetAgentRun(c.Request.Context(), c.Param("agentRunID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentRunResponse(run))
}

// listAgentEvents returns the full event log, or, with ?after=<id>, only
// events appended after that id — the poll fallback for clients that
// aren't using SSE.
func (s *Server) listAgentEvents(c *gin.Context) {
	agentRunID := c.Param("agentRunID")

	if afterParam := c.Query("after"); afterParam != "" {
		after, err := strconv.ParseInt(afterParam, 10, 64)
		if err != nil {
			badRequest(c, "after must be an integer id")
			return
		}
		events, err := s.store.ListAgentEventsSince(c.Request.Context(), agentRunID, after)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, agentEventResponses(events))
		return
	}

	events, err := s.store.ListAgentEvents(c.Request.Context(), agentRunID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentEventResponses(events))
}

func (s *Server) nudgeAgentRun(c *gin.Context) {
	var req NudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := s.supervisor.Nudge(c.Request.Context(), c.Param("agentRunID"), req.Message); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) killAgentRun(c *gin.Context) {
	if err := s.supervisor.Kill(c.Request.Context(), c.Param("agentRunID")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
