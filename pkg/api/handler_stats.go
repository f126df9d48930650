package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatsResponse{
		TotalGoals:       stats.TotalGoals,
		ActiveGoals:      stats.ActiveGoals,
		CompletedGoals:   stats.CompletedGoals,
		TotalTasks:       stats.TotalTasks,
		RunningAgentRuns: stats.RunningAgentRuns,
		TotalAgentRuns:   stats.TotalAgentRuns,
		Subscribers:      s.bus.SubscriberCount(),
	})
}
