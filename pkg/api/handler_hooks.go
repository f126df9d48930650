package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harrowgate/conductor/pkg/hooks"
	"github.com/harrowgate/conductor/pkg/store"
)

// hookStop binds the request and delegates to hooks.HandleStop, which
// carries the actual transition logic so it can be exercised and
// tested independently of gin.
func (s *Server) hookStop(c *gin.Context) {
	var req HookStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := hooks.HandleStop(c.Request.Context(), s.store, s.dispatcher, req.SessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// hookSubagentStop acknowledges a subagent's stop notification. Subagents
// don't map to an AgentRun of their own, so there is no state to advance —
// the parent session's Stop hook carries the completion signal.
func (s *Server) hookSubagentStop(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, err.Error())
		return
	}
	slog.Info("subagent stop hook received", "session_id", payload["session_id"])
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
